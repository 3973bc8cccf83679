// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Bot       BotConfig       `mapstructure:"bot"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Proximity ProximityConfig `mapstructure:"proximity"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Store     StoreConfig     `mapstructure:"store"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// BotConfig holds Telegram bot configuration.
// An empty token disables the bot adapter.
type BotConfig struct {
	Token          string        `mapstructure:"token"`
	LocationMaxAge time.Duration `mapstructure:"location_max_age"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// RedisConfig holds the optional Redis connection used for cross-instance locks.
// An empty address keeps locking in-process.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// AuthConfig holds bearer token verification settings for the HTTP API.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// AdminConfig holds admin user configuration.
type AdminConfig struct {
	IDs []int64 `mapstructure:"ids"`
}

// ProximityConfig holds the check-in geofence settings.
// Both values are static once loaded.
type ProximityConfig struct {
	RadiusMeters    float64       `mapstructure:"radius_meters"`
	DebugBypass     bool          `mapstructure:"debug_bypass"`
	LocationTimeout time.Duration `mapstructure:"location_timeout"`
	EffectTimeout   time.Duration `mapstructure:"effect_timeout"`
}

// DiscoveryConfig holds challenge generation settings.
type DiscoveryConfig struct {
	MinPoints            int64 `mapstructure:"min_points"`
	MaxPoints            int64 `mapstructure:"max_points"`
	CollectionSize       int   `mapstructure:"collection_size"`
	ExplorerSize         int   `mapstructure:"explorer_size"`
	NearbyLimit          int   `mapstructure:"nearby_limit"`
	ChallengeExpiryHours int   `mapstructure:"challenge_expiry_hours"`
}

// RateLimitConfig holds the per-user check-in rate limit.
type RateLimitConfig struct {
	CheckInsPerMinute int `mapstructure:"checkins_per_minute"`
}

// StoreConfig selects the persistence backend ("postgres" or "memory").
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	Seed   bool   `mapstructure:"seed"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory. A .env file in the
// working directory is loaded into the environment first when present.
func Load(configPath string) (*Config, error) {
	// Missing .env is fine, production injects the environment directly
	_ = godotenv.Load()

	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g. DATABASE_HOST, PROXIMITY_RADIUS_METERS, BOT_TOKEN
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("bot.location_max_age", "2m")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "travelpoints")
	v.SetDefault("database.name", "travelpoints")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("redis.lock_ttl", "30s")

	v.SetDefault("auth.issuer", "")

	v.SetDefault("proximity.radius_meters", 300)
	v.SetDefault("proximity.debug_bypass", false)
	v.SetDefault("proximity.location_timeout", "15s")
	v.SetDefault("proximity.effect_timeout", "5s")

	v.SetDefault("discovery.min_points", 50)
	v.SetDefault("discovery.max_points", 150)
	v.SetDefault("discovery.collection_size", 3)
	v.SetDefault("discovery.explorer_size", 5)
	v.SetDefault("discovery.nearby_limit", 50)
	v.SetDefault("discovery.challenge_expiry_hours", 0)

	v.SetDefault("ratelimit.checkins_per_minute", 6)

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.seed", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 7)
}

// Validate checks values that would otherwise fail deep inside a service.
func (c *Config) Validate() error {
	if c.Proximity.RadiusMeters <= 0 {
		return fmt.Errorf("proximity.radius_meters must be positive, got %v", c.Proximity.RadiusMeters)
	}
	if c.Discovery.MinPoints <= 0 || c.Discovery.MaxPoints < c.Discovery.MinPoints {
		return fmt.Errorf("invalid discovery point range [%d, %d]", c.Discovery.MinPoints, c.Discovery.MaxPoints)
	}
	if c.Discovery.CollectionSize < 1 {
		return fmt.Errorf("discovery.collection_size must be at least 1")
	}
	switch c.Store.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	return nil
}

// IsAdmin checks if a user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Admin.IDs {
		if id == userID {
			return true
		}
	}
	return false
}
