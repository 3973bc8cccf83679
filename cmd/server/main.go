// Package main is the entry point for the TravelPoints server. It serves
// the HTTP API and, when a bot token is configured, the Telegram bot.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"travel-points/internal/bot"
	"travel-points/internal/config"
	"travel-points/internal/geo"
	"travel-points/internal/handler"
	"travel-points/internal/httpapi"
	"travel-points/internal/pkg/db"
	"travel-points/internal/pkg/lock"
	"travel-points/internal/pkg/logger"
	"travel-points/internal/repository"
	"travel-points/internal/repository/memory"
	"travel-points/internal/service"
)

var (
	_ service.Store = (*repository.Postgres)(nil)
	_ service.Store = (*memory.Store)(nil)
)

// lockWait bounds how long a city lock is awaited before giving up.
const lockWait = 30 * time.Second

func main() {
	configDir := flag.String("config", "config", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	closer := logger.Setup(cfg.Log)
	defer closer.Close()

	log.Info().
		Str("store", cfg.Store.Driver).
		Float64("radius_meters", cfg.Proximity.RadiusMeters).
		Msg("Configuration loaded successfully")
	if cfg.Proximity.DebugBypass {
		log.Warn().Msg("Proximity debug bypass is ON, every check-in passes the distance check")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, health, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer cleanup()

	// User locks stay in-process; progress writes are conditional so a
	// second instance cannot double count. City locks guard generation
	// and go through Redis when it is configured.
	userLock := lock.NewKeyedLock(0)
	var cityLock lock.Locker = lock.NewKeyedLock(lockWait)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Failed to connect to redis")
		}
		cityLock = lock.NewRedisLock(client, cfg.Redis.LockTTL, lockWait)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Using redis for city locks")
	}

	validator := geo.NewValidator(cfg.Proximity.RadiusMeters, cfg.Proximity.DebugBypass)
	reconcileService := service.NewReconcileService(store, userLock)
	checkInService := service.NewCheckInService(store, validator, reconcileService, service.CheckInOptions{
		LocationTimeout: cfg.Proximity.LocationTimeout,
		EffectTimeout:   cfg.Proximity.EffectTimeout,
	})
	discoveryService := service.NewDiscoveryService(store, cityLock, nil, service.DiscoveryOptions{
		MinPoints:       cfg.Discovery.MinPoints,
		MaxPoints:       cfg.Discovery.MaxPoints,
		CollectionSize:  cfg.Discovery.CollectionSize,
		ExplorerSize:    cfg.Discovery.ExplorerSize,
		NearbyLimit:     cfg.Discovery.NearbyLimit,
		ChallengeExpiry: time.Duration(cfg.Discovery.ChallengeExpiryHours) * time.Hour,
	})
	accountService := service.NewAccountService(store)
	rankingService := service.NewRankingService(store, time.Local)

	if cfg.Store.Seed {
		if err := seedPlaces(ctx, discoveryService); err != nil {
			log.Fatal().Err(err).Msg("Failed to seed places")
		}
	}

	server := httpapi.NewServer(httpapi.Services{
		CheckIns:  checkInService,
		Reconcile: reconcileService,
		Discovery: discoveryService,
		Accounts:  accountService,
		Ranking:   rankingService,
	}, httpapi.Options{
		Addr:              cfg.Server.Addr,
		Mode:              cfg.Server.Mode,
		JWTSecret:         cfg.Auth.JWTSecret,
		Issuer:            cfg.Auth.Issuer,
		CheckInsPerMinute: cfg.RateLimit.CheckInsPerMinute,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		IsAdmin:           cfg.IsAdmin,
		Health:            health,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })

	if cfg.Bot.Token != "" {
		telegramBot, err := bot.New(&bot.Dependencies{
			Config:           cfg,
			AccountService:   accountService,
			RankingService:   rankingService,
			CheckInService:   checkInService,
			ReconcileService: reconcileService,
			DiscoveryService: discoveryService,
			Locations:        handler.NewLocationCache(cfg.Bot.LocationMaxAge),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create bot")
		}
		g.Go(func() error { return telegramBot.Run(gctx) })
	} else {
		log.Info().Msg("No bot token configured, Telegram bot disabled")
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Stopped gracefully")
}

// openStore returns the configured backend, a readiness check and a
// cleanup function.
func openStore(ctx context.Context, cfg *config.Config) (service.Store, func(context.Context) error, func(), error) {
	if cfg.Store.Driver == "memory" {
		log.Warn().Msg("Using in-memory store, data is lost on restart")
		return memory.New(), nil, func() {}, nil
	}

	pool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	return repository.NewPostgres(pool.Pool), pool.HealthCheck, pool.Close, nil
}
