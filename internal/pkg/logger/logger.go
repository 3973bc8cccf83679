// Package logger configures the global zerolog logger.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"travel-points/internal/config"
)

// Setup points the global logger at stderr (console or JSON) and, when
// cfg.File is set, at a size-rotated log file as well.
// The returned closer flushes the file sink and is safe to call when no
// file is configured.
func Setup(cfg config.LogConfig) io.Closer {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var console io.Writer = os.Stderr
	if cfg.Format != "json" {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	if cfg.File == "" {
		log.Logger = zerolog.New(console).With().Timestamp().Logger()
		return nopCloser{}
	}

	if dir := filepath.Dir(cfg.File); dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    nonZero(cfg.MaxSizeMB, 100),
		MaxBackups: nonZero(cfg.MaxBackups, 3),
		MaxAge:     nonZero(cfg.MaxAgeDays, 7),
		Compress:   cfg.Compress,
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(console, file)).With().Timestamp().Logger()
	return file
}

func nonZero(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
