package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goodtune/unplug/internal/config"
	"github.com/goodtune/unplug/internal/limits"
	"github.com/goodtune/unplug/internal/storage"
	"github.com/goodtune/unplug/internal/storage/bolt"
	"github.com/goodtune/unplug/internal/storage/redis"
	"github.com/goodtune/unplug/internal/storage/sqlite"
	"github.com/rs/zerolog"
)

const cliTimeout = 10 * time.Second

func openStorage(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "bolt":
		return bolt.Open(cfg.Storage.Path)
	case "sqlite":
		return sqlite.Open(cfg.Storage.Path)
	case "redis":
		store, err := redis.Open(cfg.Storage.Redis)
		if err != nil {
			return nil, err
		}
		store.SetHistoryRetention(cfg.Usage.HistoryRetentionDays)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(level)
	}

	// Default to JSON
	return zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// session is the config, store and loaded ledger shared by the one-shot
// subcommands.
type session struct {
	cfg    *config.Config
	store  storage.Store
	ledger *limits.Ledger
	logger zerolog.Logger
}

// openSession loads configuration and the persisted ledger, rolling any
// stale records over to today.
func openSession(ctx context.Context) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Subcommands only log problems
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "text"})

	loc, err := cfg.Usage.Location()
	if err != nil {
		return nil, err
	}

	store, err := openStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	ledger := limits.NewLedger(store, limits.Options{Location: loc}, logger)
	if err := ledger.Load(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to load limits: %w", err)
	}
	ledger.Rollover()

	return &session{cfg: cfg, store: store, ledger: ledger, logger: logger}, nil
}

// close writes pending changes and releases the store.
func (s *session) close(ctx context.Context) error {
	flushErr := s.ledger.Close(ctx)
	if err := s.store.Close(); err != nil && flushErr == nil {
		return err
	}
	return flushErr
}
