package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/unplug/internal/config"
	"github.com/goodtune/unplug/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client       *redis.Client
	limitStore   *limitStore
	historyStore *historyStore
}

// NewClient builds a Redis client from configuration without connecting.
func NewClient(cfg config.RedisConfig) (*redis.Client, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Host may already carry the port
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}), nil
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{
		client:       client,
		limitStore:   &limitStore{client: client, key: cfg.KeyPrefix + ":limits"},
		historyStore: &historyStore{client: client, prefix: cfg.KeyPrefix},
	}, nil
}

// SetHistoryRetention expires history day keys a day after they leave the
// retention window. Zero days keeps them until DeleteBefore removes them.
func (s *Store) SetHistoryRetention(days int) {
	s.historyStore.ttl = historyTTL(days)
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Limits returns the LimitStore implementation
func (s *Store) Limits() storage.LimitStore {
	return s.limitStore
}

// History returns the HistoryStore implementation
func (s *Store) History() storage.HistoryStore {
	return s.historyStore
}
