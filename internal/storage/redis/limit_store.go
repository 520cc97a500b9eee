package redis

import (
	"context"
	"errors"

	"github.com/goodtune/unplug/internal/storage"
	"github.com/redis/go-redis/v9"
)

type limitStore struct {
	client *redis.Client
	key    string
}

// Save replaces the stored record set with a single SET
func (s *limitStore) Save(ctx context.Context, records []storage.LimitRecord) error {
	data, err := storage.EncodeLimits(records)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key, data, 0).Err()
}

// Load returns the stored record set, empty when nothing was saved yet
func (s *limitStore) Load(ctx context.Context) ([]storage.LimitRecord, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []storage.LimitRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	return storage.DecodeLimits(data)
}
