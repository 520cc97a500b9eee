package usage

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisSource reads samples from a Redis hash of app identifier to
// cumulative seconds today, maintained by an on-device agent.
type RedisSource struct {
	client *redis.Client
	key    string
	logger zerolog.Logger
}

// NewRedisSource creates a source reading the given hash key.
func NewRedisSource(client *redis.Client, key string, logger zerolog.Logger) *RedisSource {
	return &RedisSource{
		client: client,
		key:    key,
		logger: logger.With().Str("component", "usage-source").Logger(),
	}
}

// Samples implements Source.
func (s *RedisSource) Samples(ctx context.Context) ([]Sample, error) {
	data, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("read usage hash %s: %w", s.key, err)
	}

	samples := make([]Sample, 0, len(data))
	for appID, raw := range data {
		seconds, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.logger.Warn().Str("app", appID).Str("value", raw).Msg("Skipping malformed usage value")
			continue
		}
		samples = append(samples, Sample{AppIdentifier: appID, UsedSecondsToday: seconds})
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].AppIdentifier < samples[j].AppIdentifier })
	return samples, nil
}
