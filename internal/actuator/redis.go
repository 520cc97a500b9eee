package actuator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Change is published on the channel every time the blocked set is replaced.
type Change struct {
	Blocked   []string  `json:"blocked"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Redis stores the blocked set in a Redis set and announces each change on a
// pub/sub channel for device agents to apply.
type Redis struct {
	client  *redis.Client
	key     string
	channel string
	logger  zerolog.Logger
}

// NewRedis creates a Redis actuator.
func NewRedis(client *redis.Client, key, channel string, logger zerolog.Logger) *Redis {
	return &Redis{
		client:  client,
		key:     key,
		channel: channel,
		logger:  logger.With().Str("component", "actuator").Str("backend", "redis").Logger(),
	}
}

// SetBlocked replaces the stored set and publishes it.
func (a *Redis) SetBlocked(ctx context.Context, appIdentifiers []string) error {
	return a.replace(ctx, appIdentifiers)
}

// ClearBlocked empties the stored set and publishes the empty set.
func (a *Redis) ClearBlocked(ctx context.Context) error {
	return a.replace(ctx, nil)
}

func (a *Redis) replace(ctx context.Context, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	payload, err := json.Marshal(Change{Blocked: ids, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal blocked set: %w", err)
	}

	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}

	_, err = a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, a.key)
		if len(members) > 0 {
			pipe.SAdd(ctx, a.key, members...)
		}
		pipe.Publish(ctx, a.channel, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace blocked set: %w", err)
	}

	a.logger.Debug().Strs("blocked", ids).Str("key", a.key).Msg("Blocked set published")
	return nil
}

// Blocked returns the set a device agent currently reads, sorted.
func (a *Redis) Blocked(ctx context.Context) ([]string, error) {
	ids, err := a.client.SMembers(ctx, a.key).Result()
	if err != nil {
		return nil, fmt.Errorf("read blocked set: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}
