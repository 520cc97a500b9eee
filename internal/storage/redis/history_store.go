package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/goodtune/unplug/internal/storage"
	"github.com/redis/go-redis/v9"
)

type historyStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration // zero keeps day keys until DeleteBefore removes them
}

// historyTTL keeps a day key one day past the retention window so the
// retention sweep, not expiry, is what normally removes it.
func historyTTL(retentionDays int) time.Duration {
	if retentionDays <= 0 {
		return 0
	}
	return time.Duration(retentionDays+1) * 24 * time.Hour
}

func (s *historyStore) dayKey(date string) string {
	return fmt.Sprintf("%s:usage:daily:%s", s.prefix, date)
}

func (s *historyStore) indexKey() string {
	return s.prefix + ":usage:daily:dates"
}

// Record stores the final usage total of an app for a day
func (s *historyStore) Record(ctx context.Context, usage storage.DailyUsage) error {
	if _, err := time.Parse(storage.DateLayout, usage.Date); err != nil {
		return fmt.Errorf("invalid history date: %w", err)
	}

	script := redis.NewScript(recordDailyUsageScript)
	keys := []string{s.dayKey(usage.Date), s.indexKey()}
	args := []interface{}{usage.Date, usage.AppIdentifier, usage.TotalSeconds, int64(s.ttl / time.Second)}

	return script.Run(ctx, s.client, keys, args...).Err()
}

// List returns every archived app total for a date, ordered by app identifier
func (s *historyStore) List(ctx context.Context, date string) ([]storage.DailyUsage, error) {
	data, err := s.client.HGetAll(ctx, s.dayKey(date)).Result()
	if err != nil {
		return nil, err
	}

	usages := make([]storage.DailyUsage, 0, len(data))
	for appID, raw := range data {
		seconds, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse total_seconds for %s: %w", appID, err)
		}
		usages = append(usages, storage.DailyUsage{
			Date:          date,
			AppIdentifier: appID,
			TotalSeconds:  seconds,
		})
	}
	sort.Slice(usages, func(i, j int) bool {
		return usages[i].AppIdentifier < usages[j].AppIdentifier
	})

	return usages, nil
}

// DeleteBefore drops whole days older than the cutoff date
func (s *historyStore) DeleteBefore(ctx context.Context, cutoffDate string) (int, error) {
	cutoff, err := time.Parse(storage.DateLayout, cutoffDate)
	if err != nil {
		return 0, fmt.Errorf("invalid cutoff date: %w", err)
	}

	dates, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return 0, err
	}

	script := redis.NewScript(deleteDailyUsageScript)
	deleted := 0
	for _, date := range dates {
		day, err := time.Parse(storage.DateLayout, date)
		if err != nil || !day.Before(cutoff) {
			continue
		}

		count, err := script.Run(ctx, s.client, []string{s.dayKey(date), s.indexKey()}, date).Int()
		if err != nil {
			return deleted, err
		}
		deleted += count
	}

	return deleted, nil
}
