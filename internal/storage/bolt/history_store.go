package bolt

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/goodtune/unplug/internal/storage"
	"go.etcd.io/bbolt"
)

type historyStore struct {
	db *bbolt.DB
}

func (s *historyStore) Record(ctx context.Context, usage storage.DailyUsage) error {
	if _, err := time.Parse(storage.DateLayout, usage.Date); err != nil {
		return fmt.Errorf("invalid history date: %w", err)
	}
	data, err := marshal(usage)
	if err != nil {
		return err
	}
	return putBucketValue(ctx, s.db, bucketHistory, dailyUsageKey(usage.Date, usage.AppIdentifier), data)
}

func (s *historyStore) List(ctx context.Context, date string) ([]storage.DailyUsage, error) {
	prefix := []byte(date + "/")
	usages := make([]storage.DailyUsage, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketHistory))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var usage storage.DailyUsage
			if err := unmarshal(v, &usage); err != nil {
				return err
			}
			usages = append(usages, usage)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return usages, nil
}

func (s *historyStore) DeleteBefore(ctx context.Context, cutoffDate string) (int, error) {
	cutoff, err := time.Parse(storage.DateLayout, cutoffDate)
	if err != nil {
		return 0, fmt.Errorf("invalid cutoff date: %w", err)
	}
	deleted := 0
	err = s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketHistory))
		if b == nil {
			return nil
		}
		var stale [][]byte
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var usage storage.DailyUsage
			if err := unmarshal(v, &usage); err != nil {
				return err
			}
			dateValue, err := time.Parse(storage.DateLayout, usage.Date)
			if err != nil {
				continue
			}
			if dateValue.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

func dailyUsageKey(date, appID string) string {
	return fmt.Sprintf("%s/%s", date, appID)
}
