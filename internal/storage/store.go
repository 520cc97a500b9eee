package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Limits() LimitStore
	History() HistoryStore
}

// LimitStore persists the ordered set of configured app limits.
// Save always replaces the full set; there is no partial update.
type LimitStore interface {
	Save(ctx context.Context, records []LimitRecord) error
	Load(ctx context.Context) ([]LimitRecord, error)
}

// HistoryStore keeps one final usage total per app per day.
type HistoryStore interface {
	Record(ctx context.Context, usage DailyUsage) error
	// List returns a day's totals ordered by app identifier.
	List(ctx context.Context, date string) ([]DailyUsage, error)
	DeleteBefore(ctx context.Context, cutoffDate string) (int, error)
}
