package bolt

import (
	"context"
	"errors"

	"github.com/goodtune/unplug/internal/storage"
	"go.etcd.io/bbolt"
)

// limitStore keeps the whole ordered set under a single key, so a Save is
// one atomic Put.
type limitStore struct {
	db *bbolt.DB
}

func (s *limitStore) Save(ctx context.Context, records []storage.LimitRecord) error {
	data, err := storage.EncodeLimits(records)
	if err != nil {
		return err
	}
	return putBucketValue(ctx, s.db, bucketLimits, keyLimitSet, data)
}

func (s *limitStore) Load(ctx context.Context) ([]storage.LimitRecord, error) {
	data, err := getBucketValue(ctx, s.db, bucketLimits, keyLimitSet)
	if errors.Is(err, storage.ErrNotFound) {
		return []storage.LimitRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	return storage.DecodeLimits(data)
}
