package limits

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/unplug/internal/metrics"
	"github.com/goodtune/unplug/internal/storage"
	"github.com/rs/zerolog"
)

const writeTimeout = 10 * time.Second

// writer persists ledger snapshots off the caller's path. Submissions are
// coalesced: only the newest full record set is written.
type writer struct {
	store  storage.Store
	logger zerolog.Logger

	mu       sync.Mutex
	snapshot []storage.LimitRecord
	dirty    bool
	history  []storage.DailyUsage

	kick     chan struct{}
	flushReq chan chan error
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	closeErr error // result of the final drain, read after done
}

func newWriter(store storage.Store, logger zerolog.Logger) *writer {
	w := &writer{
		store:    store,
		logger:   logger,
		kick:     make(chan struct{}, 1),
		flushReq: make(chan chan error),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

// submit replaces the pending snapshot and queues history entries.
func (w *writer) submit(snapshot []storage.LimitRecord, history []storage.DailyUsage) {
	w.mu.Lock()
	w.snapshot = snapshot
	w.dirty = true
	w.history = append(w.history, history...)
	w.mu.Unlock()

	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *writer) run() {
	defer close(w.done)
	for {
		select {
		case <-w.kick:
			_ = w.drain()
		case reply := <-w.flushReq:
			reply <- w.drain()
		case <-w.stop:
			w.closeErr = w.drain()
			return
		}
	}
}

func (w *writer) drain() error {
	w.mu.Lock()
	snapshot, dirty := w.snapshot, w.dirty
	history := w.history
	w.dirty = false
	w.history = nil
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var (
		firstErr error
		failed   []storage.DailyUsage
	)
	for _, entry := range history {
		if err := w.store.History().Record(ctx, entry); err != nil {
			metrics.PersistErrors.WithLabelValues("history").Inc()
			w.logger.Error().Err(err).
				Str("app", entry.AppIdentifier).
				Str("date", entry.Date).
				Msg("Failed to record daily usage history")
			failed = append(failed, entry)
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: history: %v", ErrPersistence, err)
			}
		}
	}
	if len(failed) > 0 {
		// Retry on the next drain, ahead of entries queued since.
		w.mu.Lock()
		w.history = append(failed, w.history...)
		w.mu.Unlock()
	}

	if !dirty {
		return firstErr
	}

	start := time.Now()
	if err := w.store.Limits().Save(ctx, snapshot); err != nil {
		metrics.PersistErrors.WithLabelValues("limits").Inc()
		w.logger.Error().Err(err).Int("records", len(snapshot)).Msg("Failed to persist limits")

		// Keep the failed snapshot pending unless a newer one arrived.
		w.mu.Lock()
		if !w.dirty {
			w.snapshot = snapshot
			w.dirty = true
		}
		w.mu.Unlock()

		if firstErr == nil {
			firstErr = fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		return firstErr
	}
	metrics.PersistWrites.Inc()
	metrics.PersistDuration.Observe(time.Since(start).Seconds())
	w.logger.Debug().Int("records", len(snapshot)).Msg("Persisted limits")
	return firstErr
}

// flush writes anything pending and returns the outcome of that write.
func (w *writer) flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case w.flushReq <- reply:
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close drains pending writes, stops the worker and returns the outcome of
// the final write.
func (w *writer) close(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stop) })
	select {
	case <-w.done:
		return w.closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}
