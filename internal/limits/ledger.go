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

// Options configures a Ledger.
type Options struct {
	// Clock defaults to RealClock.
	Clock Clock
	// Location decides calendar-day boundaries. Defaults to time.Local.
	Location *time.Location
}

// Ledger owns every LimitRecord. Mutations are serialized by a single lock;
// reads may run concurrently with each other. Persistence happens in the
// background and never blocks a mutation.
type Ledger struct {
	mu        sync.RWMutex
	records   []LimitRecord
	index     map[string]int
	observers []Observer

	clock    Clock
	location *time.Location
	store    storage.Store
	writer   *writer
	logger   zerolog.Logger
}

// NewLedger creates an empty ledger. A nil store keeps state in memory only.
func NewLedger(store storage.Store, opts Options, logger zerolog.Logger) *Ledger {
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	l := &Ledger{
		index:    make(map[string]int),
		clock:    opts.Clock,
		location: opts.Location,
		store:    store,
		logger:   logger.With().Str("component", "ledger").Logger(),
	}
	if store != nil {
		l.writer = newWriter(store, l.logger)
	}
	return l
}

// Subscribe registers an observer for all subsequent mutations.
func (l *Ledger) Subscribe(o Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, o)
}

// Today returns the current calendar date in the ledger's location.
func (l *Ledger) Today() Date {
	return DateOf(l.clock.Now().In(l.location))
}

// Load replaces the in-memory state with the persisted record set. Records
// without a valid last reset date are treated as reset today.
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	stored, err := l.store.Limits().Load(ctx)
	if err != nil {
		return fmt.Errorf("load limits: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	today := l.Today()
	repaired := false
	records := make([]LimitRecord, 0, len(stored))
	index := make(map[string]int, len(stored))
	for _, s := range stored {
		if s.AppIdentifier == "" || s.DailyLimitSeconds < 0 || s.UsedSecondsToday < 0 {
			l.logger.Warn().Str("app", s.AppIdentifier).Msg("Dropping invalid persisted limit")
			repaired = true
			continue
		}
		if _, dup := index[s.AppIdentifier]; dup {
			l.logger.Warn().Str("app", s.AppIdentifier).Msg("Dropping duplicate persisted limit")
			repaired = true
			continue
		}
		rec := LimitRecord{
			AppIdentifier:     s.AppIdentifier,
			DisplayName:       s.DisplayName,
			DailyLimitSeconds: s.DailyLimitSeconds,
			UsedSecondsToday:  s.UsedSecondsToday,
		}
		if date, err := ParseDate(s.LastResetDate); err == nil {
			rec.LastResetDate = date
		} else {
			rec.LastResetDate = today
			repaired = true
		}
		index[rec.AppIdentifier] = len(records)
		records = append(records, rec)
	}

	for _, old := range l.records {
		metrics.UsedSecondsToday.DeleteLabelValues(old.AppIdentifier)
	}
	l.records = records
	l.index = index
	for _, rec := range l.records {
		metrics.UsedSecondsToday.WithLabelValues(rec.AppIdentifier).Set(float64(rec.UsedSecondsToday))
		l.emit(Event{Kind: EventRestored, Record: rec})
	}
	metrics.TrackedApps.Set(float64(len(l.records)))

	if repaired {
		l.persistLocked(nil)
	}

	l.logger.Info().Int("records", len(l.records)).Msg("Loaded limits from storage")
	return nil
}

// AddLimit creates a record with zero usage, reset today.
func (l *Ledger) AddLimit(appID, displayName string, dailyLimitSeconds int64) (LimitRecord, error) {
	if appID == "" {
		return LimitRecord{}, fmt.Errorf("%w: app identifier is required", ErrValidation)
	}
	if dailyLimitSeconds < 0 {
		return LimitRecord{}, fmt.Errorf("%w: daily limit %d for %s", ErrValidation, dailyLimitSeconds, appID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.index[appID]; ok {
		return LimitRecord{}, fmt.Errorf("%w: %s", ErrDuplicateApp, appID)
	}

	rec := LimitRecord{
		AppIdentifier:     appID,
		DisplayName:       displayName,
		DailyLimitSeconds: dailyLimitSeconds,
		LastResetDate:     l.Today(),
	}
	l.index[appID] = len(l.records)
	l.records = append(l.records, rec)

	metrics.TrackedApps.Set(float64(len(l.records)))
	metrics.UsedSecondsToday.WithLabelValues(appID).Set(0)

	l.persistLocked(nil)
	l.emit(Event{Kind: EventAdded, Record: rec})

	l.logger.Info().
		Str("app", appID).
		Str("name", displayName).
		Int64("daily_limit_seconds", dailyLimitSeconds).
		Msg("Added limit")
	return rec, nil
}

// AddSelection adds a limit for an app chosen in the picker.
func (l *Ledger) AddSelection(c SelectionCandidate, dailyLimitSeconds int64) (LimitRecord, error) {
	return l.AddLimit(c.AppIdentifier, c.DisplayName, dailyLimitSeconds)
}

// RemoveLimit deletes the app's record.
func (l *Ledger) RemoveLimit(appID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[appID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, appID)
	}
	removed := l.records[i]

	l.records = append(l.records[:i], l.records[i+1:]...)
	delete(l.index, appID)
	for j := i; j < len(l.records); j++ {
		l.index[l.records[j].AppIdentifier] = j
	}

	metrics.TrackedApps.Set(float64(len(l.records)))
	metrics.UsedSecondsToday.DeleteLabelValues(appID)

	l.persistLocked(nil)
	l.emit(Event{Kind: EventRemoved, Previous: removed, Record: removed})

	l.logger.Info().Str("app", appID).Msg("Removed limit")
	return nil
}

// ReportUsage records the cumulative seconds the app has been used today.
// The value replaces the stored usage; it is not added to it. A record last
// reset on an earlier day is rolled over first.
func (l *Ledger) ReportUsage(appID string, usedSecondsToday int64) (LimitRecord, error) {
	if usedSecondsToday < 0 {
		return LimitRecord{}, fmt.Errorf("%w: used seconds %d for %s", ErrValidation, usedSecondsToday, appID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[appID]
	if !ok {
		return LimitRecord{}, fmt.Errorf("%w: %s", ErrNotFound, appID)
	}

	prev := l.records[i]
	rec, archived, rolled := l.rollover(prev, l.Today())
	rec.UsedSecondsToday = usedSecondsToday
	l.records[i] = rec

	metrics.UsageReportsTotal.WithLabelValues(appID).Inc()
	metrics.UsedSecondsToday.WithLabelValues(appID).Set(float64(usedSecondsToday))

	if rec != prev {
		l.persistLocked(archived)
	}
	l.emit(Event{Kind: EventUsageReported, Previous: prev, Record: rec, Rollover: rolled})

	l.logger.Debug().
		Str("app", appID).
		Int64("used_seconds", usedSecondsToday).
		Int64("remaining_seconds", rec.RemainingSeconds()).
		Bool("exceeded", rec.IsExceeded()).
		Msg("Usage reported")
	return rec, nil
}

// SetDailyLimit changes the app's daily limit. Today's usage is kept.
func (l *Ledger) SetDailyLimit(appID string, dailyLimitSeconds int64) (LimitRecord, error) {
	if dailyLimitSeconds < 0 {
		return LimitRecord{}, fmt.Errorf("%w: daily limit %d for %s", ErrValidation, dailyLimitSeconds, appID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[appID]
	if !ok {
		return LimitRecord{}, fmt.Errorf("%w: %s", ErrNotFound, appID)
	}

	prev := l.records[i]
	rec := prev
	rec.DailyLimitSeconds = dailyLimitSeconds
	l.records[i] = rec

	if rec != prev {
		l.persistLocked(nil)
	}
	l.emit(Event{Kind: EventLimitChanged, Previous: prev, Record: rec})

	l.logger.Info().
		Str("app", appID).
		Int64("daily_limit_seconds", dailyLimitSeconds).
		Msg("Updated daily limit")
	return rec, nil
}

// Rollover resets every record last reset before today and returns the
// records that were reset.
func (l *Ledger) Rollover() []LimitRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	today := l.Today()
	var (
		reset    []LimitRecord
		archived []storage.DailyUsage
	)
	for i, prev := range l.records {
		rec, entry, rolled := l.rollover(prev, today)
		if !rolled {
			continue
		}
		l.records[i] = rec
		reset = append(reset, rec)
		archived = append(archived, entry...)
		metrics.UsedSecondsToday.WithLabelValues(rec.AppIdentifier).Set(0)
		l.emit(Event{Kind: EventRolledOver, Previous: prev, Record: rec, Rollover: true})
	}

	if len(reset) > 0 {
		l.persistLocked(archived)
		l.logger.Info().Int("records", len(reset)).Str("date", today.String()).Msg("Rolled over daily usage")
	}
	return reset
}

// rollover returns rec reset for today, plus the history entry for the day
// being closed. A record already on today is returned unchanged.
func (l *Ledger) rollover(rec LimitRecord, today Date) (LimitRecord, []storage.DailyUsage, bool) {
	if rec.LastResetDate == today {
		return rec, nil, false
	}
	var entry []storage.DailyUsage
	if !rec.LastResetDate.IsZero() {
		entry = append(entry, storage.DailyUsage{
			Date:          rec.LastResetDate.String(),
			AppIdentifier: rec.AppIdentifier,
			TotalSeconds:  rec.UsedSecondsToday,
		})
	}
	rec.UsedSecondsToday = 0
	rec.LastResetDate = today
	metrics.DayRollovers.Inc()
	return rec, entry, true
}

// Get returns the record for appID.
func (l *Ledger) Get(appID string) (LimitRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i, ok := l.index[appID]
	if !ok {
		return LimitRecord{}, false
	}
	return l.records[i], true
}

// ListLimits returns all records in insertion order.
func (l *Ledger) ListLimits() []LimitRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]LimitRecord, len(l.records))
	copy(out, l.records)
	return out
}

// TotalUsedSecondsToday sums today's usage across all records.
func (l *Ledger) TotalUsedSecondsToday() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total int64
	for _, rec := range l.records {
		total += rec.UsedSecondsToday
	}
	return total
}

// Flush waits until every mutation so far has been written to storage.
func (l *Ledger) Flush(ctx context.Context) error {
	if l.writer == nil {
		return nil
	}
	return l.writer.flush(ctx)
}

// Close flushes pending writes and stops the background writer. It does not
// close the underlying store.
func (l *Ledger) Close(ctx context.Context) error {
	if l.writer == nil {
		return nil
	}
	return l.writer.close(ctx)
}

// persistLocked hands the full record set to the writer. Callers hold l.mu.
func (l *Ledger) persistLocked(history []storage.DailyUsage) {
	if l.writer == nil {
		return
	}
	snapshot := make([]storage.LimitRecord, len(l.records))
	for i, rec := range l.records {
		snapshot[i] = rec.toStorage()
	}
	l.writer.submit(snapshot, history)
}

func (l *Ledger) emit(e Event) {
	for _, o := range l.observers {
		o.OnLedgerEvent(e)
	}
}
