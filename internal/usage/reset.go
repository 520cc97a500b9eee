package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/unplug/internal/limits"
	"github.com/goodtune/unplug/internal/metrics"
	"github.com/goodtune/unplug/internal/storage"
	"github.com/rs/zerolog"
)

const purgeTimeout = 30 * time.Second

// Roller is the part of the ledger the scheduler drives.
type Roller interface {
	Rollover() []limits.LimitRecord
}

// ResetConfig configures a ResetScheduler.
type ResetConfig struct {
	ResetTime     string // HH:MM
	RetentionDays int    // 0 keeps history forever
	Location      *time.Location
	Clock         limits.Clock
}

// ResetScheduler manages daily usage resets
type ResetScheduler struct {
	ledger        Roller
	history       storage.HistoryStore
	resetTime     time.Time // Time of day to reset (only hour and minute are used)
	retentionDays int
	location      *time.Location
	clock         limits.Clock
	logger        zerolog.Logger
	stopChan      chan struct{}
	doneChan      chan struct{}
}

// NewResetScheduler creates a new reset scheduler. history may be nil to
// skip retention.
func NewResetScheduler(ledger Roller, history storage.HistoryStore, cfg ResetConfig, logger zerolog.Logger) (*ResetScheduler, error) {
	// Parse reset time (HH:MM format)
	parsedTime, err := time.Parse("15:04", cfg.ResetTime)
	if err != nil {
		return nil, fmt.Errorf("invalid reset time %q: %w", cfg.ResetTime, err)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Clock == nil {
		cfg.Clock = limits.RealClock{}
	}

	rs := &ResetScheduler{
		ledger:        ledger,
		history:       history,
		resetTime:     parsedTime,
		retentionDays: cfg.RetentionDays,
		location:      cfg.Location,
		clock:         cfg.Clock,
		logger:        logger.With().Str("component", "reset-scheduler").Logger(),
		stopChan:      make(chan struct{}),
		doneChan:      make(chan struct{}),
	}

	return rs, nil
}

// Start begins the reset scheduler
func (rs *ResetScheduler) Start() {
	go rs.run()
	rs.logger.Info().
		Str("reset_time", rs.resetTime.Format("15:04")).
		Int("retention_days", rs.retentionDays).
		Msg("Daily usage reset scheduler started")
}

// Stop stops the reset scheduler and waits for an in-progress reset.
func (rs *ResetScheduler) Stop() {
	close(rs.stopChan)
	<-rs.doneChan
	rs.logger.Info().Msg("Daily usage reset scheduler stopped")
}

// run is the main scheduler loop
func (rs *ResetScheduler) run() {
	defer close(rs.doneChan)

	for {
		nextReset := rs.calculateNextReset(rs.clock.Now())
		waitDuration := nextReset.Sub(rs.clock.Now())

		rs.logger.Info().
			Time("next_reset", nextReset).
			Dur("wait_duration", waitDuration).
			Msg("Scheduled next daily reset")

		timer := time.NewTimer(waitDuration)
		select {
		case <-timer.C:
			rs.PerformReset(context.Background())
		case <-rs.stopChan:
			timer.Stop()
			return
		}
	}
}

// calculateNextReset returns the first reset time strictly after now.
func (rs *ResetScheduler) calculateNextReset(now time.Time) time.Time {
	now = now.In(rs.location)

	todayReset := time.Date(
		now.Year(), now.Month(), now.Day(),
		rs.resetTime.Hour(), rs.resetTime.Minute(), 0, 0,
		rs.location,
	)

	// If we've already reached today's reset time, schedule for tomorrow
	if !now.Before(todayReset) {
		return todayReset.AddDate(0, 0, 1)
	}

	return todayReset
}

// PerformReset rolls every record over to today and purges history older
// than the retention period.
func (rs *ResetScheduler) PerformReset(ctx context.Context) {
	rs.logger.Info().Msg("Performing daily usage reset")

	reset := rs.ledger.Rollover()
	rs.logger.Info().Int("records_reset", len(reset)).Msg("Daily usage reset complete")

	if rs.history == nil || rs.retentionDays <= 0 {
		return
	}

	cutoffDate := limits.DateOf(rs.clock.Now().In(rs.location)).AddDays(-rs.retentionDays).String()

	ctx, cancel := context.WithTimeout(ctx, purgeTimeout)
	defer cancel()

	deleted, err := rs.history.DeleteBefore(ctx, cutoffDate)
	if err != nil {
		rs.logger.Error().Err(err).Msg("Failed to clean up old daily usage data")
		return
	}

	metrics.HistoryPurged.Add(float64(deleted))
	rs.logger.Info().
		Int("rows_deleted", deleted).
		Str("cutoff_date", cutoffDate).
		Msg("Old daily usage history cleaned up")
}
