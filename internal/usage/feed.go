package usage

import (
	"context"
	"errors"
	"time"

	"github.com/goodtune/unplug/internal/limits"
	"github.com/rs/zerolog"
)

// Sample is the cumulative time an app has been in the foreground today.
// It is an absolute value, not a delta since the previous sample.
type Sample struct {
	AppIdentifier    string `json:"app_identifier"`
	UsedSecondsToday int64  `json:"used_seconds_today"`
}

// Source supplies usage samples. Cadence and accuracy are up to the source.
type Source interface {
	Samples(ctx context.Context) ([]Sample, error)
}

// Reporter accepts usage samples.
type Reporter interface {
	ReportUsage(appID string, usedSecondsToday int64) (limits.LimitRecord, error)
}

// Feed polls a Source and reports every sample to the ledger.
type Feed struct {
	source   Source
	reporter Reporter
	interval time.Duration
	logger   zerolog.Logger
}

// NewFeed creates a feed polling source every interval.
func NewFeed(source Source, reporter Reporter, interval time.Duration, logger zerolog.Logger) *Feed {
	return &Feed{
		source:   source,
		reporter: reporter,
		interval: interval,
		logger:   logger.With().Str("component", "usage-feed").Logger(),
	}
}

// Run polls until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	f.logger.Info().Dur("interval", f.interval).Msg("Usage feed started")

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		if _, err := f.Poll(ctx); err != nil {
			f.logger.Warn().Err(err).Msg("Usage poll failed")
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			f.logger.Info().Msg("Usage feed stopped")
			return nil
		}
	}
}

// Poll fetches one batch of samples and reports them. Samples for apps
// without a limit are ignored. It returns how many samples were applied.
func (f *Feed) Poll(ctx context.Context) (int, error) {
	samples, err := f.source.Samples(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, s := range samples {
		_, err := f.reporter.ReportUsage(s.AppIdentifier, s.UsedSecondsToday)
		switch {
		case err == nil:
			applied++
		case errors.Is(err, limits.ErrNotFound):
			f.logger.Debug().Str("app", s.AppIdentifier).Msg("Ignoring usage for app without a limit")
		default:
			f.logger.Warn().Err(err).Str("app", s.AppIdentifier).Msg("Rejected usage sample")
		}
	}
	return applied, nil
}
