package enforcement

import (
	"context"
	"time"

	"github.com/goodtune/unplug/internal/limits"
)

// Facts is everything an Evaluator may consider for one app.
type Facts struct {
	AppIdentifier           string `json:"app_identifier"`
	DailyLimitSeconds       int64  `json:"daily_limit_seconds"`
	UsedSecondsToday        int64  `json:"used_seconds_today"`
	RemainingSeconds        int64  `json:"remaining_seconds"`
	Exceeded                bool   `json:"exceeded"`
	WarningThresholdSeconds int64  `json:"warning_threshold_seconds"`
}

// FactsFor builds evaluation facts from a ledger record.
func FactsFor(rec limits.LimitRecord, warningThreshold time.Duration) Facts {
	return Facts{
		AppIdentifier:           rec.AppIdentifier,
		DailyLimitSeconds:       rec.DailyLimitSeconds,
		UsedSecondsToday:        rec.UsedSecondsToday,
		RemainingSeconds:        rec.RemainingSeconds(),
		Exceeded:                rec.IsExceeded(),
		WarningThresholdSeconds: int64(warningThreshold / time.Second),
	}
}

// Evaluator decides the target enforcement state for an app.
type Evaluator interface {
	Evaluate(ctx context.Context, facts Facts) (State, error)
}

// ThresholdEvaluator blocks exceeded apps and warns inside the threshold band.
type ThresholdEvaluator struct{}

// Evaluate implements Evaluator.
func (ThresholdEvaluator) Evaluate(_ context.Context, f Facts) (State, error) {
	return evaluateThreshold(f), nil
}

func evaluateThreshold(f Facts) State {
	switch {
	case f.Exceeded:
		return Blocked
	case f.RemainingSeconds <= f.WarningThresholdSeconds:
		return Warned
	default:
		return Unrestricted
	}
}
