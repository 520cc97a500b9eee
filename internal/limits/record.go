package limits

import (
	"fmt"

	"github.com/goodtune/unplug/internal/storage"
)

// LimitRecord tracks one app's daily cap and today's accumulated usage.
type LimitRecord struct {
	AppIdentifier     string `json:"app_identifier"`
	DisplayName       string `json:"display_name"`
	DailyLimitSeconds int64  `json:"daily_limit_seconds"`
	UsedSecondsToday  int64  `json:"used_seconds_today"`
	LastResetDate     Date   `json:"-"`
}

// SelectionCandidate is what the app picker hands back for one chosen app.
type SelectionCandidate struct {
	DisplayName   string `json:"display_name"`
	AppIdentifier string `json:"app_identifier"`
}

// IsExceeded reports whether today's usage reached the limit. A zero limit
// is always exceeded.
func (r LimitRecord) IsExceeded() bool {
	return r.UsedSecondsToday >= r.DailyLimitSeconds
}

// RemainingSeconds returns the time left today, never negative.
func (r LimitRecord) RemainingSeconds() int64 {
	return max(0, r.DailyLimitSeconds-r.UsedSecondsToday)
}

// ProgressFraction returns used/limit clamped to [0, 1]; 0 for a zero limit.
func (r LimitRecord) ProgressFraction() float64 {
	if r.DailyLimitSeconds <= 0 {
		return 0
	}
	return min(1, float64(r.UsedSecondsToday)/float64(r.DailyLimitSeconds))
}

func (r LimitRecord) toStorage() storage.LimitRecord {
	return storage.LimitRecord{
		AppIdentifier:     r.AppIdentifier,
		DisplayName:       r.DisplayName,
		DailyLimitSeconds: r.DailyLimitSeconds,
		UsedSecondsToday:  r.UsedSecondsToday,
		LastResetDate:     r.LastResetDate.String(),
	}
}

// UniqueCandidates drops candidates whose app identifier was already seen,
// keeping the first occurrence.
func UniqueCandidates(candidates []SelectionCandidate) []SelectionCandidate {
	seen := make(map[string]bool, len(candidates))
	out := make([]SelectionCandidate, 0, len(candidates))
	for _, c := range candidates {
		if seen[c.AppIdentifier] {
			continue
		}
		seen[c.AppIdentifier] = true
		out = append(out, c)
	}
	return out
}

// FormatDuration renders seconds as "1h 5m" or "25m".
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	hours := seconds / 3600
	minutes := seconds % 3600 / 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
