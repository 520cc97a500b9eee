package storage

// DateLayout is the calendar date format used for persisted dates and history keys.
const DateLayout = "2006-01-02"

// LimitRecord is the persisted form of a configured app limit.
type LimitRecord struct {
	AppIdentifier     string `json:"app_identifier"`
	DisplayName       string `json:"display_name"`
	DailyLimitSeconds int64  `json:"daily_limit_seconds"`
	UsedSecondsToday  int64  `json:"used_seconds_today"`
	LastResetDate     string `json:"last_reset_date,omitempty"` // DateLayout, empty = unknown
}

// DailyUsage is the archived usage of one app for one calendar day.
type DailyUsage struct {
	Date          string `json:"date"`
	AppIdentifier string `json:"app_identifier"`
	TotalSeconds  int64  `json:"total_seconds"`
}
