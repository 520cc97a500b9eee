package storage

import (
	"encoding/json"
	"fmt"
	"math"
)

// wireRecord accepts both the current field names and the historic ones
// written by earlier releases (appName, bundleIdentifier, usedTimeToday),
// which stored times as fractional seconds.
type wireRecord struct {
	AppIdentifier     string   `json:"app_identifier"`
	DisplayName       string   `json:"display_name"`
	DailyLimitSeconds *float64 `json:"daily_limit_seconds"`
	UsedSecondsToday  *float64 `json:"used_seconds_today"`
	LastResetDate     string   `json:"last_reset_date"`

	AppName          string   `json:"appName"`
	BundleIdentifier string   `json:"bundleIdentifier"`
	LegacyDailyLimit *float64 `json:"dailyLimitSeconds"`
	UsedTimeToday    *float64 `json:"usedTimeToday"`
}

// EncodeLimits serializes the ordered record set.
func EncodeLimits(records []LimitRecord) ([]byte, error) {
	if records == nil {
		records = []LimitRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode limits: %w", err)
	}
	return data, nil
}

// DecodeLimits parses a serialized record set, preserving order. Entries
// are not validated: a record without an identifier or with negative times
// is returned as-is so the caller can drop it and keep the rest. Records
// without a last reset date keep it empty.
func DecodeLimits(data []byte) ([]LimitRecord, error) {
	if len(data) == 0 {
		return []LimitRecord{}, nil
	}

	var wire []wireRecord
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode limits: %w", err)
	}

	records := make([]LimitRecord, 0, len(wire))
	for _, w := range wire {
		rec := LimitRecord{
			AppIdentifier: w.AppIdentifier,
			DisplayName:   w.DisplayName,
			LastResetDate: w.LastResetDate,
		}

		if rec.AppIdentifier == "" {
			rec.AppIdentifier = w.BundleIdentifier
		}
		if rec.AppIdentifier == "" {
			rec.AppIdentifier = w.AppName
		}
		if rec.DisplayName == "" {
			rec.DisplayName = w.AppName
		}

		switch {
		case w.DailyLimitSeconds != nil:
			rec.DailyLimitSeconds = seconds(*w.DailyLimitSeconds)
		case w.LegacyDailyLimit != nil:
			rec.DailyLimitSeconds = seconds(*w.LegacyDailyLimit)
		}
		switch {
		case w.UsedSecondsToday != nil:
			rec.UsedSecondsToday = seconds(*w.UsedSecondsToday)
		case w.UsedTimeToday != nil:
			rec.UsedSecondsToday = seconds(*w.UsedTimeToday)
		}

		records = append(records, rec)
	}

	return records, nil
}

func seconds(v float64) int64 {
	return int64(math.Round(v))
}
