package limits

import "testing"

func TestDerivedFields(t *testing.T) {
	tests := []struct {
		name          string
		limit, used   int64
		wantExceeded  bool
		wantRemaining int64
		wantProgress  float64
	}{
		{"unused", 1800, 0, false, 1800, 0},
		{"partially used", 1800, 900, false, 900, 0.5},
		{"one second left", 1800, 1799, false, 1, 1799.0 / 1800.0},
		{"exactly at limit", 1800, 1800, true, 0, 1},
		{"over limit", 1800, 2000, true, 0, 1},
		{"zero limit unused", 0, 0, true, 0, 0},
		{"zero limit used", 0, 500, true, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := LimitRecord{DailyLimitSeconds: tt.limit, UsedSecondsToday: tt.used}
			if got := rec.IsExceeded(); got != tt.wantExceeded {
				t.Errorf("IsExceeded() = %v, want %v", got, tt.wantExceeded)
			}
			if got := rec.RemainingSeconds(); got != tt.wantRemaining {
				t.Errorf("RemainingSeconds() = %d, want %d", got, tt.wantRemaining)
			}
			if got := rec.ProgressFraction(); got != tt.wantProgress {
				t.Errorf("ProgressFraction() = %v, want %v", got, tt.wantProgress)
			}
		})
	}
}

func TestDerivedFieldsUnderLimitProperty(t *testing.T) {
	for limit := int64(1); limit <= 120; limit++ {
		for used := int64(0); used <= limit+10; used++ {
			rec := LimitRecord{DailyLimitSeconds: limit, UsedSecondsToday: used}
			if used < limit {
				if rec.IsExceeded() || rec.RemainingSeconds() != limit-used {
					t.Fatalf("limit=%d used=%d: exceeded=%v remaining=%d", limit, used, rec.IsExceeded(), rec.RemainingSeconds())
				}
			} else if !rec.IsExceeded() || rec.RemainingSeconds() != 0 {
				t.Fatalf("limit=%d used=%d: exceeded=%v remaining=%d", limit, used, rec.IsExceeded(), rec.RemainingSeconds())
			}
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds int64
		want    string
	}{
		{0, "0m"},
		{59, "0m"},
		{300, "5m"},
		{3599, "59m"},
		{3600, "1h 0m"},
		{5400, "1h 30m"},
		{-10, "0m"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.seconds); got != tt.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestUniqueCandidates(t *testing.T) {
	got := UniqueCandidates([]SelectionCandidate{
		{DisplayName: "TikTok", AppIdentifier: "com.a"},
		{DisplayName: "YouTube", AppIdentifier: "com.g"},
		{DisplayName: "TikTok Lite", AppIdentifier: "com.a"},
	})
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].DisplayName != "TikTok" || got[1].AppIdentifier != "com.g" {
		t.Errorf("unexpected candidates: %+v", got)
	}
}

func TestDate(t *testing.T) {
	d, err := ParseDate("2024-02-28")
	if err != nil {
		t.Fatalf("ParseDate() error = %v", err)
	}
	if got := d.AddDays(1).String(); got != "2024-02-29" {
		t.Errorf("AddDays(1) = %s, want 2024-02-29", got)
	}
	if got := d.AddDays(2).String(); got != "2024-03-01" {
		t.Errorf("AddDays(2) = %s, want 2024-03-01", got)
	}
	if (Date{}).String() != "" {
		t.Error("zero date should format as empty string")
	}
	if _, err := ParseDate("yesterday"); err == nil {
		t.Error("expected error for invalid date")
	}
}
