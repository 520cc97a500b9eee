package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseLimit(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1800", 1800, false},
		{"30m", 1800, false},
		{"1h30m", 5400, false},
		{"0", 0, false},
		{"-5", -5, false},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLimit(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLimit(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseLimit(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	if got := parseDuration("90s", time.Minute); got != 90*time.Second {
		t.Errorf("expected 90s, got %v", got)
	}
	if got := parseDuration("bogus", time.Minute); got != time.Minute {
		t.Errorf("expected fallback, got %v", got)
	}
}

func TestFindUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
storage:
  type: bolt
  redis:
    password: secret
enforcement:
  warning_treshold: 5m
dns:
  upstream_servers: [1.1.1.1]
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	unknown, err := findUnknownKeys(path)
	if err != nil {
		t.Fatalf("findUnknownKeys() error = %v", err)
	}
	if len(unknown) != 2 || unknown[0] != "dns.upstream_servers" || unknown[1] != "enforcement.warning_treshold" {
		t.Fatalf("unexpected unknown keys: %v", unknown)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	dir := t.TempDir()
	configPath = filepath.Join(dir, "config.yaml")
	body := "storage:\n  type: bolt\n  path: " + filepath.Join(dir, "unplug.bolt") + "\n"
	if err := os.WriteFile(configPath, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if err := runLimitsAdd(nil, []string{"com.a", "TikTok", "30m"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := runReport(nil, []string{"com.a", "600"}); err != nil {
		t.Fatalf("report: %v", err)
	}
	if err := runLimitsAdd(nil, []string{"com.a", "TikTok", "30m"}); err == nil {
		t.Fatal("expected duplicate add to fail")
	}

	err := withSession(func(s *session) error {
		rec, ok := s.ledger.Get("com.a")
		if !ok {
			t.Fatal("expected com.a to persist")
		}
		if rec.DailyLimitSeconds != 1800 || rec.UsedSecondsToday != 600 {
			t.Errorf("unexpected record: %+v", rec)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("session: %v", err)
	}

	if err := runLimitsRemove(nil, []string{"com.a"}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := runLimitsRemove(nil, []string{"com.a"}); err == nil {
		t.Fatal("expected removing a missing app to fail")
	}
}
