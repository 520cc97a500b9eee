package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/unplug/internal/config"
	"github.com/goodtune/unplug/internal/storage"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() returns "host:port", so Port stays zero
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 1,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
		KeyPrefix:    "unplug",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

func TestLimitStore_SaveLoad(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()

	loaded, err := store.Limits().Load(ctx)
	if err != nil {
		t.Fatalf("Load on empty store failed: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("Expected no records, got %d", len(loaded))
	}

	records := []storage.LimitRecord{
		{AppIdentifier: "com.a", DisplayName: "TikTok", DailyLimitSeconds: 1800, LastResetDate: "2026-10-15"},
		{AppIdentifier: "com.g", DisplayName: "YouTube", DailyLimitSeconds: 1800, UsedSecondsToday: 2000, LastResetDate: "2026-10-15"},
	}
	if err := store.Limits().Save(ctx, records); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if !mr.Exists("unplug:limits") {
		t.Fatal("Expected unplug:limits key to exist")
	}
	// The whole set is one string value, replaced by a single SET
	if typ := mr.Type("unplug:limits"); typ != "string" {
		t.Fatalf("Expected unplug:limits to be a string, got %s", typ)
	}

	loaded, err = store.Limits().Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(loaded))
	}
	for i := range records {
		if loaded[i] != records[i] {
			t.Errorf("Record %d: expected %+v, got %+v", i, records[i], loaded[i])
		}
	}
}

func TestLimitStore_LoadCorrupt(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	if err := mr.Set("unplug:limits", "not-json"); err != nil {
		t.Fatalf("Failed to seed key: %v", err)
	}

	if _, err := store.Limits().Load(context.Background()); err == nil {
		t.Fatal("Expected decode error for corrupt data")
	}
}

func TestHistoryStore_RecordListDelete(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	store.SetHistoryRetention(90)
	ctx := context.Background()
	history := store.History()

	entries := []storage.DailyUsage{
		{Date: "2024-01-14", AppIdentifier: "com.a", TotalSeconds: 60},
		{Date: "2024-01-15", AppIdentifier: "com.a", TotalSeconds: 90},
		{Date: "2024-01-15", AppIdentifier: "com.g", TotalSeconds: 30},
	}
	for _, entry := range entries {
		if err := history.Record(ctx, entry); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	// Recording the same day again overwrites, it does not add
	if err := history.Record(ctx, storage.DailyUsage{Date: "2024-01-15", AppIdentifier: "com.a", TotalSeconds: 95}); err != nil {
		t.Fatalf("Record overwrite failed: %v", err)
	}

	day, err := history.List(ctx, "2024-01-15")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(day) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(day))
	}
	for _, usage := range day {
		if usage.AppIdentifier == "com.a" && usage.TotalSeconds != 95 {
			t.Errorf("Expected com.a total 95, got %d", usage.TotalSeconds)
		}
	}

	if ttl := mr.TTL("unplug:usage:daily:2024-01-15"); ttl != 91*24*time.Hour {
		t.Errorf("Expected TTL one day past retention, got %v", ttl)
	}

	deleted, err := history.DeleteBefore(ctx, "2024-01-15")
	if err != nil {
		t.Fatalf("DeleteBefore failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted entry, got %d", deleted)
	}
	if mr.Exists("unplug:usage:daily:2024-01-14") {
		t.Error("Expected 2024-01-14 history to be removed")
	}
	if !mr.Exists("unplug:usage:daily:2024-01-15") {
		t.Error("Expected 2024-01-15 history to remain")
	}
}

func TestHistoryStore_ListOrderedByApp(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	for _, app := range []string{"com.z", "com.b", "com.m", "com.a", "com.q"} {
		if err := store.History().Record(ctx, storage.DailyUsage{Date: "2024-01-15", AppIdentifier: app, TotalSeconds: 10}); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	day, err := store.History().List(ctx, "2024-01-15")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"com.a", "com.b", "com.m", "com.q", "com.z"}
	if len(day) != len(want) {
		t.Fatalf("Expected %d entries, got %d", len(want), len(day))
	}
	for i, usage := range day {
		if usage.AppIdentifier != want[i] {
			t.Errorf("Entry %d: expected %s, got %s", i, want[i], usage.AppIdentifier)
		}
	}
}

func TestHistoryStore_NoRetentionKeepsKeys(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	store.SetHistoryRetention(0)
	if err := store.History().Record(context.Background(), storage.DailyUsage{Date: "2024-01-15", AppIdentifier: "com.a", TotalSeconds: 10}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if ttl := mr.TTL("unplug:usage:daily:2024-01-15"); ttl != 0 {
		t.Errorf("Expected no TTL when history is kept forever, got %v", ttl)
	}
}

func TestOpen_InvalidTimeout(t *testing.T) {
	_, err := Open(config.RedisConfig{Host: "localhost", DialTimeout: "bogus", ReadTimeout: "1s", WriteTimeout: "1s"})
	if err == nil {
		t.Fatal("Expected error for invalid dial timeout")
	}
}
