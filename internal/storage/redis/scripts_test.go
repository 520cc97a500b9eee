package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a miniredis instance for testing Lua scripts
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr
}

func TestRecordDailyUsageScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	script := redis.NewScript(recordDailyUsageScript)

	keys := []string{"test:usage:daily:2024-01-15", "test:usage:daily:dates"}
	if err := script.Run(ctx, client, keys, "2024-01-15", "com.a", 120, 86400).Err(); err != nil {
		t.Fatalf("Script failed: %v", err)
	}

	if got := mr.HGet(keys[0], "com.a"); got != "120" {
		t.Errorf("Expected 120 seconds, got %q", got)
	}
	if ttl := mr.TTL(keys[0]); ttl != 24*time.Hour {
		t.Errorf("Expected 24h TTL, got %v", ttl)
	}

	// A zero TTL clears any expiry
	if err := script.Run(ctx, client, keys, "2024-01-15", "com.g", 30, 0).Err(); err != nil {
		t.Fatalf("Script without TTL failed: %v", err)
	}
	if ttl := mr.TTL(keys[0]); ttl != 0 {
		t.Errorf("Expected no TTL, got %v", ttl)
	}

	isMember, err := mr.SIsMember(keys[1], "2024-01-15")
	if err != nil {
		t.Fatalf("SIsMember failed: %v", err)
	}
	if !isMember {
		t.Error("Expected date to be indexed")
	}
}

func TestDeleteDailyUsageScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()

	mr.HSet("test:usage:daily:2024-01-15", "com.a", "1", "com.g", "2")
	if _, err := mr.SetAdd("test:usage:daily:dates", "2024-01-15"); err != nil {
		t.Fatalf("SetAdd failed: %v", err)
	}

	script := redis.NewScript(deleteDailyUsageScript)
	count, err := script.Run(ctx, client, []string{"test:usage:daily:2024-01-15", "test:usage:daily:dates"}, "2024-01-15").Int()
	if err != nil {
		t.Fatalf("Script failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 removed entries, got %d", count)
	}
	if mr.Exists("test:usage:daily:2024-01-15") {
		t.Error("Expected day key to be deleted")
	}
}
