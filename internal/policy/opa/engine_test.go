package opa

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/goodtune/unplug/internal/enforcement"
	"github.com/rs/zerolog"
)

func TestEmbeddedPolicyMatchesThresholdEvaluator(t *testing.T) {
	engine, err := NewEngine("", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	ctx := context.Background()
	builtin := enforcement.ThresholdEvaluator{}

	for _, threshold := range []int64{0, 60, 300} {
		for _, limit := range []int64{0, 120, 1800} {
			for _, used := range []int64{0, 60, 119, 120, 1500, 1799, 1800, 2500} {
				facts := enforcement.Facts{
					AppIdentifier:           "com.a",
					DailyLimitSeconds:       limit,
					UsedSecondsToday:        used,
					RemainingSeconds:        max(0, limit-used),
					Exceeded:                used >= limit,
					WarningThresholdSeconds: threshold,
				}

				want, _ := builtin.Evaluate(ctx, facts)
				got, err := engine.Evaluate(ctx, facts)
				if err != nil {
					t.Fatalf("Evaluate(%+v) error = %v", facts, err)
				}
				if got != want {
					t.Errorf("Evaluate(%+v) = %s, builtin = %s", facts, got, want)
				}
			}
		}
	}
}

func TestPolicyDirectoryOverridesDefault(t *testing.T) {
	dir := t.TempDir()
	policy := `package unplug.enforcement

import rego.v1

default state := "unrestricted"

# Never block, only warn.
state := "warned" if input.exceeded
`
	if err := os.WriteFile(filepath.Join(dir, "lenient.rego"), []byte(policy), 0600); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	engine, err := NewEngine(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	got, err := engine.Evaluate(context.Background(), enforcement.Facts{Exceeded: true})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if got != enforcement.Warned {
		t.Fatalf("expected custom policy to return warned, got %s", got)
	}
}

func TestUnknownStateIsAnError(t *testing.T) {
	dir := t.TempDir()
	policy := `package unplug.enforcement

import rego.v1

default state := "sleeping"
`
	if err := os.WriteFile(filepath.Join(dir, "bad.rego"), []byte(policy), 0600); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	engine, err := NewEngine(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	if _, err := engine.Evaluate(context.Background(), enforcement.Facts{}); err == nil {
		t.Fatal("expected error for unknown state")
	}
}

func TestNewEngineWithoutPolicies(t *testing.T) {
	if _, err := NewEngine("/nonexistent/path", zerolog.Nop()); err == nil {
		t.Error("expected error when creating engine with invalid policy dir")
	}
}

// TestReloadThreadSafety runs reloads while evaluations are in flight.
func TestReloadThreadSafety(t *testing.T) {
	engine, err := NewEngine("", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	ctx := context.Background()
	done := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					if _, err := engine.Evaluate(ctx, enforcement.Facts{RemainingSeconds: 10, WarningThresholdSeconds: 60}); err != nil {
						t.Errorf("Evaluate() error = %v", err)
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 5; i++ {
		if err := engine.Reload(); err != nil {
			t.Errorf("Reload() error = %v", err)
		}
	}

	close(done)
	wg.Wait()
}
