package authz

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestStaticGate(t *testing.T) {
	ctx := context.Background()
	gate := NewStatic(false, zerolog.Nop())

	if gate.IsAuthorized(ctx) {
		t.Fatal("expected gate to start unauthorized")
	}

	gate.Grant()
	gate.Grant()
	if !gate.IsAuthorized(ctx) {
		t.Fatal("expected gate authorized after Grant")
	}

	gate.Revoke()
	if gate.IsAuthorized(ctx) {
		t.Fatal("expected gate unauthorized after Revoke")
	}
}
