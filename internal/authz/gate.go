// Package authz holds the screen time authorization state that gates
// enforcement side effects.
package authz

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Static is an authorization gate flipped explicitly by the operator, through
// configuration at startup or the API at runtime.
type Static struct {
	granted atomic.Bool
	logger  zerolog.Logger
}

// NewStatic creates a gate with the given initial state.
func NewStatic(granted bool, logger zerolog.Logger) *Static {
	s := &Static{logger: logger.With().Str("component", "authz").Logger()}
	s.granted.Store(granted)
	return s
}

// IsAuthorized implements enforcement.AuthorizationGate.
func (s *Static) IsAuthorized(context.Context) bool {
	return s.granted.Load()
}

// Grant enables enforcement side effects.
func (s *Static) Grant() {
	if !s.granted.Swap(true) {
		s.logger.Info().Msg("Authorization granted")
	}
}

// Revoke disables enforcement side effects.
func (s *Static) Revoke() {
	if s.granted.Swap(false) {
		s.logger.Warn().Msg("Authorization revoked")
	}
}
