// Package actuator applies the blocked app set computed by the enforcement
// coordinator.
package actuator

import (
	"context"

	"github.com/rs/zerolog"
)

// Log records blocked-set changes without enforcing them. It is the default
// when no device agent is attached.
type Log struct {
	logger zerolog.Logger
}

// NewLog creates a logging actuator.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger.With().Str("component", "actuator").Logger()}
}

// SetBlocked logs the full blocked set.
func (a *Log) SetBlocked(_ context.Context, appIdentifiers []string) error {
	a.logger.Info().Strs("blocked", appIdentifiers).Msg("Blocked set updated")
	return nil
}

// ClearBlocked logs that nothing is blocked.
func (a *Log) ClearBlocked(context.Context) error {
	a.logger.Info().Msg("Blocked set cleared")
	return nil
}
