// Package notify delivers limit warnings and limit-reached alerts.
package notify

import (
	"context"

	"github.com/goodtune/unplug/internal/enforcement"
	"github.com/rs/zerolog"
)

// Log writes notifications to the log.
type Log struct {
	logger zerolog.Logger
}

// NewLog creates a logging notifier.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger.With().Str("component", "notify").Logger()}
}

// Notify implements enforcement.Notifier.
func (n *Log) Notify(_ context.Context, msg enforcement.Notification) error {
	n.logger.Info().
		Str("kind", msg.Kind.String()).
		Str("app", msg.AppIdentifier).
		Int64("remaining_seconds", msg.RemainingSeconds).
		Str("title", msg.Title()).
		Msg(msg.Body())
	return nil
}
