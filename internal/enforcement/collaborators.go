package enforcement

import (
	"context"
	"fmt"

	"github.com/goodtune/unplug/internal/limits"
)

// Actuator applies OS-level blocking. SetBlocked always receives the full
// blocked set; the last call wins.
type Actuator interface {
	SetBlocked(ctx context.Context, appIdentifiers []string) error
	ClearBlocked(ctx context.Context) error
}

// Notifier delivers user-facing notifications. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// AuthorizationGate reports whether restriction and notification calls are
// permitted.
type AuthorizationGate interface {
	IsAuthorized(ctx context.Context) bool
}

// Kind identifies a notification type.
type Kind int

const (
	KindWarning Kind = iota
	KindExceeded
)

func (k Kind) String() string {
	switch k {
	case KindWarning:
		return "warning"
	case KindExceeded:
		return "exceeded"
	default:
		return "unknown"
	}
}

// Notification is one at-most-once user alert.
type Notification struct {
	Kind             Kind   `json:"kind"`
	AppIdentifier    string `json:"app_identifier"`
	DisplayName      string `json:"display_name"`
	RemainingSeconds int64  `json:"remaining_seconds"`
}

// Title returns the notification headline.
func (n Notification) Title() string {
	if n.Kind == KindExceeded {
		return "Time Limit Reached"
	}
	return "Time Limit Warning"
}

// Body returns the notification text shown to the user.
func (n Notification) Body() string {
	name := n.DisplayName
	if name == "" {
		name = n.AppIdentifier
	}
	if n.Kind == KindExceeded {
		return fmt.Sprintf("You've reached your daily limit for %s", name)
	}
	return fmt.Sprintf("You have %s left for %s", formatRemaining(n.RemainingSeconds), name)
}

func formatRemaining(seconds int64) string {
	if seconds < 3600 {
		minutes := seconds / 60
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	return limits.FormatDuration(seconds)
}
