package limits

import "errors"

var (
	// ErrDuplicateApp is returned when adding a limit for an app that already has one.
	ErrDuplicateApp = errors.New("limit already exists for app")

	// ErrNotFound is returned when mutating or removing an app without a limit.
	ErrNotFound = errors.New("no limit configured for app")

	// ErrValidation is returned for negative time values or a missing app identifier.
	ErrValidation = errors.New("invalid limit value")

	// ErrPersistence wraps storage failures. It is logged by the ledger and
	// never returned from ledger mutations; in-memory state stays authoritative.
	ErrPersistence = errors.New("failed to persist limits")
)
