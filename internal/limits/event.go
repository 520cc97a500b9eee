package limits

// EventKind identifies what changed in the ledger.
type EventKind int

const (
	EventAdded         EventKind = iota // new record, Previous is zero
	EventUsageReported                  // usage sample applied
	EventLimitChanged                   // daily limit edited
	EventRolledOver                     // day rollover without a sample
	EventRemoved                        // record deleted, Record is the removed one
	EventRestored                       // record loaded from storage at startup
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventUsageReported:
		return "usage_reported"
	case EventLimitChanged:
		return "limit_changed"
	case EventRolledOver:
		return "rolled_over"
	case EventRemoved:
		return "removed"
	case EventRestored:
		return "restored"
	default:
		return "unknown"
	}
}

// Event describes one ledger mutation.
type Event struct {
	Kind     EventKind
	Previous LimitRecord
	Record   LimitRecord
	// Rollover is set when the mutation also reset the day's usage.
	Rollover bool
}

// Observer receives ledger events in mutation order. Observers run while the
// ledger write lock is held and must not call back into the ledger.
type Observer interface {
	OnLedgerEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OnLedgerEvent calls f(e).
func (f ObserverFunc) OnLedgerEvent(e Event) {
	f(e)
}
