package enforcement

// State is an app's enforcement state.
type State int

const (
	Unrestricted State = iota
	Warned
	Blocked
)

func (s State) String() string {
	switch s {
	case Unrestricted:
		return "unrestricted"
	case Warned:
		return "warned"
	case Blocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// ParseState converts a state name back to a State.
func ParseState(s string) (State, bool) {
	switch s {
	case "unrestricted":
		return Unrestricted, true
	case "warned":
		return Warned, true
	case "blocked":
		return Blocked, true
	default:
		return Unrestricted, false
	}
}
