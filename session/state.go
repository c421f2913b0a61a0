package session

// State of the session lifecycle.
type State int

const (
	// Anonymous: no usable token.
	Anonymous State = iota
	// Authenticated: access token held and user profile loaded.
	Authenticated
	// Refreshing: a refresh request is in flight.
	Refreshing
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	case Refreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}
