package session

// State is the lifecycle state of a Session.
type State uint8

const (
	// StateDisconnected - no channel. Initial state.
	StateDisconnected State = iota

	// StateConnecting - dial in progress.
	StateConnecting

	// StateConnected - channel open, register frame not yet sent.
	StateConnected

	// StateRegistered - register frame sent, commands are processed.
	StateRegistered
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateRegistered:
		return "REGISTERED"
	default:
		return "UNKNOWN"
	}
}

// Active reports whether the state holds or is acquiring a channel.
func (s State) Active() bool {
	return s != StateDisconnected
}
