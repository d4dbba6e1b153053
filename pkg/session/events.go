package session

import (
	"time"

	"github.com/bzzt-protocol/bzzt-go/pkg/actuation"
)

// EventType identifies what happened.
type EventType uint8

const (
	// EventStateChanged - the session moved between states.
	EventStateChanged EventType = iota

	// EventConnectFailed - a Connect call failed; Err is a *ConnectError.
	EventConnectFailed

	// EventConnectionLost - an established channel ended; Err is a
	// *TransportError.
	EventConnectionLost

	// EventDecodeFailed - an inbound frame was rejected; Err is a
	// *wire.DecodeError and Frame holds the offending bytes.
	EventDecodeFailed

	// EventPulse - a command was dispatched to the actuator.
	EventPulse
)

// String returns the event type name.
func (e EventType) String() string {
	switch e {
	case EventStateChanged:
		return "STATE_CHANGED"
	case EventConnectFailed:
		return "CONNECT_FAILED"
	case EventConnectionLost:
		return "CONNECTION_LOST"
	case EventDecodeFailed:
		return "DECODE_FAILED"
	case EventPulse:
		return "PULSE"
	default:
		return "UNKNOWN"
	}
}

// Event is delivered to handlers registered with OnEvent.
type Event struct {
	Type EventType
	Time time.Time

	// ConnectionID and Address identify the connection the event belongs to.
	ConnectionID string
	Address      string

	// OldState and NewState are set for EventStateChanged.
	OldState State
	NewState State

	// Err is set for the failure events.
	Err error

	// Frame is set for EventDecodeFailed.
	Frame []byte

	// Pulse is set for EventPulse.
	Pulse *actuation.Request
}

// EventHandler handles session events. Handlers run synchronously on the
// goroutine that caused the event, in order, and must not block. They may
// call Session methods.
type EventHandler func(Event)
