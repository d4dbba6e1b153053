package session

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for matching with errors.Is.
var (
	ErrConnect      = errors.New("connect failed")
	ErrInvalidState = errors.New("invalid state")
	ErrTransport    = errors.New("transport failed")
)

// ConnectStage names the step at which a connection attempt failed.
type ConnectStage string

const (
	// StageDial covers address parsing, the handshake and its timeout.
	StageDial ConnectStage = "dial"

	// StageRegister covers the register frame send.
	StageRegister ConnectStage = "register"
)

// ConnectError reports a failed connection attempt. The session is
// DISCONNECTED when it is returned.
type ConnectError struct {
	Address string
	Stage   ConnectStage
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s failed at %s: %v", e.Address, e.Stage, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrConnect) match.
func (e *ConnectError) Is(target error) bool { return target == ErrConnect }

// Timeout reports whether the attempt ran out of time.
func (e *ConnectError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// Canceled reports whether the attempt was abandoned by Disconnect or by
// the caller's context.
func (e *ConnectError) Canceled() bool {
	return errors.Is(e.Err, context.Canceled)
}

// InvalidStateError reports an operation that is not allowed in the
// session's current state. Nothing was changed.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s not allowed in state %s", e.Op, e.State)
}

// Is makes errors.Is(err, ErrInvalidState) match.
func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// TransportError reports that an established channel closed or failed. It is
// only ever delivered through EventConnectionLost.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return "transport closed"
	}
	return "transport closed: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTransport) match.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }
