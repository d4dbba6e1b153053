package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bzzt-protocol/bzzt-go/pkg/actuation"
	"github.com/bzzt-protocol/bzzt-go/pkg/log"
	"github.com/bzzt-protocol/bzzt-go/pkg/transport"
	"github.com/bzzt-protocol/bzzt-go/pkg/wire"
)

// Session is a single phone-to-controller link.
type Session struct {
	dialer     transport.Dialer
	dispatcher *actuation.Dispatcher

	logger         *slog.Logger
	plog           log.Logger
	connectTimeout time.Duration
	inboxSize      int

	mu         sync.Mutex
	state      State
	gen        uint64
	address    string
	conn       *connection
	cancelDial context.CancelFunc
	handlers   []EventHandler

	// dispatchMu is held from the liveness check of a frame until its pulse
	// has been handed to the actuator, so no pulse starts after Disconnect
	// returns.
	dispatchMu sync.Mutex
}

// New creates a DISCONNECTED session.
func New(dialer transport.Dialer, dispatcher *actuation.Dispatcher, opts ...Option) *Session {
	s := &Session{
		dialer:         dialer,
		dispatcher:     dispatcher,
		logger:         slog.New(slog.DiscardHandler),
		plog:           log.NoopLogger{},
		connectTimeout: DefaultConnectTimeout,
		inboxSize:      DefaultInboxSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Address returns the address of the current or most recent connection.
func (s *Session) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

// ConnectionID returns the ID of the current connection, or "" when
// DISCONNECTED.
func (s *Session) ConnectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ""
	}
	return s.conn.id
}

// Generation returns the current generation number.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// OnEvent registers an event handler.
func (s *Session) OnEvent(handler EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// Connect opens a channel to address and registers as a phone. It is only
// valid while DISCONNECTED. On success the session is REGISTERED; on failure
// it is DISCONNECTED again and the error is a *ConnectError.
//
// The dial is bounded by the connect timeout and by ctx. Disconnect aborts a
// pending Connect.
func (s *Session) Connect(ctx context.Context, address string) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		st := s.state
		s.mu.Unlock()
		return &InvalidStateError{Op: "connect", State: st}
	}

	s.gen++
	c := newConnection(s, s.gen, address, s.inboxSize)
	dialCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	s.conn = c
	s.cancelDial = cancel
	s.address = address
	s.state = StateConnecting
	s.mu.Unlock()

	s.logger.Info("connecting", "address", address, "conn_id", c.id, "generation", c.gen)
	s.stateChanged(c, StateDisconnected, StateConnecting, "")

	ch, err := s.dialer.Dial(dialCtx, address, c)
	cancel()

	s.mu.Lock()
	if s.gen != c.gen {
		// Disconnect won the race and already reported the transition.
		s.mu.Unlock()
		if ch != nil {
			ch.Close()
		}
		if err == nil {
			err = context.Canceled
		}
		return s.connectFailed(c, StageDial, err, false)
	}
	s.cancelDial = nil
	if err == nil && c.lost != nil {
		// The channel died before Dial even returned.
		err = c.lost
	}
	if err != nil {
		s.teardownLocked()
		s.mu.Unlock()
		if ch != nil {
			ch.Close()
		}
		c.shutdown()
		return s.connectFailed(c, StageDial, err, true)
	}
	c.ch = ch
	s.state = StateConnected
	s.mu.Unlock()

	s.stateChanged(c, StateConnecting, StateConnected, "")

	frame := wire.EncodeRegister()
	sendErr := ch.Send(frame)

	s.mu.Lock()
	if s.gen != c.gen {
		s.mu.Unlock()
		if sendErr == nil {
			sendErr = context.Canceled
		}
		return s.connectFailed(c, StageRegister, sendErr, false)
	}
	if sendErr == nil && c.lost != nil {
		sendErr = c.lost
	}
	if sendErr != nil {
		s.teardownLocked()
		s.mu.Unlock()
		ch.Close()
		c.shutdown()
		return s.connectFailed(c, StageRegister, sendErr, true)
	}
	s.state = StateRegistered
	s.mu.Unlock()

	s.logOutbound(c, frame)
	s.logger.Info("registered", "address", address, "conn_id", c.id)
	s.stateChanged(c, StateConnected, StateRegistered, "")

	go c.run()
	return nil
}

// Disconnect closes the channel and returns to DISCONNECTED. It is valid in
// every state except DISCONNECTED and aborts a pending dial. Frames that have
// not been dispatched yet are dropped.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return &InvalidStateError{Op: "disconnect", State: StateDisconnected}
	}
	c := s.conn
	old := s.state
	cancel := s.cancelDial
	ch := s.teardownLocked()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ch != nil {
		ch.Close()
	}
	c.shutdown()

	// Wait out a pulse that passed its liveness check before the teardown.
	s.dispatchMu.Lock()
	s.dispatchMu.Unlock() //nolint:staticcheck // barrier

	s.logger.Info("disconnected", "address", c.address, "conn_id", c.id)
	s.stateChanged(c, old, StateDisconnected, "disconnect requested")
	return nil
}

// teardownLocked moves to DISCONNECTED, invalidates the current generation
// and returns the channel for the caller to close outside the lock.
func (s *Session) teardownLocked() transport.Channel {
	var ch transport.Channel
	if s.conn != nil {
		ch = s.conn.ch
		s.conn.ch = nil
	}
	s.conn = nil
	s.cancelDial = nil
	s.state = StateDisconnected
	s.gen++
	return ch
}

// connectFailed reports a failed attempt. transitioned is false when a
// concurrent Disconnect already reported the move to DISCONNECTED.
func (s *Session) connectFailed(c *connection, stage ConnectStage, err error, transitioned bool) error {
	cerr := &ConnectError{Address: c.address, Stage: stage, Err: err}

	s.logger.Warn("connect failed", "address", c.address, "stage", string(stage), "error", err)
	s.logError(c, log.LayerSession, cerr, string(stage))

	if transitioned {
		prev := StateConnecting
		if stage == StageRegister {
			prev = StateConnected
		}
		s.stateChanged(c, prev, StateDisconnected, err.Error())
	}
	s.emit(Event{Type: EventConnectFailed, ConnectionID: c.id, Address: c.address, Err: cerr})
	return cerr
}

// connectionLost handles a close notification from the transport.
func (s *Session) connectionLost(c *connection, err error) {
	s.mu.Lock()
	if s.gen != c.gen {
		s.mu.Unlock()
		s.logger.Debug("ignoring close from stale connection", "conn_id", c.id, "generation", c.gen)
		return
	}
	if s.state != StateRegistered {
		// Connect is still running and will pick this up.
		if c.lost == nil {
			c.lost = err
			if c.lost == nil {
				c.lost = transport.ErrChannelClosed
			}
		}
		s.mu.Unlock()
		return
	}
	ch := s.teardownLocked()
	s.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	c.shutdown()

	terr := &TransportError{Err: err}
	reason := terr.Error()
	if errors.Is(err, transport.ErrPeerClosed) {
		reason = "closed by controller"
	}
	s.logger.Warn("connection lost", "address", c.address, "conn_id", c.id, "error", err)
	s.logError(c, log.LayerTransport, terr, "")
	s.stateChanged(c, StateRegistered, StateDisconnected, reason)
	s.emit(Event{Type: EventConnectionLost, ConnectionID: c.id, Address: c.address, Err: terr})
}

// handleFrame decodes and dispatches one inbound frame.
func (s *Session) handleFrame(c *connection, frame []byte) {
	s.dispatchMu.Lock()

	s.mu.Lock()
	live := s.gen == c.gen && s.state == StateRegistered
	s.mu.Unlock()
	if !live {
		s.dispatchMu.Unlock()
		return
	}

	s.logInbound(c, frame)

	cmd, err := wire.DecodePulse(frame)
	if err != nil {
		s.dispatchMu.Unlock()

		s.logger.Warn("dropping invalid command", "conn_id", c.id, "error", err)
		code := ""
		var decErr *wire.DecodeError
		if errors.As(err, &decErr) {
			code = decErr.Reason.String()
		}
		s.plog.Log(s.protocolEvent(c, log.DirectionIn, log.LayerWire, log.CategoryError, func(e *log.Event) {
			e.Error = &log.ErrorEventData{Layer: log.LayerWire, Message: err.Error(), Code: code}
		}))
		s.emit(Event{Type: EventDecodeFailed, ConnectionID: c.id, Address: c.address, Err: err, Frame: frame})
		return
	}

	req := s.dispatcher.Dispatch(cmd)
	s.dispatchMu.Unlock()

	s.logger.Debug("pulse", "conn_id", c.id, "intensity", req.Intensity, "duration", req.Duration, "clamped", req.Clamped())
	s.logPulse(c, req)
	s.emit(Event{Type: EventPulse, ConnectionID: c.id, Address: c.address, Pulse: &req})
}

func (s *Session) stateChanged(c *connection, from, to State, reason string) {
	s.logger.Debug("session state changed", "from", from.String(), "to", to.String(), "conn_id", c.id)
	s.plog.Log(s.protocolEvent(c, log.DirectionOut, log.LayerSession, log.CategoryState, func(e *log.Event) {
		e.StateChange = &log.StateChangeEvent{OldState: from.String(), NewState: to.String(), Reason: reason}
	}))
	s.emit(Event{
		Type:         EventStateChanged,
		ConnectionID: c.id,
		Address:      c.address,
		OldState:     from,
		NewState:     to,
	})
}

// emit delivers an event to all handlers. It must not be called with mu held.
func (s *Session) emit(event Event) {
	event.Time = time.Now()

	s.mu.Lock()
	handlers := make([]EventHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}

// connection is the per-generation handler registered with the transport.
type connection struct {
	s       *Session
	gen     uint64
	id      string
	address string

	// Guarded by s.mu.
	ch   transport.Channel
	lost error

	inbox    chan []byte
	stop     chan struct{}
	stopOnce sync.Once
}

func newConnection(s *Session, gen uint64, address string, inboxSize int) *connection {
	return &connection{
		s:       s,
		gen:     gen,
		id:      uuid.NewString(),
		address: address,
		inbox:   make(chan []byte, inboxSize),
		stop:    make(chan struct{}),
	}
}

// OnMessage implements transport.Handler. Frames wait in the inbox until
// the consumer starts after registration.
func (c *connection) OnMessage(data []byte) {
	select {
	case c.inbox <- data:
	case <-c.stop:
	}
}

// OnClose implements transport.Handler.
func (c *connection) OnClose(err error) {
	c.s.connectionLost(c, err)
}

func (c *connection) shutdown() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *connection) run() {
	for {
		select {
		case <-c.stop:
			return
		case frame := <-c.inbox:
			c.s.handleFrame(c, frame)
		}
	}
}
