package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bzzt-protocol/bzzt-go/pkg/actuation"
	"github.com/bzzt-protocol/bzzt-go/pkg/log"
	"github.com/bzzt-protocol/bzzt-go/pkg/transport"
	"github.com/bzzt-protocol/bzzt-go/pkg/wire"
)

// fakeChannel records what the session sends.
type fakeChannel struct {
	mu      sync.Mutex
	sent    [][]byte
	closed  bool
	sendErr error
}

func (c *fakeChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	if c.closed {
		return transport.ErrChannelClosed
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func (c *fakeChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeDialer hands out fakeChannels and keeps the handlers it was given.
type fakeDialer struct {
	mu        sync.Mutex
	addresses []string
	handlers  []transport.Handler
	channels  []*fakeChannel

	// dial overrides the default behavior when set.
	dial func(ctx context.Context, address string, h transport.Handler) (transport.Channel, error)
}

func (d *fakeDialer) Dial(ctx context.Context, address string, h transport.Handler) (transport.Channel, error) {
	d.mu.Lock()
	d.addresses = append(d.addresses, address)
	d.handlers = append(d.handlers, h)
	dial := d.dial
	d.mu.Unlock()

	if dial != nil {
		return dial(ctx, address, h)
	}
	ch := &fakeChannel{}
	d.mu.Lock()
	d.channels = append(d.channels, ch)
	d.mu.Unlock()
	return ch, nil
}

func (d *fakeDialer) handler(i int) transport.Handler {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handlers[i]
}

func (d *fakeDialer) channel(i int) *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channels[i]
}

// eventRecorder collects session events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newEventRecorder(s *Session) *eventRecorder {
	r := &eventRecorder{ch: make(chan Event, 128)}
	s.OnEvent(func(e Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
		r.ch <- e
	})
	return r
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *eventRecorder) transitions() []State {
	var states []State
	for _, e := range r.all() {
		if e.Type == EventStateChanged {
			states = append(states, e.NewState)
		}
	}
	return states
}

func (r *eventRecorder) ofType(typ EventType) []Event {
	var out []Event
	for _, e := range r.all() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// waitFor blocks until an event of typ arrives.
func (r *eventRecorder) waitFor(t *testing.T, typ EventType) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-r.ch:
			if e.Type == typ {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
			return Event{}
		}
	}
}

type stubActuator struct{ mock.Mock }

func (a *stubActuator) Pulse(intensity, durationMs int) { a.Called(intensity, durationMs) }

func (a *stubActuator) Capability() actuation.Capability {
	return a.Called().Get(0).(actuation.Capability)
}

func newTestSession(t *testing.T, d transport.Dialer, opts ...Option) (*Session, *actuation.Simulated) {
	t.Helper()
	sim := actuation.NewSimulated(actuation.DefaultCapability())
	t.Cleanup(sim.Stop)
	return New(d, actuation.NewDispatcher(sim), opts...), sim
}

func TestNewSessionIsDisconnected(t *testing.T) {
	s, _ := newTestSession(t, &fakeDialer{})

	assert.Equal(t, StateDisconnected, s.State())
	assert.Empty(t, s.ConnectionID())
	assert.Empty(t, s.Address())
}

func TestConnectRegistersAsPhone(t *testing.T) {
	d := &fakeDialer{}
	s, _ := newTestSession(t, d)
	rec := newEventRecorder(s)

	require.NoError(t, s.Connect(context.Background(), "10.0.0.5:8080"))

	assert.Equal(t, StateRegistered, s.State())
	assert.Equal(t, "10.0.0.5:8080", s.Address())
	assert.NotEmpty(t, s.ConnectionID())
	assert.Equal(t, []string{"10.0.0.5:8080"}, d.addresses)

	sent := d.channel(0).Sent()
	require.Len(t, sent, 1)
	assert.JSONEq(t, `{"command":"register","type":"phone"}`, string(sent[0]))

	assert.Equal(t, []State{StateConnecting, StateConnected, StateRegistered}, rec.transitions())
	for _, e := range rec.all() {
		assert.Equal(t, s.ConnectionID(), e.ConnectionID)
	}
}

func TestConnectWhenNotDisconnected(t *testing.T) {
	s, _ := newTestSession(t, &fakeDialer{})
	require.NoError(t, s.Connect(context.Background(), "10.0.0.5:8080"))
	gen := s.Generation()

	err := s.Connect(context.Background(), "10.0.0.6:8080")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidState))
	var ise *InvalidStateError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, StateRegistered, ise.State)
	assert.Equal(t, StateRegistered, s.State())
	assert.Equal(t, "10.0.0.5:8080", s.Address())
	assert.Equal(t, gen, s.Generation())
}

func TestDisconnectWhenDisconnected(t *testing.T) {
	s, _ := newTestSession(t, &fakeDialer{})
	rec := newEventRecorder(s)

	err := s.Disconnect()

	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.Empty(t, rec.all())
}

func TestDisconnectClosesChannel(t *testing.T) {
	d := &fakeDialer{}
	s, _ := newTestSession(t, d)
	rec := newEventRecorder(s)
	require.NoError(t, s.Connect(context.Background(), "10.0.0.5:8080"))

	require.NoError(t, s.Disconnect())

	assert.Equal(t, StateDisconnected, s.State())
	assert.True(t, d.channel(0).Closed())
	assert.Empty(t, s.ConnectionID())
	states := rec.transitions()
	assert.Equal(t, StateDisconnected, states[len(states)-1])
	assert.Empty(t, rec.ofType(EventConnectionLost))
}

func TestPulseDispatched(t *testing.T) {
	d := &fakeDialer{}
	a := &stubActuator{}
	a.On("Capability").Return(actuation.DefaultCapability()).Once()
	a.On("Pulse", 200, 500).Return().Once()
	s := New(d, actuation.NewDispatcher(a))
	rec := newEventRecorder(s)
	require.NoError(t, s.Connect(context.Background(), "10.0.0.5:8080"))

	d.handler(0).OnMessage([]byte(`{"intensity":200,"duration":500}`))

	e := rec.waitFor(t, EventPulse)
	require.NotNil(t, e.Pulse)
	assert.Equal(t, 200, e.Pulse.Intensity)
	assert.Equal(t, 500, e.Pulse.Duration)
	assert.False(t, e.Pulse.Clamped())
	a.AssertExpectations(t)
}

func TestPulseIntensityClamped(t *testing.T) {
	d := &fakeDialer{}
	s, sim := newTestSession(t, d)
	rec := newEventRecorder(s)
	require.NoError(t, s.Connect(context.Background(), "10.0.0.5:8080"))

	d.handler(0).OnMessage([]byte(`{"intensity":999,"duration":100}`))

	e := rec.waitFor(t, EventPulse)
	assert.Equal(t, 255, e.Pulse.Intensity)
	assert.Equal(t, 999, e.Pulse.Command.Intensity)
	assert.True(t, e.Pulse.Clamped())

	history := sim.History()
	require.Len(t, history, 1)
	assert.Equal(t, 255, history[0].Intensity)
}

func TestDecodeFailureKeepsSession(t *testing.T) {
	d := &fakeDialer{}
	s, sim := newTestSession(t, d)
	rec := newEventRecorder(s)
	require.NoError(t, s.Connect(context.Background(), "10.0.0.5:8080"))

	frame := []byte(`{"intensity":"high","duration":500}`)
	d.handler(0).OnMessage(frame)

	e := rec.waitFor(t, EventDecodeFailed)
	assert.True(t, errors.Is(e.Err, wire.ErrDecode))
	assert.Equal(t, frame, e.Frame)
	assert.Equal(t, StateRegistered, s.State())
	assert.Empty(t, sim.History())

	// The next valid command still goes through.
	d.handler(0).OnMessage([]byte(`{"intensity":10,"duration":20}`))
	rec.waitFor(t, EventPulse)
	assert.Len(t, sim.History(), 1)
}

func TestPulsesAreDispatchedInOrder(t *testing.T) {
	d := &fakeDialer{}
	s, sim := newTestSession(t, d)
	rec := newEventRecorder(s)
	require.NoError(t, s.Connect(context.Background(), "10.0.0.5:8080"))

	h := d.handler(0)
	for i := 1; i <= 5; i++ {
		h.OnMessage([]byte(fmt.Sprintf(`{"intensity":%d,"duration":1000}`, i)))
	}
	for i := 0; i < 5; i++ {
		rec.waitFor(t, EventPulse)
	}

	history := sim.History()
	require.Len(t, history, 5)
	for i, r := range history {
		assert.Equal(t, i+1, r.Intensity)
	}
	// Each pulse preempts the previous one.
	for _, r := range history[:4] {
		assert.True(t, r.Preempted)
	}
}

func TestDialFailure(t *testing.T) {
	dialErr := errors.New("connection refused")
	d := &fakeDialer{dial: func(context.Context, string, transport.Handler) (transport.Channel, error) {
		return nil, dialErr
	}}
	s, _ := newTestSession(t, d)
	rec := newEventRecorder(s)

	err := s.Connect(context.Background(), "10.0.0.5:8080")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnect))
	assert.True(t, errors.Is(err, dialErr))
	var ce *ConnectError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, StageDial, ce.Stage)
	assert.Equal(t, "10.0.0.5:8080", ce.Address)

	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, []State{StateConnecting, StateDisconnected}, rec.transitions())
	require.Len(t, rec.ofType(EventConnectFailed), 1)

	// A failed attempt leaves the session usable.
	d.mu.Lock()
	d.dial = nil
	d.mu.Unlock()
	require.NoError(t, s.Connect(context.Background(), "10.0.0.5:8080"))
}

func TestConnectTimeout(t *testing.T) {
	d := &fakeDialer{dial: func(ctx context.Context, _ string, _ transport.Handler) (transport.Channel, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	s, _ := newTestSession(t, d, WithConnectTimeout(20*time.Millisecond))

	err := s.Connect(context.Background(), "10.0.0.5:8080")

	var ce *ConnectError
	require.True(t, errors.As(err, &ce))
	assert.True(t, ce.Timeout())
	assert.False(t, ce.Canceled())
	assert.Equal(t, StateDisconnected, s.State())
}

func TestRegisterFailure(t *testing.T) {
	sendErr := errors.New("broken pipe")
	ch := &fakeChannel{sendErr: sendErr}
	d := &fakeDialer{dial: func(context.Context, string, transport.Handler) (transport.Channel, error) {
		return ch, nil
	}}
	s, _ := newTestSession(t, d)
	rec := newEventRecorder(s)

	err := s.Connect(context.Background(), "10.0.0.5:8080")

	var ce *ConnectError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, StageRegister, ce.Stage)
	assert.True(t, errors.Is(err, sendErr))
	assert.True(t, ch.Closed())
	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected}, rec.transitions())
}

func TestChannelLostBeforeRegistration(t *testing.T) {
	lost := errors.New("reset by peer")
	ch := &fakeChannel{}
	d := &fakeDialer{dial: func(_ context.Context, _ string, h transport.Handler) (transport.Channel, error) {
		h.OnClose(lost)
		return ch, nil
	}}
	s, _ := newTestSession(t, d)
	rec := newEventRecorder(s)

	err := s.Connect(context.Background(), "10.0.0.5:8080")

	assert.True(t, errors.Is(err, ErrConnect))
	assert.True(t, errors.Is(err, lost))
	assert.Equal(t, StateDisconnected, s.State())
	assert.Empty(t, rec.ofType(EventConnectionLost))
}

func TestFrameBeforeRegisterIsDispatchedAfterRegister(t *testing.T) {
	ch := &fakeChannel{}
	d := &fakeDialer{dial: func(_ context.Context, _ string, h transport.Handler) (transport.Channel, error) {
		// The controller may talk before Dial has even returned.
		h.OnMessage([]byte(`{"intensity":7,"duration":50}`))
		return ch, nil
	}}
	a := &stubActuator{}
	a.On("Capability").Return(actuation.DefaultCapability())
	a.On("Pulse", 7, 50).Run(func(mock.Arguments) {
		assert.Len(t, ch.Sent(), 1, "register frame not sent before dispatch")
	}).Return().Once()
	s := New(d, actuation.NewDispatcher(a))
	rec := newEventRecorder(s)

	require.NoError(t, s.Connect(context.Background(), "10.0.0.5:8080"))
	rec.waitFor(t, EventPulse)

	sent := ch.Sent()
	require.Len(t, sent, 1)
	assert.JSONEq(t, `{"command":"register","type":"phone"}`, string(sent[0]))

	var order []string
	for _, e := range rec.all() {
		switch e.Type {
		case EventStateChanged:
			order = append(order, e.NewState.String())
		case EventPulse:
			order = append(order, "pulse")
		}
	}
	assert.Equal(t, []string{"CONNECTING", "CONNECTED", "REGISTERED", "pulse"}, order)
	a.AssertExpectations(t)
}

func TestConnectWhileConnecting(t *testing.T) {
	dialing := make(chan struct{})
	d := &fakeDialer{dial: func(ctx context.Context, _ string, _ transport.Handler) (transport.Channel, error) {
		close(dialing)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	s, _ := newTestSession(t, d)
	rec := newEventRecorder(s)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Connect(context.Background(), "10.0.0.5:8080") }()
	<-dialing

	err := s.Connect(context.Background(), "10.0.0.6:8080")
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.Equal(t, StateConnecting, s.State())

	// Disconnect aborts the pending dial.
	require.NoError(t, s.Disconnect())
	assert.Equal(t, StateDisconnected, s.State())

	select {
	case err := <-errCh:
		var ce *ConnectError
		require.True(t, errors.As(err, &ce))
		assert.True(t, ce.Canceled())
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after Disconnect")
	}

	// Exactly one transition back to DISCONNECTED.
	assert.Equal(t, []State{StateConnecting, StateDisconnected}, rec.transitions())
	assert.Equal(t, StateDisconnected, s.State())
}

func TestDisconnectDuringDialClosesLateChannel(t *testing.T) {
	release := make(chan struct{})
	dialing := make(chan struct{})
	ch := &fakeChannel{}
	d := &fakeDialer{dial: func(context.Context, string, transport.Handler) (transport.Channel, error) {
		close(dialing)
		<-release
		return ch, nil
	}}
	s, _ := newTestSession(t, d)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Connect(context.Background(), "10.0.0.5:8080") }()
	<-dialing
	require.NoError(t, s.Disconnect())
	close(release)

	err := <-errCh
	assert.True(t, errors.Is(err, ErrConnect))
	assert.True(t, ch.Closed())
	assert.Empty(t, ch.Sent())
	assert.Equal(t, StateDisconnected, s.State())
}

func TestConnectionLost(t *testing.T) {
	d := &fakeDialer{}
	s, _ := newTestSession(t, d)
	rec := newEventRecorder(s)
	require.NoError(t, s.Connect(context.Background(), "10.0.0.5:8080"))
	id := s.ConnectionID()

	d.handler(0).OnClose(transport.ErrPeerClosed)

	e := rec.waitFor(t, EventConnectionLost)
	assert.True(t, errors.Is(e.Err, ErrTransport))
	assert.True(t, errors.Is(e.Err, transport.ErrPeerClosed))
	assert.Equal(t, id, e.ConnectionID)
	assert.Equal(t, StateDisconnected, s.State())

	states := rec.transitions()
	assert.Equal(t, StateDisconnected, states[len(states)-1])
}

func TestStaleConnectionIgnored(t *testing.T) {
	d := &fakeDialer{}
	s, sim := newTestSession(t, d)
	rec := newEventRecorder(s)
	require.NoError(t, s.Connect(context.Background(), "10.0.0.5:8080"))
	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Connect(context.Background(), "10.0.0.6:8080"))
	before := len(rec.all())

	old := d.handler(0)
	old.OnMessage([]byte(`{"intensity":200,"duration":500}`))
	old.OnClose(errors.New("late close"))

	assert.Equal(t, StateRegistered, s.State())
	assert.Equal(t, "10.0.0.6:8080", s.Address())
	assert.Empty(t, sim.History())
	assert.Len(t, rec.all(), before)

	// The live connection still works.
	d.handler(1).OnMessage([]byte(`{"intensity":1,"duration":1}`))
	rec.waitFor(t, EventPulse)
	assert.Len(t, sim.History(), 1)
}

func TestNoPulseAfterDisconnect(t *testing.T) {
	d := &fakeDialer{}
	s, sim := newTestSession(t, d, WithInboxSize(8))
	require.NoError(t, s.Connect(context.Background(), "10.0.0.5:8080"))
	h := d.handler(0)

	require.NoError(t, s.Disconnect())
	count := len(sim.History())
	for i := 0; i < 8; i++ {
		h.OnMessage([]byte(`{"intensity":5,"duration":5}`))
	}
	time.Sleep(20 * time.Millisecond)

	assert.Len(t, sim.History(), count)
}

func TestHandlerMayDisconnect(t *testing.T) {
	d := &fakeDialer{}
	s, _ := newTestSession(t, d)
	done := make(chan error, 1)
	s.OnEvent(func(e Event) {
		if e.Type == EventPulse {
			done <- s.Disconnect()
		}
	})
	require.NoError(t, s.Connect(context.Background(), "10.0.0.5:8080"))

	d.handler(0).OnMessage([]byte(`{"intensity":10,"duration":10}`))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not run")
	}
	assert.Equal(t, StateDisconnected, s.State())
}

func TestMotorCallbackMayDisconnect(t *testing.T) {
	d := &fakeDialer{}
	s, sim := newTestSession(t, d)
	done := make(chan error, 1)
	sim.OnChange(func(intensity int) {
		if intensity > 0 {
			done <- s.Disconnect()
		}
	})
	require.NoError(t, s.Connect(context.Background(), "10.0.0.5:8080"))

	d.handler(0).OnMessage([]byte(`{"intensity":10,"duration":1000}`))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("motor callback deadlocked")
	}
	assert.Equal(t, StateDisconnected, s.State())
}

func TestProtocolLogging(t *testing.T) {
	var mu sync.Mutex
	var events []log.Event
	plog := log.LoggerFunc(func(e log.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	d := &fakeDialer{}
	s, _ := newTestSession(t, d, WithProtocolLogger(plog))
	rec := newEventRecorder(s)
	require.NoError(t, s.Connect(context.Background(), "10.0.0.5:8080"))

	d.handler(0).OnMessage([]byte(`{"intensity":999,"duration":100}`))
	rec.waitFor(t, EventPulse)

	mu.Lock()
	defer mu.Unlock()

	var sawRegister, sawPulse, sawActuation bool
	for _, e := range events {
		assert.Equal(t, s.ConnectionID(), e.ConnectionID)
		assert.Equal(t, log.RolePhone, e.LocalRole)
		if e.Message != nil && e.Message.Type == log.MessageTypeRegister {
			sawRegister = true
			assert.Equal(t, log.DirectionOut, e.Direction)
		}
		if e.Message != nil && e.Message.Type == log.MessageTypePulse {
			sawPulse = true
			require.NotNil(t, e.Message.Intensity)
			assert.Equal(t, 999, *e.Message.Intensity)
		}
		if e.Actuation != nil {
			sawActuation = true
			assert.Equal(t, 255, e.Actuation.Intensity)
			assert.True(t, e.Actuation.Clamped)
		}
	}
	assert.True(t, sawRegister)
	assert.True(t, sawPulse)
	assert.True(t, sawActuation)
}
