package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bzzt-protocol/bzzt-go/pkg/session"
)

// Reconnector errors.
var (
	ErrReconnectorClosed = errors.New("reconnector closed")
	ErrAlreadyStarted    = errors.New("reconnector already started")
)

// State is the reconnector's lifecycle state.
type State uint8

const (
	// StateIdle - not started, or stopped after a local disconnect.
	StateIdle State = iota

	// StateConnecting - an attempt is running.
	StateConnecting

	// StateConnected - the session registered.
	StateConnected

	// StateWaiting - sleeping before the next attempt.
	StateWaiting

	// StateClosed - Close was called.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateWaiting:
		return "WAITING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Connector is what the reconnector drives. *session.Session implements it.
type Connector interface {
	Connect(ctx context.Context, address string) error
}

var _ Connector = (*session.Session)(nil)

// Resolver returns the address for the next attempt. It is consulted before
// every attempt so a discovery lookup can follow a controller that moved.
type Resolver func(ctx context.Context) (string, error)

// StaticAddress returns a Resolver that always yields address.
func StaticAddress(address string) Resolver {
	return func(context.Context) (string, error) {
		return address, nil
	}
}

// Attempt describes one finished connection attempt.
type Attempt struct {
	// Number counts attempts since the last successful registration,
	// starting at 1.
	Number  int
	Address string
	Err     error

	// Delay is how long the reconnector waits before the next attempt.
	// Zero after a success.
	Delay time.Duration
}

// Option configures a Reconnector.
type Option func(*Reconnector)

// WithBackoff sets the backoff parameters.
func WithBackoff(cfg BackoffConfig) Option {
	return func(r *Reconnector) {
		r.backoff = NewBackoffWithConfig(cfg)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconnector) {
		if l != nil {
			r.logger = l
		}
	}
}

// Reconnector keeps a session registered. It makes an initial attempt on
// Start and a new series of attempts after every connection loss, waiting
// an exponentially growing delay between failures. A local Disconnect on the
// session does not trigger it.
type Reconnector struct {
	mu sync.Mutex

	state     State
	connector Connector
	resolve   Resolver
	backoff   *Backoff
	logger    *slog.Logger

	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Buffered, size 1. Holds a pending request for a new series.
	trigger chan struct{}

	onAttempt func(Attempt)
}

// NewReconnector creates a reconnector for c.
func NewReconnector(c Connector, resolve Resolver, opts ...Option) *Reconnector {
	r := &Reconnector{
		connector: c,
		resolve:   resolve,
		backoff:   NewBackoff(),
		logger:    slog.New(slog.DiscardHandler),
		trigger:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the current state.
func (r *Reconnector) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Attempts returns the number of failed attempts since the last success.
func (r *Reconnector) Attempts() int {
	return r.backoff.Attempts()
}

// OnAttempt sets a callback invoked after every attempt.
func (r *Reconnector) OnAttempt(fn func(Attempt)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onAttempt = fn
}

// Start launches the background loop and requests an immediate first
// attempt. The loop runs until ctx is done or Close is called.
func (r *Reconnector) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state == StateClosed {
		r.mu.Unlock()
		return ErrReconnectorClosed
	}
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.started = true
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	r.wg.Add(1)
	go r.loop(ctx)
	r.kick()
	return nil
}

// HandleEvent starts a new series of attempts when the session reports a
// lost connection. It has the session.EventHandler signature and never
// blocks.
func (r *Reconnector) HandleEvent(e session.Event) {
	if e.Type == session.EventConnectionLost {
		r.ConnectionLost()
	}
}

// ConnectionLost requests a new series of attempts.
func (r *Reconnector) ConnectionLost() {
	r.mu.Lock()
	if r.state == StateClosed {
		r.mu.Unlock()
		return
	}
	if r.state == StateConnected {
		r.state = StateIdle
	}
	r.mu.Unlock()
	r.kick()
}

// Close stops the loop and waits for it to exit. A running attempt is
// cancelled through its context.
func (r *Reconnector) Close() {
	r.mu.Lock()
	if r.state == StateClosed {
		r.mu.Unlock()
		return
	}
	r.state = StateClosed
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

func (r *Reconnector) kick() {
	select {
	case r.trigger <- struct{}{}:
	default:
		// already pending
	}
}

func (r *Reconnector) loop(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.trigger:
			r.run(ctx)
		}
	}
}

// run makes attempts until one succeeds, the session turns out to be in use
// already, or ctx is done.
func (r *Reconnector) run(ctx context.Context) {
	for {
		if !r.setState(StateConnecting) {
			return
		}

		number := r.backoff.Attempts() + 1
		address, err := r.resolve(ctx)
		if err == nil {
			err = r.connector.Connect(ctx, address)
		}

		switch {
		case err == nil:
			r.backoff.Reset()
			r.logger.Info("controller connection established", "address", address, "attempt", number)
			r.report(Attempt{Number: number, Address: address})
			r.setState(StateConnected)
			return

		case errors.Is(err, session.ErrInvalidState):
			// Someone else connected the session in the meantime.
			r.backoff.Reset()
			r.setState(StateIdle)
			r.logger.Debug("session already active, stopping reconnect")
			return

		case ctx.Err() != nil:
			return
		}

		delay := r.backoff.Next()
		r.logger.Warn("connection attempt failed",
			"attempt", number,
			"address", address,
			"retry_in", delay,
			"error", err)
		r.report(Attempt{Number: number, Address: address, Err: err, Delay: delay})

		if !r.setState(StateWaiting) {
			return
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// setState moves to s unless the reconnector was closed.
func (r *Reconnector) setState(s State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateClosed {
		return false
	}
	r.state = s
	return true
}

func (r *Reconnector) report(a Attempt) {
	r.mu.Lock()
	fn := r.onAttempt
	r.mu.Unlock()
	if fn != nil {
		fn(a)
	}
}
