package actuation

import (
	"log/slog"
	"sync/atomic"

	"github.com/bzzt-protocol/bzzt-go/pkg/wire"
)

// Request is the unit of work derived from one valid PulseCommand.
type Request struct {
	// Command is the command as decoded from the wire.
	Command wire.PulseCommand

	// Intensity and Duration are the values handed to the actuator.
	Intensity int
	Duration  int
}

// Clamped reports whether either value was changed to fit the capability.
func (r Request) Clamped() bool {
	return r.Intensity != r.Command.Intensity || r.Duration != r.Command.Duration
}

// Clamp saturates v at the bounds of [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Apply derives the actuation request for cmd under this capability.
func (c Capability) Apply(cmd wire.PulseCommand) Request {
	duration := cmd.Duration
	if maxMs := c.MaxDurationMs(); maxMs > 0 && duration > maxMs {
		duration = maxMs
	}
	return Request{
		Command:   cmd,
		Intensity: Clamp(cmd.Intensity, c.MinIntensity, c.MaxIntensity),
		Duration:  duration,
	}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithCapability overrides the capability reported by the actuator, e.g.
// when the configuration narrows the usable range.
func WithCapability(c Capability) DispatcherOption {
	return func(d *Dispatcher) {
		d.capability = c
	}
}

// WithDispatcherLogger sets the logger used for clamp diagnostics.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// Dispatcher drives an Actuator from decoded commands.
//
// Dispatch is safe for concurrent use, but callers that care about
// pre-emption order must serialize calls themselves.
type Dispatcher struct {
	actuator   Actuator
	capability Capability
	logger     *slog.Logger

	dispatched atomic.Uint64
	clamped    atomic.Uint64
}

// NewDispatcher creates a dispatcher for a.
func NewDispatcher(a Actuator, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		actuator:   a,
		capability: a.Capability(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Capability returns the effective capability used for clamping.
func (d *Dispatcher) Capability() Capability {
	return d.capability
}

// Dispatch issues exactly one Pulse call for cmd and returns what was sent.
func (d *Dispatcher) Dispatch(cmd wire.PulseCommand) Request {
	req := d.capability.Apply(cmd)

	d.dispatched.Add(1)
	if req.Clamped() {
		d.clamped.Add(1)
		if d.logger != nil {
			d.logger.Debug("pulse clamped to actuator range",
				"requestedIntensity", cmd.Intensity,
				"intensity", req.Intensity,
				"requestedDuration", cmd.Duration,
				"duration", req.Duration)
		}
	}

	d.actuator.Pulse(req.Intensity, req.Duration)
	return req
}

// Stats returns the number of dispatched and clamped requests.
func (d *Dispatcher) Stats() (dispatched, clamped uint64) {
	return d.dispatched.Load(), d.clamped.Load()
}
