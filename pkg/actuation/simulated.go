package actuation

import (
	"sync"
	"time"
)

// DefaultHistorySize is how many pulses a Simulated actuator remembers.
const DefaultHistorySize = 64

// PulseRecord is one pulse observed by a Simulated actuator.
type PulseRecord struct {
	Intensity int
	Duration  time.Duration
	StartedAt time.Time

	// Preempted is set when a later pulse replaced this one before it ended.
	Preempted bool
}

// EndsAt returns the scheduled end of the pulse.
func (r PulseRecord) EndsAt() time.Time {
	return r.StartedAt.Add(r.Duration)
}

// Simulated is an in-memory actuator for hosts without vibration hardware.
// It tracks the running pulse with a timer; a new pulse stops the timer of
// the running one and starts its own.
type Simulated struct {
	mu         sync.Mutex
	capability Capability
	active     *PulseRecord
	timer      *time.Timer
	seq        uint64
	history    []PulseRecord
	limit      int
	onChange   func(intensity int)

	// changes queues motor levels for the notifier goroutine.
	changes   []int
	notifying bool
}

// NewSimulated creates a simulated actuator with the given capability.
func NewSimulated(c Capability) *Simulated {
	return &Simulated{
		capability: c,
		limit:      DefaultHistorySize,
	}
}

// Capability implements Actuator.
func (s *Simulated) Capability() Capability {
	return s.capability
}

// OnChange sets a callback invoked with the new intensity whenever the motor
// state changes; 0 means the motor stopped. Callbacks run in order on a
// separate goroutine, never inside Pulse, so they may block or call back
// into the session that drives the actuator.
func (s *Simulated) OnChange(fn func(intensity int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Pulse implements Actuator.
func (s *Simulated) Pulse(intensity, durationMs int) {
	d := time.Duration(durationMs) * time.Millisecond

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.active != nil && len(s.history) > 0 {
		s.history[len(s.history)-1].Preempted = true
	}

	rec := PulseRecord{Intensity: intensity, Duration: d, StartedAt: time.Now()}
	s.appendHistory(rec)
	s.seq++

	level := intensity
	if d <= 0 || intensity == 0 {
		// Zero-length or zero-strength pulses only stop a running one.
		s.active = nil
		level = 0
	} else {
		s.active = &rec
		seq := s.seq
		s.timer = time.AfterFunc(d, func() {
			s.expire(seq)
		})
	}
	s.queueChangeLocked(level)
	s.mu.Unlock()
}

func (s *Simulated) expire(seq uint64) {
	s.mu.Lock()
	if s.seq != seq || s.active == nil {
		s.mu.Unlock()
		return
	}
	s.active = nil
	s.timer = nil
	s.queueChangeLocked(0)
	s.mu.Unlock()
}

// queueChangeLocked schedules a level notification. s.mu must be held.
func (s *Simulated) queueChangeLocked(level int) {
	if s.onChange == nil {
		return
	}
	s.changes = append(s.changes, level)
	if !s.notifying {
		s.notifying = true
		go s.notify()
	}
}

// notify delivers queued levels until the queue is empty.
func (s *Simulated) notify() {
	for {
		s.mu.Lock()
		if len(s.changes) == 0 {
			s.notifying = false
			s.mu.Unlock()
			return
		}
		level := s.changes[0]
		s.changes = s.changes[1:]
		callback := s.onChange
		s.mu.Unlock()

		callback(level)
	}
}

func (s *Simulated) appendHistory(rec PulseRecord) {
	s.history = append(s.history, rec)
	if over := len(s.history) - s.limit; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
}

// Active returns the running pulse, if any.
func (s *Simulated) Active() (PulseRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return PulseRecord{}, false
	}
	return *s.active, true
}

// History returns a copy of the most recent pulses, oldest first.
func (s *Simulated) History() []PulseRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PulseRecord, len(s.history))
	copy(out, s.history)
	return out
}

// Stop ends the running pulse immediately.
func (s *Simulated) Stop() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.active != nil {
		s.queueChangeLocked(0)
	}
	s.active = nil
	s.seq++
	s.mu.Unlock()
}
