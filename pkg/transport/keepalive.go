package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"
)

// Keep-alive defaults.
const (
	// DefaultPingInterval is the default interval between pings.
	DefaultPingInterval = 15 * time.Second

	// DefaultPongTimeout is the default wait for the matching pong.
	DefaultPongTimeout = 5 * time.Second

	// DefaultMaxMissedPongs is the default number of missed pongs before the
	// channel is considered dead.
	DefaultMaxMissedPongs = 2
)

// ErrKeepAliveTimeout is reported when the controller stops answering pings.
var ErrKeepAliveTimeout = errors.New("keep-alive timeout")

// KeepAliveConfig configures ping/pong liveness monitoring.
type KeepAliveConfig struct {
	// PingInterval is the interval between pings. Zero selects the default,
	// a negative value disables keep-alive.
	PingInterval time.Duration

	// PongTimeout is how long a ping may stay unanswered before it counts
	// as missed.
	PongTimeout time.Duration

	// MaxMissedPongs is the number of consecutive missed pongs tolerated.
	MaxMissedPongs int
}

// DefaultKeepAliveConfig returns the default keep-alive configuration.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		PingInterval:   DefaultPingInterval,
		PongTimeout:    DefaultPongTimeout,
		MaxMissedPongs: DefaultMaxMissedPongs,
	}
}

// Enabled reports whether pings are sent at all.
func (c KeepAliveConfig) Enabled() bool {
	return c.PingInterval >= 0
}

func (c KeepAliveConfig) withDefaults() KeepAliveConfig {
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = DefaultPongTimeout
	}
	if c.MaxMissedPongs <= 0 {
		c.MaxMissedPongs = DefaultMaxMissedPongs
	}
	return c
}

// DetectionDelay is the longest time a dead peer can go unnoticed.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	c = c.withDefaults()
	return c.PingInterval*time.Duration(c.MaxMissedPongs) + c.PongTimeout
}

// pingPayload encodes a ping sequence number as control frame data.
func pingPayload(seq uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, seq)
}

// parsePongPayload extracts the sequence number echoed in a pong.
func parsePongPayload(data string) (uint32, bool) {
	if len(data) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32([]byte(data)), true
}

// KeepAliveStats is a snapshot of the monitor.
type KeepAliveStats struct {
	LastPing    time.Time
	LastPong    time.Time
	RoundTrip   time.Duration
	MissedPongs int
	Sequence    uint32
}

// KeepAlive sends numbered pings and declares the link dead after too many
// consecutive pings go unanswered.
type KeepAlive struct {
	config KeepAliveConfig
	ping   func(seq uint32) error
	dead   func(err error)

	pongs chan uint32

	mu      sync.Mutex
	stats   KeepAliveStats
	pending bool
	running bool
	stop    chan struct{}
}

// NewKeepAlive creates a monitor. ping sends one ping frame; dead is called
// once, from the monitor goroutine, when the link is declared dead or a ping
// cannot be written.
func NewKeepAlive(config KeepAliveConfig, ping func(seq uint32) error, dead func(err error)) *KeepAlive {
	return &KeepAlive{
		config: config.withDefaults(),
		ping:   ping,
		dead:   dead,
		pongs:  make(chan uint32, 4),
	}
}

// Start runs the monitor until Stop is called, ctx ends or the link dies.
func (ka *KeepAlive) Start(ctx context.Context) {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	if ka.running {
		return
	}
	ka.running = true
	ka.stop = make(chan struct{})
	go ka.loop(ctx, ka.stop)
}

// Stop halts the monitor. It is safe to call more than once.
func (ka *KeepAlive) Stop() {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	if !ka.running {
		return
	}
	ka.running = false
	close(ka.stop)
}

// Running reports whether the monitor goroutine is active.
func (ka *KeepAlive) Running() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.running
}

// PongReceived records a pong for seq. Unknown sequence numbers are ignored.
func (ka *KeepAlive) PongReceived(seq uint32) {
	select {
	case ka.pongs <- seq:
	default:
	}
}

// Stats returns a snapshot of the monitor state.
func (ka *KeepAlive) Stats() KeepAliveStats {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.stats
}

func (ka *KeepAlive) loop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(ka.config.PingInterval)
	defer ticker.Stop()

	if err := ka.sendPing(); err != nil {
		ka.die(err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			ka.halt()
			return
		case <-stop:
			return
		case seq := <-ka.pongs:
			ka.handlePong(seq)
		case <-ticker.C:
			if ka.expired() {
				ka.die(ErrKeepAliveTimeout)
				return
			}
			if err := ka.sendPing(); err != nil {
				ka.die(err)
				return
			}
		}
	}
}

func (ka *KeepAlive) sendPing() error {
	ka.mu.Lock()
	ka.stats.Sequence++
	seq := ka.stats.Sequence
	ka.stats.LastPing = time.Now()
	ka.pending = true
	ka.mu.Unlock()

	return ka.ping(seq)
}

// expired counts an unanswered ping and reports whether the limit is hit.
func (ka *KeepAlive) expired() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	if !ka.pending || time.Since(ka.stats.LastPing) < ka.config.PongTimeout {
		return false
	}
	ka.pending = false
	ka.stats.MissedPongs++
	return ka.stats.MissedPongs >= ka.config.MaxMissedPongs
}

func (ka *KeepAlive) handlePong(seq uint32) {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	now := time.Now()
	ka.stats.LastPong = now
	if ka.pending && seq == ka.stats.Sequence {
		ka.pending = false
		ka.stats.MissedPongs = 0
		ka.stats.RoundTrip = now.Sub(ka.stats.LastPing)
	}
}

func (ka *KeepAlive) halt() {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	if ka.running {
		ka.running = false
		close(ka.stop)
	}
}

func (ka *KeepAlive) die(err error) {
	ka.halt()
	if ka.dead != nil {
		ka.dead(err)
	}
}
