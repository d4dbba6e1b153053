package session

import (
	"log/slog"
	"time"

	"github.com/bzzt-protocol/bzzt-go/pkg/log"
)

// Defaults.
const (
	// DefaultConnectTimeout bounds a dial.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultInboxSize is the number of frames buffered per connection.
	DefaultInboxSize = 64
)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithProtocolLogger sets the protocol event logger.
func WithProtocolLogger(l log.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.plog = l
		}
	}
}

// WithConnectTimeout bounds each dial. Values <= 0 keep the default.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.connectTimeout = d
		}
	}
}

// WithInboxSize sets how many inbound frames are buffered per connection
// before the transport read loop blocks.
func WithInboxSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.inboxSize = n
		}
	}
}
