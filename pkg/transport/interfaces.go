package transport

import "context"

// Handler receives inbound traffic from a Channel.
//
// Both methods are called from the channel's read goroutine. OnMessage is
// never called after OnClose.
type Handler interface {
	// OnMessage is called with the payload of each text frame.
	OnMessage(data []byte)

	// OnClose is called at most once when the channel ends for any reason
	// other than a local Close. err describes the cause.
	OnClose(err error)
}

// Channel is an open bidirectional message channel.
// Implemented by WSChannel.
type Channel interface {
	// Send writes one text frame.
	Send(data []byte) error

	// Close releases the channel. It does not invoke Handler.OnClose.
	Close() error
}

// Dialer opens channels to a controller.
// Implemented by WebSocketDialer.
type Dialer interface {
	// Dial connects to address and starts delivering frames to h. It honors
	// ctx for cancellation and deadline of the opening handshake only.
	Dial(ctx context.Context, address string, h Handler) (Channel, error)
}

// Compile-time interface satisfaction checks.
var (
	_ Channel = (*WSChannel)(nil)
	_ Dialer  = (*WebSocketDialer)(nil)
)
