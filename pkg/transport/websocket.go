package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Transport defaults.
const (
	// DefaultConnectTimeout bounds the opening handshake when the caller's
	// context has no deadline.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 5 * time.Second

	// DefaultMaxMessageSize is the largest accepted inbound frame (64 KB).
	DefaultMaxMessageSize = 65536

	closeGracePeriod = time.Second
)

// Channel errors.
var (
	ErrChannelClosed = errors.New("channel closed")
	ErrPeerClosed    = errors.New("closed by controller")
)

// DialerConfig configures a WebSocketDialer.
type DialerConfig struct {
	// ConnectTimeout bounds the handshake (default: 10s).
	ConnectTimeout time.Duration

	// WriteTimeout bounds each frame write (default: 5s).
	WriteTimeout time.Duration

	// MaxMessageSize is the inbound frame size limit (default: 64KB).
	MaxMessageSize int64

	// KeepAlive configuration.
	KeepAlive KeepAliveConfig

	// TLS settings for wss:// addresses.
	TLS TLSConfig

	// Header is sent with the upgrade request.
	Header http.Header

	// Logger receives transport diagnostics (default: slog.Default()).
	Logger *slog.Logger
}

// DefaultDialerConfig returns the default dialer configuration.
func DefaultDialerConfig() DialerConfig {
	return DialerConfig{
		ConnectTimeout: DefaultConnectTimeout,
		WriteTimeout:   DefaultWriteTimeout,
		MaxMessageSize: DefaultMaxMessageSize,
		KeepAlive:      DefaultKeepAliveConfig(),
	}
}

// WebSocketDialer opens websocket channels to controllers.
type WebSocketDialer struct {
	config DialerConfig
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewWebSocketDialer creates a dialer.
func NewWebSocketDialer(config DialerConfig) (*WebSocketDialer, error) {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tlsConf, err := NewClientTLSConfig(config.TLS)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %w", err)
	}

	return &WebSocketDialer{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.ConnectTimeout,
			TLSClientConfig:  tlsConf,
		},
		logger: logger,
	}, nil
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, address string, h Handler) (Channel, error) {
	return d.DialWebSocket(ctx, address, h)
}

// DialWebSocket is Dial returning the concrete channel type.
func (d *WebSocketDialer) DialWebSocket(ctx context.Context, address string, h Handler) (*WSChannel, error) {
	u, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.ConnectTimeout)
		defer cancel()
	}

	conn, resp, err := d.dialer.DialContext(ctx, u.String(), d.config.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake with %s failed (%s): %w", u, resp.Status, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return nil, fmt.Errorf("dial %s failed: %w", u, err)
	}
	conn.SetReadLimit(d.config.MaxMessageSize)

	c := &WSChannel{
		conn:         conn,
		handler:      h,
		url:          u.String(),
		writeTimeout: d.config.WriteTimeout,
		logger:       d.logger.With("controller", u.String()),
		done:         make(chan struct{}),
	}
	if d.config.KeepAlive.Enabled() {
		c.keepAlive = NewKeepAlive(d.config.KeepAlive, c.sendPing, c.abort)
		conn.SetPongHandler(func(data string) error {
			if seq, ok := parsePongPayload(data); ok {
				c.keepAlive.PongReceived(seq)
			}
			return nil
		})
	}

	go c.readLoop()
	if c.keepAlive != nil {
		c.keepAlive.Start(context.Background())
	}

	return c, nil
}

// WSChannel is a websocket connection to a controller.
type WSChannel struct {
	conn         *websocket.Conn
	handler      Handler
	url          string
	writeTimeout time.Duration
	logger       *slog.Logger
	keepAlive    *KeepAlive

	writeMu sync.Mutex

	closed     atomic.Bool // local Close
	ended      atomic.Bool // read loop saw the connection end
	closeOnce  sync.Once
	notifyOnce sync.Once
	done       chan struct{}

	abortMu  sync.Mutex
	abortErr error

	dropped atomic.Uint64
}

// URL returns the controller URL this channel is connected to.
func (c *WSChannel) URL() string {
	return c.url
}

// LocalAddr returns the local network address.
func (c *WSChannel) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the controller's network address.
func (c *WSChannel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// DroppedFrames returns the number of binary frames discarded.
func (c *WSChannel) DroppedFrames() uint64 {
	return c.dropped.Load()
}

// KeepAliveStats returns liveness statistics, or false if keep-alive is off.
func (c *WSChannel) KeepAliveStats() (KeepAliveStats, bool) {
	if c.keepAlive == nil {
		return KeepAliveStats{}, false
	}
	return c.keepAlive.Stats(), true
}

// Done is closed once the read loop has exited.
func (c *WSChannel) Done() <-chan struct{} {
	return c.done
}

// Send implements Channel.
func (c *WSChannel) Send(data []byte) error {
	if c.closed.Load() || c.ended.Load() {
		return ErrChannelClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}
	return nil
}

// Close implements Channel. It sends a normal-closure frame on a best-effort
// basis and releases the connection without waiting for the peer.
func (c *WSChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.keepAlive != nil {
			c.keepAlive.Stop()
		}

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		err = c.conn.Close()
	})
	return err
}

func (c *WSChannel) sendPing(seq uint32) error {
	deadline := time.Now().Add(c.writeTimeout)
	return c.conn.WriteControl(websocket.PingMessage, pingPayload(seq), deadline)
}

// abort tears the connection down because of a local liveness failure. The
// read loop then reports err instead of the resulting read error.
func (c *WSChannel) abort(err error) {
	if !errors.Is(err, ErrKeepAliveTimeout) {
		err = fmt.Errorf("ping failed: %w", err)
	}
	c.abortMu.Lock()
	if c.abortErr == nil {
		c.abortErr = err
	}
	c.abortMu.Unlock()

	c.logger.Warn("controller link dead", "error", err)
	c.conn.Close()
}

func (c *WSChannel) readLoop() {
	defer close(c.done)

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}

		switch msgType {
		case websocket.TextMessage:
			if c.closed.Load() {
				return
			}
			c.handler.OnMessage(data)
		default:
			c.dropped.Add(1)
			c.logger.Debug("dropping binary frame", "size", len(data))
		}
	}
}

// finish reports the end of the channel unless it was closed locally.
func (c *WSChannel) finish(readErr error) {
	c.ended.Store(true)
	if c.keepAlive != nil {
		c.keepAlive.Stop()
	}
	if c.closed.Load() {
		return
	}
	c.conn.Close()

	c.abortMu.Lock()
	err := c.abortErr
	c.abortMu.Unlock()

	if err == nil {
		if websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			err = fmt.Errorf("%w: %v", ErrPeerClosed, readErr)
		} else {
			err = fmt.Errorf("read failed: %w", readErr)
		}
	}

	c.notifyOnce.Do(func() {
		c.logger.Debug("channel closed", "error", err)
		c.handler.OnClose(err)
	})
}
