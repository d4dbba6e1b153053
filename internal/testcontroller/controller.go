// Package testcontroller provides an in-process BZZT controller for tests.
//
// It speaks the controller side of the protocol over a real websocket:
// clients register as "phone" or "controller", a "buzz" from anyone is
// relayed verbatim to every registered phone, and tests can push arbitrary
// frames or cut connections to exercise the phone client.
package testcontroller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bzzt-protocol/bzzt-go/pkg/wire"
)

// ErrNoPhones is returned when a send finds no registered phone.
var ErrNoPhones = errors.New("no registered phones")

const writeTimeout = 2 * time.Second

// Peer is one accepted websocket client.
type Peer struct {
	conn *websocket.Conn
	role string

	mu       sync.Mutex
	received [][]byte
}

// Role returns the registered role, or "" before registration.
func (p *Peer) Role() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.role
}

// Received returns the text frames received from the peer.
func (p *Peer) Received() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.received))
	copy(out, p.received)
	return out
}

func (p *Peer) write(messageType int, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.conn.WriteMessage(messageType, data)
}

// Controller is a running test controller.
type Controller struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu         sync.Mutex
	peers      map[*Peer]struct{}
	registered chan *Peer
	closed     bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// New starts a controller on a loopback port.
func New(opts ...Option) *Controller {
	c := &Controller{
		logger:     slog.New(slog.DiscardHandler),
		peers:      make(map[*Peer]struct{}),
		registered: make(chan *Peer, 16),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.server = httptest.NewServer(http.HandlerFunc(c.serveHTTP))
	return c
}

// Address returns the controller as host:port.
func (c *Controller) Address() string {
	return strings.TrimPrefix(c.server.URL, "http://")
}

// URL returns the controller as a ws:// URL.
func (c *Controller) URL() string {
	return "ws://" + c.Address() + "/"
}

// WaitRegistered blocks until a phone registers and returns it.
func (c *Controller) WaitRegistered(ctx context.Context) (*Peer, error) {
	select {
	case p := <-c.registered:
		return p, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for phone registration: %w", ctx.Err())
	}
}

// Phones returns the registered phones.
func (c *Controller) Phones() []*Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var phones []*Peer
	for p := range c.peers {
		if p.Role() == wire.RolePhone {
			phones = append(phones, p)
		}
	}
	return phones
}

// Buzz relays a buzz to every registered phone, as a controller client
// would trigger it.
func (c *Controller) Buzz(cmd wire.PulseCommand) error {
	frame, err := wire.EncodeBuzz(cmd)
	if err != nil {
		return err
	}
	return c.Send(frame)
}

// Send writes a raw text frame to every registered phone.
func (c *Controller) Send(frame []byte) error {
	return c.broadcast(websocket.TextMessage, frame)
}

// SendBinary writes a binary frame to every registered phone.
func (c *Controller) SendBinary(data []byte) error {
	return c.broadcast(websocket.BinaryMessage, data)
}

func (c *Controller) broadcast(messageType int, data []byte) error {
	phones := c.Phones()
	if len(phones) == 0 {
		return ErrNoPhones
	}
	var errs []error
	for _, p := range phones {
		if err := p.write(messageType, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ClosePhones sends a normal close frame to every phone and closes the
// connections.
func (c *Controller) ClosePhones() {
	for _, p := range c.Phones() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		p.mu.Lock()
		_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
		p.mu.Unlock()
		_ = p.conn.Close()
	}
}

// DropPhones closes every phone connection without a close frame.
func (c *Controller) DropPhones() {
	for _, p := range c.Phones() {
		_ = p.conn.Close()
	}
}

// Close stops the controller and closes all connections.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	peers := make([]*Peer, 0, len(c.peers))
	for p := range c.peers {
		peers = append(peers, p)
	}
	c.mu.Unlock()

	for _, p := range peers {
		_ = p.conn.Close()
	}
	c.server.Close()
}

func (c *Controller) serveHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Debug("upgrade failed", "error", err)
		return
	}

	p := &Peer{conn: conn}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.peers[p] = struct{}{}
	c.mu.Unlock()

	c.logger.Debug("client connected", "remote", conn.RemoteAddr().String())
	c.readLoop(p)

	c.mu.Lock()
	delete(c.peers, p)
	c.mu.Unlock()
	conn.Close()
}

type envelope struct {
	Command string `json:"command"`
}

func (c *Controller) readLoop(p *Peer) {
	for {
		messageType, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		p.mu.Lock()
		p.received = append(p.received, data)
		p.mu.Unlock()

		var msg envelope
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("ignoring malformed frame", "error", err)
			continue
		}

		switch msg.Command {
		case wire.CommandRegister:
			reg, err := wire.DecodeRegister(data)
			if err != nil {
				c.logger.Debug("ignoring register frame", "error", err)
				continue
			}
			p.mu.Lock()
			p.role = reg.Type
			p.mu.Unlock()
			c.logger.Debug("client registered", "role", reg.Type)
			if reg.Type == wire.RolePhone {
				select {
				case c.registered <- p:
				default:
				}
			}
		case wire.CommandBuzz:
			// Relayed verbatim, extra fields included.
			if err := c.Send(data); err != nil {
				c.logger.Debug("buzz relay failed", "error", err)
			}
		}
	}
}
