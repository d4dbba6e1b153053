// Package transport provides the message channel between a phone and its
// controller.
//
// The session layer only sees three small interfaces: a Dialer opens a
// Channel and reports inbound traffic to a Handler. The concrete
// implementation is a websocket client built on gorilla/websocket.
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│      JSON text frames          │
//	├────────────────────────────────┤
//	│   WebSocket (RFC 6455)         │
//	├────────────────────────────────┤
//	│   optional TLS (wss://)        │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// # Addresses
//
// A controller address may be given as "host:port", as a bare "host" (port
// 8080 is assumed), or as a full ws:// or wss:// URL.
//
// # Frames
//
// Text frames are handed to Handler.OnMessage in arrival order. Binary
// frames are not part of the protocol and are dropped.
//
// # Keep-Alive
//
// Liveness is monitored with websocket ping/pong control frames carrying a
// sequence number:
//   - Ping interval: 15 seconds
//   - Pong timeout: 5 seconds
//   - Max missed pongs: 2
//
// A negative ping interval disables keep-alive.
package transport
