// Package session implements the phone side of a BZZT controller link.
//
// A Session owns at most one transport channel at a time and moves through
// four states:
//
//	DISCONNECTED --Connect--> CONNECTING --dial ok--> CONNECTED --register sent--> REGISTERED
//	     ^                         |                      |                            |
//	     +------ dial failed / Disconnect / transport closed / register failed --------+
//
// Immediately after the channel opens the session sends the register frame
// {"command":"register","type":"phone"}. Inbound frames are buffered until
// that send returns and are then decoded and dispatched one at a time, in
// arrival order, by a consumer goroutine dedicated to the connection.
//
// # Failure Handling
//
// The session never retries on its own. A failed Connect returns a
// *ConnectError and leaves the session DISCONNECTED. A transport that closes
// while CONNECTED or REGISTERED produces EventConnectionLost carrying a
// *TransportError. A frame that fails to decode produces EventDecodeFailed
// and is otherwise ignored. Callers that want automatic reconnection use
// pkg/connection.
//
// # Generations
//
// Every connection attempt gets a new generation number and every teardown
// increments it again. Frames and close notifications from a channel whose
// generation is no longer current are dropped, so a late callback from a
// previous connection can never affect the current one.
package session
