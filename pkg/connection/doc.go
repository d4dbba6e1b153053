// Package connection keeps a BZZT session registered with its controller.
//
// A Reconnector drives a session.Session (through the Connector interface)
// and starts a series of attempts on Start and whenever the session reports
// EventConnectionLost. A local Disconnect never triggers one.
//
// # Reconnection Strategy
//
// Between failed attempts the reconnector waits with exponential backoff:
//
//  1. Initial delay: 1 second
//  2. Exponential increase: 2s, 4s, 8s, 16s, 32s
//  3. Maximum delay: 60 seconds
//  4. Continue at 60s until successful
//  5. Reset to 1s on successful registration
//
// # Jitter
//
// To keep a room full of phones from hammering a restarted controller in
// lockstep:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
//
// The address is resolved again before each attempt, so a Resolver backed by
// mDNS discovery follows a controller that came back on a new address.
package connection
