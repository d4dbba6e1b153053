// Package log provides structured protocol logging for the BZZT phone client.
//
// It is separate from operational logging (slog): protocol capture records a
// machine-readable trace of every frame, decoded message, state change and
// dispatched pulse so a session can be replayed and analysed afterwards.
//
// # Basic Usage
//
//	// For development: log to console via slog
//	s := session.New(dialer, dispatcher,
//	    session.WithProtocolLogger(log.NewSlogAdapter(slog.Default())))
//
//	// For field capture: write to a CBOR file with rotation
//	fl, _ := log.NewFileLogger("/var/log/bzzt/phone.blog", log.Rotation{MaxSizeMB: 10})
//
//	// Both: use MultiLogger
//	log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # Event Types
//
// Events are captured at four layers:
//   - Transport: raw text frames (FrameEvent)
//   - Wire: decoded register and pulse messages (MessageEvent)
//   - Session: state changes (StateChangeEvent)
//   - Actuation: the clamped pulse handed to the actuator (ActuationEvent)
//
// Errors at any layer use ErrorEventData.
//
// # File Format
//
// Log files are a stream of CBOR-encoded events with integer keys, usually
// with a .blog extension. The bzzt-log tool views, filters and exports them.
package log
