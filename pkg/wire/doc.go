// Package wire defines the JSON text frames exchanged between a BZZT phone
// and its controller.
//
// Every frame is a single JSON object carried in one websocket text message.
//
// # Message Types
//
// There are two messages on the phone side of the protocol:
//   - Register: phone to controller, once per connection, identifies the role
//   - Pulse: controller to phone, any number of times, requests a vibration
//
//	{"command":"register","type":"phone"}
//	{"intensity":200,"duration":500}
//
// The controller relays pulse commands as it received them from another
// client, so inbound frames usually also carry "command":"buzz". Fields that
// are not part of the pulse shape are ignored.
//
// # Decoding
//
// DecodePulse validates shape and type only. Both fields must be JSON numbers
// with an integral value (200, 200.0 and 2e2 are the same) that fit an int
// and are not negative. Whether the intensity is
// supported by the hardware is decided later by the actuation dispatcher.
package wire
