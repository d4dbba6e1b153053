// Package actuation turns decoded pulse commands into calls on a vibration
// actuator.
//
// # Range Policy
//
// The wire decoder only guarantees non-negative integers. The Dispatcher
// owns the domain check against the actuator's Capability and always clamps,
// never rejects:
//
//	intensity' = min(max(intensity, MinIntensity), MaxIntensity)
//	duration'  = min(duration, MaxDuration)    (MaxDuration 0 = unlimited)
//
// A controller asking for intensity 999 on a device whose maximum is 255
// therefore gets a full-strength pulse rather than nothing. This is a
// physical behavior choice: a too-strong request still produces feedback.
//
// # Pre-emption
//
// The dispatcher keeps no queue. Every valid command produces exactly one
// Pulse call, even while an earlier pulse is still running. What happens to
// the running pulse is up to the actuator; both actuators in this package
// replace it (last command wins).
package actuation
