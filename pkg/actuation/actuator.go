package actuation

import (
	"fmt"
	"time"
)

// Default intensity range, matching the one-shot amplitude range of common
// phone vibrators.
const (
	DefaultMinIntensity = 1
	DefaultMaxIntensity = 255
)

// Actuator is a device that can produce a timed vibration.
type Actuator interface {
	// Pulse starts a vibration of the given intensity for durationMs
	// milliseconds. It must not block for the length of the pulse.
	// Inputs are already clamped to Capability.
	Pulse(intensity, durationMs int)

	// Capability reports the supported ranges.
	Capability() Capability
}

// Capability describes what an actuator accepts.
type Capability struct {
	MinIntensity int `yaml:"minIntensity"`
	MaxIntensity int `yaml:"maxIntensity"`

	// MaxDuration caps a single pulse. Zero means no cap.
	MaxDuration time.Duration `yaml:"maxDuration"`
}

// DefaultCapability returns the 1..255 intensity range with no duration cap.
func DefaultCapability() Capability {
	return Capability{
		MinIntensity: DefaultMinIntensity,
		MaxIntensity: DefaultMaxIntensity,
	}
}

// Validate checks that the ranges are usable.
func (c Capability) Validate() error {
	if c.MinIntensity < 0 {
		return fmt.Errorf("minimum intensity must not be negative, got %d", c.MinIntensity)
	}
	if c.MaxIntensity < c.MinIntensity {
		return fmt.Errorf("maximum intensity %d is below minimum %d", c.MaxIntensity, c.MinIntensity)
	}
	if c.MaxDuration < 0 {
		return fmt.Errorf("maximum duration must not be negative, got %v", c.MaxDuration)
	}
	return nil
}

// MaxDurationMs returns MaxDuration in milliseconds, 0 when uncapped.
func (c Capability) MaxDurationMs() int {
	return int(c.MaxDuration / time.Millisecond)
}
