package wire

import "fmt"

// Command values carried in the "command" field.
const (
	CommandRegister = "register"
	CommandBuzz     = "buzz"
)

// Role tags carried in the "type" field of a register message.
const (
	RolePhone      = "phone"
	RoleController = "controller"
)

// Field names of a pulse command.
const (
	FieldIntensity = "intensity"
	FieldDuration  = "duration"
)

// RegisterMessage is sent by the phone immediately after the connection is
// established.
//
//	{"command":"register","type":"phone"}
type RegisterMessage struct {
	Command string `json:"command"`
	Type    string `json:"type"`
}

// NewRegisterMessage returns the register message for the phone role.
func NewRegisterMessage() RegisterMessage {
	return RegisterMessage{Command: CommandRegister, Type: RolePhone}
}

// PulseCommand asks the phone to vibrate.
//
//	{"intensity":200,"duration":500}
type PulseCommand struct {
	// Intensity is passed through unchanged; the actuator defines its range.
	Intensity int `json:"intensity"`

	// Duration is the pulse length in milliseconds.
	Duration int `json:"duration"`
}

// Validate checks the invariants the decoder enforces on inbound commands.
func (c PulseCommand) Validate() error {
	if c.Intensity < 0 {
		return fmt.Errorf("intensity must not be negative, got %d", c.Intensity)
	}
	if c.Duration < 0 {
		return fmt.Errorf("duration must not be negative, got %d", c.Duration)
	}
	return nil
}

// String returns a compact representation for logs.
func (c PulseCommand) String() string {
	return fmt.Sprintf("pulse(intensity=%d, duration=%dms)", c.Intensity, c.Duration)
}

// BuzzMessage is what a controller client sends to have every registered
// phone pulse. The controller forwards it verbatim, so phones receive it as a
// pulse command with an extra "command" field.
type BuzzMessage struct {
	Command   string `json:"command"`
	Intensity int    `json:"intensity"`
	Duration  int    `json:"duration"`
}

// NewBuzzMessage wraps a pulse command in the controller relay envelope.
func NewBuzzMessage(cmd PulseCommand) BuzzMessage {
	return BuzzMessage{
		Command:   CommandBuzz,
		Intensity: cmd.Intensity,
		Duration:  cmd.Duration,
	}
}
