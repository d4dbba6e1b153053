package wire

import (
	"errors"
	"fmt"
)

// ErrDecode matches every *DecodeError via errors.Is.
var ErrDecode = errors.New("invalid pulse command")

// DecodeReason classifies why a frame was rejected.
type DecodeReason uint8

const (
	// ReasonMalformed means the frame is not a single JSON object.
	ReasonMalformed DecodeReason = iota

	// ReasonMissingField means a mandatory field is absent.
	ReasonMissingField

	// ReasonWrongType means a field is not a JSON number with an integral value.
	ReasonWrongType

	// ReasonNegative means a field holds a negative integer.
	ReasonNegative

	// ReasonOverflow means a field does not fit an int.
	ReasonOverflow
)

// String returns the reason name.
func (r DecodeReason) String() string {
	switch r {
	case ReasonMalformed:
		return "MALFORMED"
	case ReasonMissingField:
		return "MISSING_FIELD"
	case ReasonWrongType:
		return "WRONG_TYPE"
	case ReasonNegative:
		return "NEGATIVE"
	case ReasonOverflow:
		return "OVERFLOW"
	default:
		return "UNKNOWN"
	}
}

// DecodeError describes a frame that did not decode into a PulseCommand.
type DecodeError struct {
	Reason DecodeReason

	// Field is empty for ReasonMalformed.
	Field string

	// Err is the underlying parser error, if any.
	Err error
}

func (e *DecodeError) Error() string {
	msg := ErrDecode.Error() + ": " + e.Reason.String()
	if e.Field != "" {
		msg += fmt.Sprintf(" (%s)", e.Field)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is reports whether target is ErrDecode.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}
