package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// registerFrame is the encoded register message. It never changes, so it is
// built once.
var registerFrame = mustMarshal(NewRegisterMessage())

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("failed to encode %T: %v", v, err))
	}
	return data
}

// EncodeRegister returns the register frame:
//
//	{"command":"register","type":"phone"}
//
// The returned slice is a fresh copy and may be modified by the caller.
func EncodeRegister() []byte {
	return bytes.Clone(registerFrame)
}

// EncodePulse encodes a pulse command to a JSON text frame.
func EncodePulse(cmd PulseCommand) ([]byte, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pulse command: %w", err)
	}
	return json.Marshal(cmd)
}

// EncodeBuzz encodes a controller relay message.
func EncodeBuzz(cmd PulseCommand) ([]byte, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pulse command: %w", err)
	}
	return json.Marshal(NewBuzzMessage(cmd))
}

// DecodeRegister decodes a register frame. It is used by controllers and
// tests; a phone never receives one.
func DecodeRegister(frame []byte) (RegisterMessage, error) {
	var msg RegisterMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return RegisterMessage{}, fmt.Errorf("failed to decode register message: %w", err)
	}
	if msg.Command != CommandRegister {
		return RegisterMessage{}, fmt.Errorf("unexpected command %q", msg.Command)
	}
	return msg, nil
}

// DecodePulse decodes one inbound text frame into a PulseCommand.
//
// The frame must be exactly one JSON object with integral "intensity" and
// "duration" numbers, both >= 0. 500, 500.0 and 5e2 all decode to 500;
// 500.5 does not. Any other field is ignored. On failure the
// returned error is a *DecodeError and the command is the zero value; a
// partial command is never returned.
func DecodePulse(frame []byte) (PulseCommand, error) {
	dec := json.NewDecoder(bytes.NewReader(frame))

	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return PulseCommand{}, &DecodeError{Reason: ReasonMalformed, Err: err}
	}
	if fields == nil {
		// The document was the literal null.
		return PulseCommand{}, &DecodeError{Reason: ReasonMalformed, Err: errors.New("not an object")}
	}
	if _, err := dec.Token(); err != io.EOF {
		return PulseCommand{}, &DecodeError{Reason: ReasonMalformed, Err: errors.New("trailing data after object")}
	}

	intensity, err := intField(fields, FieldIntensity)
	if err != nil {
		return PulseCommand{}, err
	}
	duration, err := intField(fields, FieldDuration)
	if err != nil {
		return PulseCommand{}, err
	}

	return PulseCommand{Intensity: intensity, Duration: duration}, nil
}

// intField extracts a non-negative JSON number with an integral value.
func intField(fields map[string]json.RawMessage, name string) (int, error) {
	raw, ok := fields[name]
	if !ok {
		return 0, &DecodeError{Reason: ReasonMissingField, Field: name}
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		// null, strings, booleans, objects and arrays
		return 0, &DecodeError{Reason: ReasonWrongType, Field: name}
	}
	negative := raw[0] == '-'

	v, err := strconv.ParseInt(string(raw), 10, strconv.IntSize)
	if err == nil {
		if v < 0 {
			return 0, &DecodeError{Reason: ReasonNegative, Field: name}
		}
		return int(v), nil
	}

	var numErr *strconv.NumError
	if errors.As(err, &numErr) && numErr.Err == strconv.ErrRange {
		return 0, rangeError(name, negative, err)
	}

	// Fractions and exponents: accept them when the value is integral.
	return floatField(name, string(raw), negative)
}

// floatField handles numbers written with a fraction or exponent. raw has
// already been validated as a JSON number by the decoder.
func floatField(name, raw string, negative bool) (int, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && numErr.Err == strconv.ErrRange && math.IsInf(f, 0) {
			return 0, rangeError(name, negative, err)
		}
		return 0, &DecodeError{Reason: ReasonWrongType, Field: name, Err: err}
	}

	if math.Trunc(f) != f || (f == 0 && underflows(raw)) {
		return 0, &DecodeError{Reason: ReasonWrongType, Field: name,
			Err: fmt.Errorf("%s is not an integer", raw)}
	}
	if f < 0 {
		return 0, &DecodeError{Reason: ReasonNegative, Field: name}
	}
	if f >= math.Ldexp(1, strconv.IntSize-1) {
		return 0, &DecodeError{Reason: ReasonOverflow, Field: name,
			Err: fmt.Errorf("%s does not fit in int", raw)}
	}
	return int(f), nil
}

// underflows reports whether a number that parsed to zero has a non-zero
// mantissa, as in 1e-400.
func underflows(raw string) bool {
	mantissa, _, _ := strings.Cut(strings.ToLower(raw), "e")
	return strings.ContainsAny(mantissa, "123456789")
}

// rangeError classifies a number too large in magnitude for int. Sign
// decides before size does.
func rangeError(name string, negative bool, err error) error {
	if negative {
		return &DecodeError{Reason: ReasonNegative, Field: name, Err: err}
	}
	return &DecodeError{Reason: ReasonOverflow, Field: name, Err: err}
}
