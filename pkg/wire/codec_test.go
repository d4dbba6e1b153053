package wire

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"testing"
)

func TestEncodeRegister(t *testing.T) {
	got := string(EncodeRegister())
	want := `{"command":"register","type":"phone"}`
	if got != want {
		t.Errorf("EncodeRegister() = %s, want %s", got, want)
	}

	// Callers may scribble over the returned frame.
	frame := EncodeRegister()
	frame[0] = 'x'
	if string(EncodeRegister()) != want {
		t.Error("EncodeRegister() returned shared backing storage")
	}
}

func TestDecodeRegister(t *testing.T) {
	msg, err := DecodeRegister(EncodeRegister())
	if err != nil {
		t.Fatalf("DecodeRegister() error = %v", err)
	}
	if msg.Type != RolePhone {
		t.Errorf("Type = %q, want %q", msg.Type, RolePhone)
	}

	if _, err := DecodeRegister([]byte(`{"command":"buzz"}`)); err == nil {
		t.Error("DecodeRegister() accepted a buzz message")
	}
}

func TestDecodePulseValid(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  PulseCommand
	}{
		{"plain", `{"intensity":200,"duration":500}`, PulseCommand{200, 500}},
		{"reversed order", `{"duration":500,"intensity":200}`, PulseCommand{200, 500}},
		{"zero values", `{"intensity":0,"duration":0}`, PulseCommand{0, 0}},
		{"above device range", `{"intensity":999,"duration":500}`, PulseCommand{999, 500}},
		{"relayed buzz", `{"command":"buzz","intensity":128,"duration":1000}`, PulseCommand{128, 1000}},
		{"extra fields", `{"intensity":1,"duration":2,"zone":"kitchen","nested":{"a":[1,2]}}`, PulseCommand{1, 2}},
		{"whitespace", " \n{ \"intensity\" : 10 ,\t\"duration\" : 20 }\n ", PulseCommand{10, 20}},
		{"negative zero", `{"intensity":-0,"duration":5}`, PulseCommand{0, 5}},
		{"duplicate key last wins", `{"intensity":1,"intensity":7,"duration":5}`, PulseCommand{7, 5}},
		{"integral float", `{"intensity":200.0,"duration":500.0}`, PulseCommand{200, 500}},
		{"exponent", `{"intensity":2e2,"duration":5E2}`, PulseCommand{200, 500}},
		{"fraction with exponent", `{"intensity":2.5e1,"duration":1.5E3}`, PulseCommand{25, 1500}},
		{"negative zero float", `{"intensity":-0.0,"duration":0e0}`, PulseCommand{0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodePulse([]byte(tt.frame))
			if err != nil {
				t.Fatalf("DecodePulse() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DecodePulse() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodePulseInvalid(t *testing.T) {
	tooBig := strconv.FormatUint(math.MaxUint64, 10)

	tests := []struct {
		name   string
		frame  string
		reason DecodeReason
		field  string
	}{
		{"empty frame", ``, ReasonMalformed, ""},
		{"not json", `bzzt`, ReasonMalformed, ""},
		{"truncated", `{"intensity":200,"duration":`, ReasonMalformed, ""},
		{"array document", `[200,500]`, ReasonMalformed, ""},
		{"string document", `"pulse"`, ReasonMalformed, ""},
		{"null document", `null`, ReasonMalformed, ""},
		{"trailing object", `{"intensity":1,"duration":2}{}`, ReasonMalformed, ""},
		{"trailing garbage", `{"intensity":1,"duration":2} x`, ReasonMalformed, ""},
		{"missing intensity", `{"duration":500}`, ReasonMissingField, FieldIntensity},
		{"missing duration", `{"intensity":200}`, ReasonMissingField, FieldDuration},
		{"empty object", `{}`, ReasonMissingField, FieldIntensity},
		{"string intensity", `{"intensity":"high","duration":500}`, ReasonWrongType, FieldIntensity},
		{"numeric string", `{"intensity":"200","duration":500}`, ReasonWrongType, FieldIntensity},
		{"null duration", `{"intensity":200,"duration":null}`, ReasonWrongType, FieldDuration},
		{"bool duration", `{"intensity":200,"duration":true}`, ReasonWrongType, FieldDuration},
		{"object intensity", `{"intensity":{},"duration":1}`, ReasonWrongType, FieldIntensity},
		{"fractional", `{"intensity":200.5,"duration":500}`, ReasonWrongType, FieldIntensity},
		{"fractional exponent", `{"intensity":2e-1,"duration":500}`, ReasonWrongType, FieldIntensity},
		{"underflow", `{"intensity":1e-400,"duration":500}`, ReasonWrongType, FieldIntensity},
		{"negative float", `{"intensity":200,"duration":-1.0}`, ReasonNegative, FieldDuration},
		{"negative duration", `{"intensity":200,"duration":-1}`, ReasonNegative, FieldDuration},
		{"negative intensity", `{"intensity":-5,"duration":10}`, ReasonNegative, FieldIntensity},
		{"overflow", `{"intensity":` + tooBig + `,"duration":10}`, ReasonOverflow, FieldIntensity},
		{"negative overflow", `{"intensity":-` + tooBig + `,"duration":10}`, ReasonNegative, FieldIntensity},
		{"float overflow", `{"intensity":1e30,"duration":10}`, ReasonOverflow, FieldIntensity},
		{"exponent out of range", `{"intensity":1,"duration":1e400}`, ReasonOverflow, FieldDuration},
		{"negative exponent out of range", `{"intensity":-1e400,"duration":1}`, ReasonNegative, FieldIntensity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodePulse([]byte(tt.frame))
			if err == nil {
				t.Fatalf("DecodePulse() = %+v, want error", got)
			}
			if got != (PulseCommand{}) {
				t.Errorf("DecodePulse() returned partial command %+v", got)
			}
			if !errors.Is(err, ErrDecode) {
				t.Errorf("errors.Is(err, ErrDecode) = false for %v", err)
			}

			var decErr *DecodeError
			if !errors.As(err, &decErr) {
				t.Fatalf("error %T is not a *DecodeError", err)
			}
			if decErr.Reason != tt.reason {
				t.Errorf("Reason = %v, want %v", decErr.Reason, tt.reason)
			}
			if decErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", decErr.Field, tt.field)
			}
		})
	}
}

func TestPulseRoundTrip(t *testing.T) {
	for _, cmd := range []PulseCommand{
		{0, 0},
		{1, 1},
		{255, 500},
		{999, 60000},
		{math.MaxInt32, math.MaxInt32},
	} {
		data, err := EncodePulse(cmd)
		if err != nil {
			t.Fatalf("EncodePulse(%v) error = %v", cmd, err)
		}
		got, err := DecodePulse(data)
		if err != nil {
			t.Fatalf("DecodePulse(%s) error = %v", data, err)
		}
		if got != cmd {
			t.Errorf("round trip = %+v, want %+v", got, cmd)
		}
	}
}

func TestEncodePulseRejectsNegative(t *testing.T) {
	if _, err := EncodePulse(PulseCommand{Intensity: 10, Duration: -1}); err == nil {
		t.Error("EncodePulse() accepted negative duration")
	}
	if _, err := EncodeBuzz(PulseCommand{Intensity: -1, Duration: 1}); err == nil {
		t.Error("EncodeBuzz() accepted negative intensity")
	}
}

func TestEncodeBuzzIsAcceptedAsPulse(t *testing.T) {
	data, err := EncodeBuzz(PulseCommand{Intensity: 42, Duration: 250})
	if err != nil {
		t.Fatalf("EncodeBuzz() error = %v", err)
	}

	var envelope map[string]any
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("buzz frame is not JSON: %v", err)
	}
	if envelope["command"] != CommandBuzz {
		t.Errorf("command = %v, want %q", envelope["command"], CommandBuzz)
	}

	cmd, err := DecodePulse(data)
	if err != nil {
		t.Fatalf("DecodePulse(buzz) error = %v", err)
	}
	if cmd.Intensity != 42 || cmd.Duration != 250 {
		t.Errorf("DecodePulse(buzz) = %+v", cmd)
	}
}

func TestDecodeReasonString(t *testing.T) {
	tests := []struct {
		reason DecodeReason
		want   string
	}{
		{ReasonMalformed, "MALFORMED"},
		{ReasonMissingField, "MISSING_FIELD"},
		{ReasonWrongType, "WRONG_TYPE"},
		{ReasonNegative, "NEGATIVE"},
		{ReasonOverflow, "OVERFLOW"},
		{DecodeReason(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.reason.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
