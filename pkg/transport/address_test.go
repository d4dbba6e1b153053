package transport

import (
	"errors"
	"testing"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"10.0.0.5:8080", "ws://10.0.0.5:8080/"},
		{"10.0.0.5:9000", "ws://10.0.0.5:9000/"},
		{"10.0.0.5", "ws://10.0.0.5:8080/"},
		{"controller.local", "ws://controller.local:8080/"},
		{" controller.local:1234 ", "ws://controller.local:1234/"},
		{"::1", "ws://[::1]:8080/"},
		{"[::1]:9000", "ws://[::1]:9000/"},
		{"ws://10.0.0.5", "ws://10.0.0.5:8080/"},
		{"ws://10.0.0.5:81/buzz", "ws://10.0.0.5:81/buzz"},
		{"wss://controller.example.com", "wss://controller.example.com/"},
		{"wss://controller.example.com:8443/ws", "wss://controller.example.com:8443/ws"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			u, err := ParseAddress(tt.in)
			if err != nil {
				t.Fatalf("ParseAddress(%q) error = %v", tt.in, err)
			}
			if got := u.String(); got != tt.want {
				t.Errorf("ParseAddress(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseAddressInvalid(t *testing.T) {
	for _, in := range []string{
		"",
		"   ",
		"http://10.0.0.5",
		"10.0.0.5:0",
		"10.0.0.5:70000",
		"10.0.0.5:http",
		":8080",
		"ws://:8080",
		"ws://host:99999",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseAddress(in)
			if !errors.Is(err, ErrInvalidAddress) {
				t.Errorf("ParseAddress(%q) error = %v, want ErrInvalidAddress", in, err)
			}
		})
	}
}
