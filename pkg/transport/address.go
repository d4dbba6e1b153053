package transport

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// DefaultPort is the controller port assumed when an address has none.
const DefaultPort = 8080

// ErrInvalidAddress is returned for controller addresses that cannot be used.
var ErrInvalidAddress = errors.New("invalid controller address")

// ParseAddress normalizes a controller address into a websocket URL.
//
// Accepted forms are "host:port", "host", "ws://host[:port][/path]" and
// "wss://host[:port][/path]". Plain ws:// URLs and bare hosts without a port
// get DefaultPort; wss:// keeps the scheme default.
func ParseAddress(address string) (*url.URL, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	if strings.Contains(address, "://") {
		return parseURL(address)
	}

	host, port, err := net.SplitHostPort(address)
	if err != nil {
		// No port, or an unbracketed IPv6 literal.
		host = strings.Trim(address, "[]")
		port = strconv.Itoa(DefaultPort)
	}
	if err := checkHostPort(host, port); err != nil {
		return nil, err
	}

	return &url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(host, port),
		Path:   "/",
	}, nil
}

func parseURL(address string) (*url.URL, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidAddress, u.Scheme)
	}

	host, port := u.Hostname(), u.Port()
	if port == "" && u.Scheme == "ws" {
		port = strconv.Itoa(DefaultPort)
	}
	if port != "" {
		if err := checkHostPort(host, port); err != nil {
			return nil, err
		}
		u.Host = net.JoinHostPort(host, port)
	} else if host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidAddress)
	}

	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

func checkHostPort(host, port string) error {
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidAddress)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("%w: bad port %q", ErrInvalidAddress, port)
	}
	return nil
}
