// Package version provides BZZT protocol version parsing and comparison.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Current is the protocol version implemented by this library.
const Current = "1.0"

// ProtocolVersion is a parsed "major[.minor]" protocol version.
type ProtocolVersion struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major" or "major.minor" version string. A missing minor
// component is zero.
func Parse(s string) (ProtocolVersion, error) {
	majorStr, minorStr, hasMinor := strings.Cut(s, ".")

	major, err := parseComponent(majorStr)
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad major component", s)
	}
	if !hasMinor {
		return ProtocolVersion{Major: major}, nil
	}

	minor, err := parseComponent(minorStr)
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}
	return ProtocolVersion{Major: major, Minor: minor}, nil
}

func parseComponent(s string) (uint16, error) {
	if s == "" {
		return 0, fmt.Errorf("empty component")
	}
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(n), nil
}

// MustCurrent returns the parsed Current version.
func MustCurrent() ProtocolVersion {
	v, err := Parse(Current)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the version as "major.minor".
func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible returns true if the other version has the same major version.
// Minor revisions only add optional fields, which the decoder ignores.
func (v ProtocolVersion) Compatible(other ProtocolVersion) bool {
	return v.Major == other.Major
}

// CheckCompatible parses an advertised version and reports whether this
// library can talk to it. An empty string is accepted as the current major.
func CheckCompatible(advertised string) error {
	if advertised == "" {
		return nil
	}
	v, err := Parse(advertised)
	if err != nil {
		return err
	}
	if !MustCurrent().Compatible(v) {
		return fmt.Errorf("protocol version %s not compatible with %s", v, Current)
	}
	return nil
}
