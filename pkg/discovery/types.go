package discovery

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/bzzt-protocol/bzzt-go/pkg/version"
)

// Service constants for mDNS.
const (
	// ServiceType is the DNS-SD service type of a controller.
	ServiceType = "_bzzt._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the controller port used when none is given.
	DefaultPort = 8080

	// ProtocolVersion is advertised in the ver TXT record.
	ProtocolVersion = version.Current
)

// TXT record key constants.
const (
	TXTKeyRole    = "role" // always RoleController
	TXTKeyPath    = "path" // websocket path (optional, default "/")
	TXTKeyName    = "name" // controller name (optional)
	TXTKeyVersion = "ver"  // protocol version (optional)
	TXTKeyTLS     = "tls"  // "1" when only wss:// is served (optional)

	// RoleController is the only accepted role value.
	RoleController = "controller"
)

// Limits.
const (
	// BrowseTimeout is the default time FindController waits.
	BrowseTimeout = 5 * time.Second

	// MaxInstanceNameLen is the maximum DNS-SD instance name length.
	MaxInstanceNameLen = 63

	// MaxTXTRecordSize is the maximum total TXT record size we emit.
	MaxTXTRecordSize = 400
)

// Discovery errors.
var (
	ErrNotFound         = errors.New("no controller found")
	ErrInvalidTXTRecord = errors.New("invalid TXT record format")
	ErrMissingRequired  = errors.New("missing required TXT field")
	ErrNotAdvertising   = errors.New("not advertising")
	ErrIncompatible     = errors.New("incompatible controller")
)

// ControllerInfo is what a controller advertises.
type ControllerInfo struct {
	// Name is the instance name and the name TXT record.
	Name string

	// Port is the websocket port. Zero selects DefaultPort.
	Port uint16

	// Path is the websocket path. Empty means "/".
	Path string

	// TLS marks a controller reachable only through wss://.
	TLS bool
}

// ControllerService is a controller found by browsing.
type ControllerService struct {
	InstanceName string
	Host         string
	Port         uint16

	// Addresses holds IPv4 addresses first, then IPv6, in announcement
	// order.
	Addresses []string

	Name    string
	Path    string
	Version string
	TLS     bool
}

// Address returns a dialable address for the controller. It prefers the
// first announced IP and falls back to the host name. Controllers on a plain
// root path yield host:port, everything else a ws:// or wss:// URL.
func (s *ControllerService) Address() string {
	host := strings.TrimSuffix(s.Host, ".")
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	port := s.Port
	if port == 0 {
		port = DefaultPort
	}
	hostPort := net.JoinHostPort(host, strconv.Itoa(int(port)))

	path := s.Path
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	switch {
	case s.TLS:
		if path == "" {
			path = "/"
		}
		return "wss://" + hostPort + path
	case path == "" || path == "/":
		return hostPort
	default:
		return "ws://" + hostPort + path
	}
}

// DisplayName returns Name, or the instance name when no name was
// advertised.
func (s *ControllerService) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.InstanceName
}

// Browser finds controllers.
// Implemented by MDNSBrowser.
type Browser interface {
	// BrowseControllers streams controllers as they are found. The channel
	// is closed when ctx is done.
	BrowseControllers(ctx context.Context) (<-chan *ControllerService, error)

	// FindController returns the first controller found, or ErrNotFound
	// once the browse timeout or ctx expires.
	FindController(ctx context.Context) (*ControllerService, error)

	// Stop ends all running browse operations.
	Stop()
}

// Advertiser announces a controller.
// Implemented by MDNSAdvertiser.
type Advertiser interface {
	// Advertise starts (or replaces) the announcement.
	Advertise(ctx context.Context, info *ControllerInfo) error

	// Update replaces the TXT records of the running announcement.
	Update(info *ControllerInfo) error

	// Stop ends the announcement.
	Stop() error
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout bounds FindController. Default: 5 seconds.
	BrowseTimeout time.Duration

	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{BrowseTimeout: BrowseTimeout}
}

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// TTL for the records. Zero keeps the zeroconf default.
	TTL time.Duration
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{TTL: 120 * time.Second}
}
