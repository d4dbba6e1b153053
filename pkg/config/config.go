// Package config loads the phone client configuration.
//
// Values are layered: built-in defaults, then a YAML file, then BZZT_*
// environment variables. Command-line flags are applied last by the
// commands themselves.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bzzt-protocol/bzzt-go/pkg/actuation"
	"github.com/bzzt-protocol/bzzt-go/pkg/connection"
	"github.com/bzzt-protocol/bzzt-go/pkg/log"
	"github.com/bzzt-protocol/bzzt-go/pkg/transport"
)

// Actuator kinds.
const (
	ActuatorSimulated = "simulated"
	ActuatorSysfs     = "sysfs"
)

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config is the complete phone client configuration.
type Config struct {
	Controller ControllerConfig `yaml:"controller"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
	Transport  TransportConfig  `yaml:"transport"`
	Actuator   ActuatorConfig   `yaml:"actuator"`
	Log        LogConfig        `yaml:"log"`
}

// ControllerConfig selects the controller to connect to.
type ControllerConfig struct {
	// Address is host, host:port or a ws:// / wss:// URL.
	Address string `yaml:"address"`

	ConnectTimeout time.Duration `yaml:"connectTimeout"`

	// Discover browses mDNS for a controller when Address is empty.
	Discover        bool          `yaml:"discover"`
	DiscoverTimeout time.Duration `yaml:"discoverTimeout"`
}

// ReconnectConfig controls automatic reconnection after a lost connection.
type ReconnectConfig struct {
	Enabled bool          `yaml:"enabled"`
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
	Jitter  float64       `yaml:"jitter"`
}

// TransportConfig tunes the websocket transport.
type TransportConfig struct {
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	PingInterval   time.Duration `yaml:"pingInterval"`
	PongTimeout    time.Duration `yaml:"pongTimeout"`
	MaxMissedPongs int           `yaml:"maxMissedPongs"`
	MaxMessageSize int64         `yaml:"maxMessageSize"`

	// TLS, used for wss:// addresses only.
	CAFile             string `yaml:"caFile"`
	ServerName         string `yaml:"serverName"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
}

// ActuatorConfig selects and bounds the vibration motor.
type ActuatorConfig struct {
	Kind         string        `yaml:"kind"`
	MinIntensity int           `yaml:"minIntensity"`
	MaxIntensity int           `yaml:"maxIntensity"`
	MaxDuration  time.Duration `yaml:"maxDuration"`

	// SysfsPath is the vibrator directory. Empty probes the usual locations.
	SysfsPath string `yaml:"sysfsPath"`
}

// LogConfig configures operational and protocol logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`

	// File redirects operational logs to a rotating file.
	File     string       `yaml:"file"`
	Rotation log.Rotation `yaml:"rotation"`

	// ProtocolFile enables the CBOR protocol event log.
	ProtocolFile     string       `yaml:"protocolFile"`
	ProtocolRotation log.Rotation `yaml:"protocolRotation"`
}

// Default returns the built-in configuration.
func Default() Config {
	capability := actuation.DefaultCapability()
	backoff := connection.DefaultBackoffConfig()
	keepAlive := transport.DefaultKeepAliveConfig()

	return Config{
		Controller: ControllerConfig{
			ConnectTimeout:  transport.DefaultConnectTimeout,
			DiscoverTimeout: 5 * time.Second,
		},
		Reconnect: ReconnectConfig{
			Initial: backoff.Initial,
			Max:     backoff.Max,
			Jitter:  backoff.Jitter,
		},
		Transport: TransportConfig{
			WriteTimeout:   transport.DefaultWriteTimeout,
			PingInterval:   keepAlive.PingInterval,
			PongTimeout:    keepAlive.PongTimeout,
			MaxMissedPongs: keepAlive.MaxMissedPongs,
			MaxMessageSize: transport.DefaultMaxMessageSize,
		},
		Actuator: ActuatorConfig{
			Kind:         ActuatorSimulated,
			MinIntensity: capability.MinIntensity,
			MaxIntensity: capability.MaxIntensity,
			MaxDuration:  capability.MaxDuration,
		},
		Log: LogConfig{
			Level:  "info",
			Format: FormatText,
			Rotation: log.Rotation{
				MaxSizeMB:  10,
				MaxBackups: 3,
			},
		},
	}
}

// Parse overlays YAML data on the defaults. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	return cfg, nil
}

// Load reads path, applies the environment and validates the result. An
// empty path yields the defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, &LoadError{File: path, Message: "failed to read file", Cause: err}
		}
		cfg, err = Parse(data)
		if err != nil {
			var le *LoadError
			if errors.As(err, &le) {
				le.File = path
			}
			return Config{}, err
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, &LoadError{File: path, Message: "invalid configuration", Cause: err}
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	var errs []error

	if c.Controller.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("controller.connectTimeout must be positive, got %v", c.Controller.ConnectTimeout))
	}
	if c.Controller.Address != "" {
		if _, err := transport.ParseAddress(c.Controller.Address); err != nil {
			errs = append(errs, fmt.Errorf("controller.address: %w", err))
		}
	}
	if c.Controller.Discover && c.Controller.DiscoverTimeout <= 0 {
		errs = append(errs, fmt.Errorf("controller.discoverTimeout must be positive, got %v", c.Controller.DiscoverTimeout))
	}

	if c.Reconnect.Enabled {
		if c.Reconnect.Initial <= 0 {
			errs = append(errs, fmt.Errorf("reconnect.initial must be positive, got %v", c.Reconnect.Initial))
		}
		if c.Reconnect.Max < c.Reconnect.Initial {
			errs = append(errs, fmt.Errorf("reconnect.max %v is below reconnect.initial %v", c.Reconnect.Max, c.Reconnect.Initial))
		}
		if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter > 1 {
			errs = append(errs, fmt.Errorf("reconnect.jitter must be within 0..1, got %v", c.Reconnect.Jitter))
		}
	}

	if c.Transport.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("transport.writeTimeout must be positive, got %v", c.Transport.WriteTimeout))
	}
	if c.Transport.PingInterval > 0 && c.Transport.PongTimeout <= 0 {
		errs = append(errs, fmt.Errorf("transport.pongTimeout must be positive, got %v", c.Transport.PongTimeout))
	}
	if c.Transport.MaxMissedPongs < 0 {
		errs = append(errs, fmt.Errorf("transport.maxMissedPongs must not be negative, got %d", c.Transport.MaxMissedPongs))
	}
	if c.Transport.MaxMessageSize <= 0 {
		errs = append(errs, fmt.Errorf("transport.maxMessageSize must be positive, got %d", c.Transport.MaxMessageSize))
	}

	switch c.Actuator.Kind {
	case ActuatorSimulated, ActuatorSysfs:
	default:
		errs = append(errs, fmt.Errorf("actuator.kind must be %q or %q, got %q", ActuatorSimulated, ActuatorSysfs, c.Actuator.Kind))
	}
	if err := c.Capability().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("actuator: %w", err))
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case FormatText, FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log.format must be %q or %q, got %q", FormatText, FormatJSON, c.Log.Format))
	}

	return errors.Join(errs...)
}

// Capability returns the actuator bounds.
func (c Config) Capability() actuation.Capability {
	return actuation.Capability{
		MinIntensity: c.Actuator.MinIntensity,
		MaxIntensity: c.Actuator.MaxIntensity,
		MaxDuration:  c.Actuator.MaxDuration,
	}
}

// DialerConfig returns the transport settings. Logger is left for the caller.
func (c Config) DialerConfig() transport.DialerConfig {
	return transport.DialerConfig{
		ConnectTimeout: c.Controller.ConnectTimeout,
		WriteTimeout:   c.Transport.WriteTimeout,
		MaxMessageSize: c.Transport.MaxMessageSize,
		KeepAlive: transport.KeepAliveConfig{
			PingInterval:   c.Transport.PingInterval,
			PongTimeout:    c.Transport.PongTimeout,
			MaxMissedPongs: c.Transport.MaxMissedPongs,
		},
		TLS: transport.TLSConfig{
			CAFile:             c.Transport.CAFile,
			ServerName:         c.Transport.ServerName,
			InsecureSkipVerify: c.Transport.InsecureSkipVerify,
		},
	}
}

// BackoffConfig returns the reconnect backoff parameters.
func (c Config) BackoffConfig() connection.BackoffConfig {
	return connection.BackoffConfig{
		Initial:    c.Reconnect.Initial,
		Max:        c.Reconnect.Max,
		Multiplier: connection.BackoffMultiplier,
		Jitter:     c.Reconnect.Jitter,
	}
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level %q", s)
	}
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// LoadError reports a configuration that could not be loaded.
type LoadError struct {
	// File is the path to the file that failed to load, if any.
	File string

	// Message describes the error.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}
