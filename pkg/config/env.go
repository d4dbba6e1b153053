package config

import (
	"fmt"
	"strconv"
	"time"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "BZZT_"

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

type envBinding struct {
	name  string
	apply func(c *Config, value string) error
}

func stringVar(p func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*p(c) = v
		return nil
	}
}

func boolVar(p func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*p(c) = b
		return nil
	}
}

func intVar(p func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*p(c) = n
		return nil
	}
}

func durationVar(p func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*p(c) = d
		return nil
	}
}

var envBindings = []envBinding{
	{"CONTROLLER_ADDRESS", stringVar(func(c *Config) *string { return &c.Controller.Address })},
	{"CONNECT_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Controller.ConnectTimeout })},
	{"DISCOVER", boolVar(func(c *Config) *bool { return &c.Controller.Discover })},
	{"RECONNECT", boolVar(func(c *Config) *bool { return &c.Reconnect.Enabled })},
	{"PING_INTERVAL", durationVar(func(c *Config) *time.Duration { return &c.Transport.PingInterval })},
	{"CA_FILE", stringVar(func(c *Config) *string { return &c.Transport.CAFile })},
	{"ACTUATOR", stringVar(func(c *Config) *string { return &c.Actuator.Kind })},
	{"MAX_INTENSITY", intVar(func(c *Config) *int { return &c.Actuator.MaxIntensity })},
	{"SYSFS_PATH", stringVar(func(c *Config) *string { return &c.Actuator.SysfsPath })},
	{"LOG_LEVEL", stringVar(func(c *Config) *string { return &c.Log.Level })},
	{"LOG_FORMAT", stringVar(func(c *Config) *string { return &c.Log.Format })},
	{"LOG_FILE", stringVar(func(c *Config) *string { return &c.Log.File })},
	{"PROTOCOL_LOG", stringVar(func(c *Config) *string { return &c.Log.ProtocolFile })},
}

// EnvNames returns the recognized environment variable names.
func EnvNames() []string {
	names := make([]string, len(envBindings))
	for i, b := range envBindings {
		names[i] = EnvPrefix + b.name
	}
	return names
}

// ApplyEnv overrides fields from BZZT_* variables found through lookup.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	for _, b := range envBindings {
		name := EnvPrefix + b.name
		v, ok := lookup(name)
		if !ok {
			continue
		}
		if err := b.apply(c, v); err != nil {
			return &LoadError{Message: fmt.Sprintf("invalid %s", name), Cause: err}
		}
	}
	return nil
}
