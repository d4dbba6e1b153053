// Command bzzt-phone is the BZZT phone client.
//
// It connects to a controller over a websocket, registers as a phone and
// runs the vibration motor for every pulse command the controller relays.
//
// Usage:
//
//	bzzt-phone [flags]
//
// Flags:
//
//	-config string        Configuration file path (YAML)
//	-address string       Controller address: host, host:port or ws(s):// URL
//	-discover             Find the controller through mDNS when no address is set
//	-reconnect            Reconnect with backoff after the connection is lost
//	-actuator string      Motor: simulated or sysfs
//	-sysfs-path string    Vibrator sysfs directory (default: probe)
//	-log-level string     Log level: debug, info, warn, error
//	-log-format string    Log format: text or json
//	-log-file string      Write logs to a rotating file
//	-protocol-log string  Write protocol events (CBOR) to this file
//	-interactive          Start the interactive console
//	-print-config         Print the effective configuration and exit
//	-version              Print the protocol version and exit
//
// Configuration is layered: defaults, the -config file, BZZT_* environment
// variables, then flags.
//
// Examples:
//
//	# Connect to a controller on the default port
//	bzzt-phone -address 192.168.1.20
//
//	# Find the controller on the LAN and keep the link up
//	bzzt-phone -discover -reconnect
//
//	# Drive the real vibrator and record the session
//	bzzt-phone -config /etc/bzzt/phone.yaml -actuator sysfs -protocol-log phone.blog
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bzzt-protocol/bzzt-go/pkg/config"
	"github.com/bzzt-protocol/bzzt-go/pkg/version"
)

// options holds the command-line flags.
type options struct {
	configFile  string
	address     string
	discover    bool
	reconnect   bool
	actuator    string
	sysfsPath   string
	logLevel    string
	logFormat   string
	logFile     string
	protocolLog string
	interactive bool
	printConfig bool
	showVersion bool
}

func newFlagSet(o *options) *flag.FlagSet {
	fs := flag.NewFlagSet("bzzt-phone", flag.ContinueOnError)
	fs.StringVar(&o.configFile, "config", "", "Configuration file path (YAML)")
	fs.StringVar(&o.address, "address", "", "Controller address: host, host:port or ws(s):// URL")
	fs.BoolVar(&o.discover, "discover", false, "Find the controller through mDNS when no address is set")
	fs.BoolVar(&o.reconnect, "reconnect", false, "Reconnect with backoff after the connection is lost")
	fs.StringVar(&o.actuator, "actuator", "", "Motor: simulated or sysfs")
	fs.StringVar(&o.sysfsPath, "sysfs-path", "", "Vibrator sysfs directory (default: probe)")
	fs.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&o.logFormat, "log-format", "", "Log format: text or json")
	fs.StringVar(&o.logFile, "log-file", "", "Write logs to a rotating file")
	fs.StringVar(&o.protocolLog, "protocol-log", "", "Write protocol events (CBOR) to this file")
	fs.BoolVar(&o.interactive, "interactive", false, "Start the interactive console")
	fs.BoolVar(&o.printConfig, "print-config", false, "Print the effective configuration and exit")
	fs.BoolVar(&o.showVersion, "version", false, "Print the protocol version and exit")
	return fs
}

// loadConfig parses args and returns the effective configuration. Only
// flags given on the command line override the file and environment.
func loadConfig(args []string, stderr io.Writer) (config.Config, *options, error) {
	o := &options{}
	fs := newFlagSet(o)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return config.Config{}, nil, err
	}
	if fs.NArg() > 0 {
		return config.Config{}, nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	cfg, err := config.Load(o.configFile)
	if err != nil {
		return config.Config{}, nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "address":
			cfg.Controller.Address = o.address
		case "discover":
			cfg.Controller.Discover = o.discover
		case "reconnect":
			cfg.Reconnect.Enabled = o.reconnect
		case "actuator":
			cfg.Actuator.Kind = o.actuator
		case "sysfs-path":
			cfg.Actuator.SysfsPath = o.sysfsPath
		case "log-level":
			cfg.Log.Level = o.logLevel
		case "log-format":
			cfg.Log.Format = o.logFormat
		case "log-file":
			cfg.Log.File = o.logFile
		case "protocol-log":
			cfg.Log.ProtocolFile = o.protocolLog
		}
	})

	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, o, nil
}

func main() {
	cfg, opts, err := loadConfig(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if opts.showVersion {
		fmt.Printf("bzzt-phone (protocol %s)\n", version.Current)
		return
	}

	if opts.printConfig {
		data, err := cfg.Marshal()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(data)
		return
	}

	if err := run(cfg, opts.interactive); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, interactive bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		con *console
		out io.Writer = os.Stderr
	)
	if interactive {
		// The console is created before the phone so log lines are routed
		// around the prompt. It gets the phone once that exists.
		var err error
		if con, err = newConsole(nil); err != nil {
			return err
		}
		defer con.Close()
		out = con.Stdout()
	}

	logger, logCloser, err := newLogger(cfg.Log, out)
	if err != nil {
		return err
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	p, err := newPhone(cfg, logger)
	if err != nil {
		return err
	}
	defer p.close()

	logger.Info("BZZT phone starting",
		"actuator", cfg.Actuator.Kind,
		"address", cfg.Controller.Address,
		"discover", cfg.Controller.Discover,
		"reconnect", cfg.Reconnect.Enabled)

	if err := p.start(ctx); err != nil {
		if !interactive {
			return err
		}
		logger.Warn("initial connect failed", "error", err)
	}

	switch {
	case interactive:
		con.phone = p
		con.Run(ctx, cancel)
	case p.reconnect != nil:
		<-ctx.Done()
	default:
		select {
		case <-ctx.Done():
		case <-p.Lost():
			return fmt.Errorf("connection lost: %w", p.LastError())
		}
	}

	logger.Info("shutting down")
	return nil
}
