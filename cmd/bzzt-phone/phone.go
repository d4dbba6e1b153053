package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/bzzt-protocol/bzzt-go/pkg/actuation"
	"github.com/bzzt-protocol/bzzt-go/pkg/config"
	"github.com/bzzt-protocol/bzzt-go/pkg/connection"
	"github.com/bzzt-protocol/bzzt-go/pkg/discovery"
	"github.com/bzzt-protocol/bzzt-go/pkg/log"
	"github.com/bzzt-protocol/bzzt-go/pkg/session"
	"github.com/bzzt-protocol/bzzt-go/pkg/transport"
)

// errNoController is returned when neither an address nor discovery is
// configured.
var errNoController = errors.New("no controller address configured and discovery disabled")

// newLogger builds the operational logger. Output goes to w unless
// log.file is set, in which case a rotating file is used and returned as
// the closer.
func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var closer io.Closer
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.Rotation.MaxSizeMB,
			MaxBackups: cfg.Rotation.MaxBackups,
			Compress:   cfg.Rotation.Compress,
		}
		w = lj
		closer = lj
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == config.FormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), closer, nil
}

// phone wires the client components together.
type phone struct {
	cfg    config.Config
	logger *slog.Logger

	actuator   actuation.Actuator
	simulated  *actuation.Simulated
	dispatcher *actuation.Dispatcher
	session    *session.Session
	browser    *discovery.MDNSBrowser
	reconnect  *connection.Reconnector
	resolve    connection.Resolver

	protoFile *log.FileLogger

	// lost is closed on the first connection loss.
	lost     chan struct{}
	lostOnce sync.Once

	mu      sync.Mutex
	lastErr error
}

// newPhone creates all components from cfg without connecting.
func newPhone(cfg config.Config, logger *slog.Logger) (*phone, error) {
	p := &phone{cfg: cfg, logger: logger, lost: make(chan struct{})}

	if err := p.setupActuator(); err != nil {
		return nil, err
	}
	p.dispatcher = actuation.NewDispatcher(p.actuator,
		actuation.WithCapability(cfg.Capability()),
		actuation.WithDispatcherLogger(logger.With("component", "dispatcher")))

	protoLog, err := p.setupProtocolLog()
	if err != nil {
		return nil, err
	}

	dialerCfg := cfg.DialerConfig()
	dialerCfg.Logger = logger.With("component", "transport")
	dialer, err := transport.NewWebSocketDialer(dialerCfg)
	if err != nil {
		p.close()
		return nil, err
	}

	p.session = session.New(dialer, p.dispatcher,
		session.WithLogger(logger.With("component", "session")),
		session.WithProtocolLogger(protoLog),
		session.WithConnectTimeout(cfg.Controller.ConnectTimeout))
	p.session.OnEvent(p.handleEvent)

	p.resolve = p.setupResolver()

	if cfg.Reconnect.Enabled {
		p.reconnect = connection.NewReconnector(p.session, p.resolveAddress,
			connection.WithBackoff(cfg.BackoffConfig()),
			connection.WithLogger(logger.With("component", "reconnect")))
		p.session.OnEvent(p.reconnect.HandleEvent)
	}
	return p, nil
}

func (p *phone) setupActuator() error {
	capability := p.cfg.Capability()
	switch p.cfg.Actuator.Kind {
	case config.ActuatorSysfs:
		s, err := actuation.NewSysfs(p.cfg.Actuator.SysfsPath, capability, p.logger.With("component", "sysfs"))
		if err != nil {
			return fmt.Errorf("failed to open vibrator: %w", err)
		}
		p.logger.Info("using sysfs vibrator", "dir", s.Dir(), "layout", s.Layout().String())
		p.actuator = s
	default:
		sim := actuation.NewSimulated(capability)
		sim.OnChange(func(intensity int) {
			if intensity == 0 {
				p.logger.Debug("motor stopped")
				return
			}
			p.logger.Info("motor running", "intensity", intensity)
		})
		p.simulated = sim
		p.actuator = sim
	}
	return nil
}

// setupProtocolLog returns the protocol logger: the CBOR file when
// configured, plus the operational logger at debug level.
func (p *phone) setupProtocolLog() (log.Logger, error) {
	loggers := []log.Logger{log.NewSlogAdapter(p.logger.With("component", "protocol"))}

	if path := p.cfg.Log.ProtocolFile; path != "" {
		fl, err := log.NewFileLogger(path, p.cfg.Log.ProtocolRotation)
		if err != nil {
			return nil, fmt.Errorf("failed to open protocol log: %w", err)
		}
		p.protoFile = fl
		loggers = append(loggers, fl)
		p.logger.Info("protocol logging enabled", "file", path)
	}
	return log.NewMultiLogger(loggers...), nil
}

// setupResolver picks where controller addresses come from.
func (p *phone) setupResolver() connection.Resolver {
	if addr := p.cfg.Controller.Address; addr != "" {
		return connection.StaticAddress(addr)
	}
	if !p.cfg.Controller.Discover {
		return nil
	}
	p.browser = discovery.NewMDNSBrowser(discovery.BrowserConfig{
		BrowseTimeout: p.cfg.Controller.DiscoverTimeout,
	}, p.logger.With("component", "discovery"))
	return p.browser.Resolve
}

// resolveAddress returns the configured or discovered controller address.
func (p *phone) resolveAddress(ctx context.Context) (string, error) {
	if p.resolve == nil {
		return "", errNoController
	}
	return p.resolve(ctx)
}

// start brings the session up: through the reconnector when enabled, else
// with a single attempt.
func (p *phone) start(ctx context.Context) error {
	if p.reconnect != nil {
		return p.reconnect.Start(ctx)
	}
	return p.connect(ctx, "")
}

// connect makes one attempt. An empty address resolves one.
func (p *phone) connect(ctx context.Context, address string) error {
	if address == "" {
		var err error
		if address, err = p.resolveAddress(ctx); err != nil {
			return err
		}
	}
	return p.session.Connect(ctx, address)
}

func (p *phone) handleEvent(e session.Event) {
	switch e.Type {
	case session.EventStateChanged:
		p.logger.Info("session state changed",
			"from", e.OldState.String(),
			"to", e.NewState.String(),
			"address", e.Address)
	case session.EventConnectFailed:
		p.setLastErr(e.Err)
		p.logger.Warn("connect failed", "error", e.Err)
	case session.EventConnectionLost:
		p.setLastErr(e.Err)
		p.logger.Warn("connection lost", "address", e.Address, "error", e.Err)
		p.lostOnce.Do(func() { close(p.lost) })
	case session.EventDecodeFailed:
		p.setLastErr(e.Err)
		p.logger.Warn("ignoring frame", "error", e.Err, "frame", string(e.Frame))
	case session.EventPulse:
		attrs := []any{"intensity", e.Pulse.Intensity, "duration_ms", e.Pulse.Duration}
		if e.Pulse.Clamped() {
			attrs = append(attrs, "requested", e.Pulse.Command.String())
		}
		p.logger.Info("bzzt", attrs...)
	}
}

func (p *phone) setLastErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErr = err
}

// Lost is closed once the first established connection is lost.
func (p *phone) Lost() <-chan struct{} {
	return p.lost
}

// LastError returns the most recent failure reported by the session.
func (p *phone) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// close stops reconnecting, disconnects and releases files.
func (p *phone) close() {
	if p.reconnect != nil {
		p.reconnect.Close()
	}
	if p.session != nil && p.session.State() != session.StateDisconnected {
		if err := p.session.Disconnect(); err != nil {
			p.logger.Debug("disconnect on close", "error", err)
		}
	}
	if p.browser != nil {
		p.browser.Stop()
	}
	if p.simulated != nil {
		p.simulated.Stop()
	}
	if p.protoFile != nil {
		if err := p.protoFile.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close protocol log: %v\n", err)
		}
	}
}
