package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/bzzt-protocol/bzzt-go/pkg/discovery"
	"github.com/bzzt-protocol/bzzt-go/pkg/version"
	"github.com/bzzt-protocol/bzzt-go/pkg/wire"
)

// console is the interactive command loop of bzzt-phone.
type console struct {
	phone *phone
	rl    *readline.Instance
	out   io.Writer
}

func newConsole(p *phone) (*console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "bzzt> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("connect"),
			readline.PcItem("disconnect"),
			readline.PcItem("status"),
			readline.PcItem("buzz"),
			readline.PcItem("history"),
			readline.PcItem("discover"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &console{phone: p, rl: rl, out: rl.Stdout()}, nil
}

// Stdout returns a writer that does not garble the prompt. Log output
// should go through it while the console runs.
func (c *console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Close restores the terminal.
func (c *console) Close() error {
	return c.rl.Close()
}

// Run reads commands until quit, EOF or ctx is done.
func (c *console) Run(ctx context.Context, cancel context.CancelFunc) {
	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if quit := c.execute(ctx, line); quit {
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}
	}
}

// execute runs one command line and reports whether it asked to quit.
func (c *console) execute(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()
	case "connect", "c":
		c.cmdConnect(ctx, args)
	case "disconnect", "d":
		c.cmdDisconnect()
	case "status", "s":
		c.cmdStatus()
	case "buzz", "b":
		c.cmdBuzz(args)
	case "history", "h":
		c.cmdHistory()
	case "discover":
		c.cmdDiscover(ctx)
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *console) printHelp() {
	fmt.Fprintln(c.out, `
BZZT Phone Commands:
  Connection:
    connect [address]  - Connect to the configured, discovered or given controller
    disconnect         - Close the controller connection
    status             - Show session status
    discover           - List controllers announced on the local network

  Motor:
    buzz <int> <ms>    - Run a local test pulse (not sent to the controller)
    history            - Show recent pulses (simulated motor only)

  General:
    help               - Show this help
    quit               - Exit`)
}

func (c *console) cmdConnect(ctx context.Context, args []string) {
	address := ""
	if len(args) > 0 {
		address = args[0]
	}

	ctx, cancel := context.WithTimeout(ctx, c.phone.cfg.Controller.ConnectTimeout+c.phone.cfg.Controller.DiscoverTimeout)
	defer cancel()

	if err := c.phone.connect(ctx, address); err != nil {
		fmt.Fprintf(c.out, "Connect failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Registered with %s\n", c.phone.session.Address())
}

func (c *console) cmdDisconnect() {
	if err := c.phone.session.Disconnect(); err != nil {
		fmt.Fprintf(c.out, "Disconnect failed: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "Disconnected")
}

func (c *console) cmdStatus() {
	s := c.phone.session
	capability := c.phone.dispatcher.Capability()
	dispatched, clamped := c.phone.dispatcher.Stats()

	fmt.Fprintln(c.out, "\nPhone Status")
	fmt.Fprintln(c.out, "-------------------------------------------")
	fmt.Fprintf(c.out, "  State:        %s\n", s.State())
	if addr := s.Address(); addr != "" {
		fmt.Fprintf(c.out, "  Controller:   %s\n", addr)
	}
	if id := s.ConnectionID(); id != "" {
		fmt.Fprintf(c.out, "  Connection:   %s\n", id)
	}
	fmt.Fprintf(c.out, "  Generation:   %d\n", s.Generation())
	fmt.Fprintf(c.out, "  Protocol:     %s\n", version.Current)
	if r := c.phone.reconnect; r != nil {
		fmt.Fprintf(c.out, "  Reconnect:    %s (%d failed attempts)\n", r.State(), r.Attempts())
	}
	fmt.Fprintf(c.out, "  Intensity:    %d..%d\n", capability.MinIntensity, capability.MaxIntensity)
	fmt.Fprintf(c.out, "  Pulses:       %d (%d clamped)\n", dispatched, clamped)
	if err := c.phone.LastError(); err != nil {
		fmt.Fprintf(c.out, "  Last error:   %v\n", err)
	}
	fmt.Fprintln(c.out)
}

func (c *console) cmdBuzz(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.out, "Usage: buzz <intensity> <duration-ms>")
		return
	}
	intensity, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Invalid intensity: %v\n", err)
		return
	}
	duration, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintf(c.out, "Invalid duration: %v\n", err)
		return
	}

	cmd := wire.PulseCommand{Intensity: intensity, Duration: duration}
	if err := cmd.Validate(); err != nil {
		fmt.Fprintf(c.out, "Invalid pulse: %v\n", err)
		return
	}
	req := c.phone.dispatcher.Dispatch(cmd)
	fmt.Fprintf(c.out, "Pulse %d for %dms\n", req.Intensity, req.Duration)
}

func (c *console) cmdHistory() {
	if c.phone.simulated == nil {
		fmt.Fprintln(c.out, "History is only kept for the simulated motor")
		return
	}
	history := c.phone.simulated.History()
	if len(history) == 0 {
		fmt.Fprintln(c.out, "No pulses yet")
		return
	}
	for _, rec := range history {
		note := ""
		if rec.Preempted {
			note = " (preempted)"
		}
		fmt.Fprintf(c.out, "  %s  intensity %3d  %s%s\n",
			rec.StartedAt.Format("15:04:05.000"), rec.Intensity, rec.Duration, note)
	}
}

func (c *console) cmdDiscover(ctx context.Context) {
	timeout := c.phone.cfg.Controller.DiscoverTimeout
	browser := c.phone.browser
	if browser == nil {
		browser = discovery.NewMDNSBrowser(discovery.BrowserConfig{BrowseTimeout: timeout}, c.phone.logger)
		defer browser.Stop()
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, err := browser.BrowseControllers(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "Browse failed: %v\n", err)
		return
	}

	fmt.Fprintf(c.out, "Browsing for %s...\n", timeout.Round(time.Second))
	found := 0
	for svc := range results {
		found++
		fmt.Fprintf(c.out, "  %-24s %s\n", svc.DisplayName(), svc.Address())
	}
	if found == 0 {
		fmt.Fprintln(c.out, "No controllers found")
	}
}
