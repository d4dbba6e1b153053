package actuation

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Default sysfs locations of the vibrator on Linux phones.
const (
	DefaultTimedOutputPath = "/sys/class/timed_output/vibrator"
	DefaultLEDPath         = "/sys/class/leds/vibrator"
)

// SysfsLayout is the kernel interface exposed by a vibrator directory.
type SysfsLayout uint8

const (
	// LayoutTimedOutput is the timed_output class: writing a millisecond
	// count to "enable" runs the motor for that long, writing 0 stops it.
	LayoutTimedOutput SysfsLayout = iota + 1

	// LayoutLED is the LED class with the transient trigger: "duration"
	// holds the length and writing 1 to "activate" starts it.
	LayoutLED
)

// String returns the layout name.
func (l SysfsLayout) String() string {
	switch l {
	case LayoutTimedOutput:
		return "timed_output"
	case LayoutLED:
		return "led"
	default:
		return "unknown"
	}
}

// ErrNoVibrator is returned when a directory has no known vibrator files.
var ErrNoVibrator = errors.New("no vibrator interface found")

// Sysfs drives a kernel vibrator through its sysfs attribute files. Both
// layouts replace a running pulse when a new one is written.
type Sysfs struct {
	mu         sync.Mutex
	dir        string
	layout     SysfsLayout
	amplitude  bool
	capability Capability
	logger     *slog.Logger
}

// DetectSysfsLayout inspects dir and reports which layout it exposes.
func DetectSysfsLayout(dir string) (SysfsLayout, error) {
	if fileExists(filepath.Join(dir, "enable")) {
		return LayoutTimedOutput, nil
	}
	if fileExists(filepath.Join(dir, "activate")) && fileExists(filepath.Join(dir, "duration")) {
		return LayoutLED, nil
	}
	return 0, fmt.Errorf("%s: %w", dir, ErrNoVibrator)
}

// NewSysfs opens the vibrator at dir. An empty dir tries the default
// locations in order.
func NewSysfs(dir string, c Capability, logger *slog.Logger) (*Sysfs, error) {
	if logger == nil {
		logger = slog.Default()
	}

	candidates := []string{dir}
	if dir == "" {
		candidates = []string{DefaultTimedOutputPath, DefaultLEDPath}
	}

	var lastErr error
	for _, d := range candidates {
		layout, err := DetectSysfsLayout(d)
		if err != nil {
			lastErr = err
			continue
		}
		return &Sysfs{
			dir:        d,
			layout:     layout,
			amplitude:  fileExists(filepath.Join(d, "amplitude")),
			capability: c,
			logger:     logger,
		}, nil
	}
	return nil, lastErr
}

// Layout returns the detected layout.
func (s *Sysfs) Layout() SysfsLayout {
	return s.layout
}

// Dir returns the vibrator directory.
func (s *Sysfs) Dir() string {
	return s.dir
}

// Capability implements Actuator.
func (s *Sysfs) Capability() Capability {
	return s.capability
}

// Pulse implements Actuator. Write failures are logged; the dispatcher has
// no way to report them back to the controller.
func (s *Sysfs) Pulse(intensity, durationMs int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(intensity, durationMs); err != nil {
		s.logger.Warn("vibrator write failed",
			"dir", s.dir,
			"layout", s.layout.String(),
			"intensity", intensity,
			"duration", durationMs,
			"error", err)
	}
}

func (s *Sysfs) write(intensity, durationMs int) error {
	if intensity == 0 {
		durationMs = 0
	}

	switch s.layout {
	case LayoutTimedOutput:
		if s.amplitude && durationMs > 0 {
			if err := s.writeAttr("amplitude", intensity); err != nil {
				return err
			}
		}
		return s.writeAttr("enable", durationMs)

	case LayoutLED:
		if durationMs == 0 {
			return s.writeAttr("activate", 0)
		}
		if s.amplitude {
			if err := s.writeAttr("amplitude", intensity); err != nil {
				return err
			}
		}
		if err := s.writeAttr("duration", durationMs); err != nil {
			return err
		}
		return s.writeAttr("activate", 1)
	}
	return ErrNoVibrator
}

func (s *Sysfs) writeAttr(name string, v int) error {
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, []byte(strconv.Itoa(v)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
