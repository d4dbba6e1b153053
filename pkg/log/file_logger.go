package log

import (
	"io"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation configures size-based rotation of a protocol log file. The zero
// value disables rotation.
type Rotation struct {
	// MaxSizeMB is the size at which the file is rotated.
	MaxSizeMB int `yaml:"maxSizeMB"`

	// MaxBackups is the number of rotated files kept (0 keeps all).
	MaxBackups int `yaml:"maxBackups"`

	// Compress gzips rotated files.
	Compress bool `yaml:"compress"`
}

// FileLogger writes protocol events to a file in CBOR format.
// It is safe for concurrent use from multiple goroutines.
type FileLogger struct {
	out     io.WriteCloser
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
	errors  int
}

// NewFileLogger creates a FileLogger that appends to path. With a non-zero
// rotation the file is rotated by lumberjack once it reaches MaxSizeMB; each
// rotated file is still a valid event stream because events are written
// whole.
func NewFileLogger(path string, rotation Rotation) (*FileLogger, error) {
	var out io.WriteCloser
	if rotation.MaxSizeMB > 0 {
		out = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    rotation.MaxSizeMB,
			MaxBackups: rotation.MaxBackups,
			Compress:   rotation.Compress,
		}
	} else {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		out = f
	}

	return &FileLogger{
		out:     out,
		encoder: NewEncoder(out),
	}, nil
}

// Log writes an event to the log file.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	// Logging must not disrupt the session; failures are only counted.
	if err := l.encoder.Encode(event); err != nil {
		l.errors++
	}
}

// WriteErrors returns how many events could not be written.
func (l *FileLogger) WriteErrors() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errors
}

// Close closes the log file. It is safe to call Close multiple times; later
// Log calls are silently ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	l.closed = true
	return l.out.Close()
}

// Compile-time interface satisfaction check.
var _ Logger = (*FileLogger)(nil)
