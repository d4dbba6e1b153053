package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bzzt-protocol/bzzt-go/pkg/log"
)

// Export formats.
const (
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
	FormatYAML  = "yaml"
)

// exportRecord is the flat, text-friendly form of an event.
type exportRecord struct {
	Timestamp    string `json:"timestamp" yaml:"timestamp"`
	ConnectionID string `json:"connectionId" yaml:"connectionId"`
	Direction    string `json:"direction" yaml:"direction"`
	Layer        string `json:"layer" yaml:"layer"`
	Category     string `json:"category" yaml:"category"`
	RemoteAddr   string `json:"remoteAddr,omitempty" yaml:"remoteAddr,omitempty"`
	Type         string `json:"type" yaml:"type"`

	Frame     string `json:"frame,omitempty" yaml:"frame,omitempty"`
	Intensity *int   `json:"intensity,omitempty" yaml:"intensity,omitempty"`
	Duration  *int   `json:"duration,omitempty" yaml:"duration,omitempty"`
	Clamped   bool   `json:"clamped,omitempty" yaml:"clamped,omitempty"`
	OldState  string `json:"oldState,omitempty" yaml:"oldState,omitempty"`
	NewState  string `json:"newState,omitempty" yaml:"newState,omitempty"`
	Reason    string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
	Code      string `json:"code,omitempty" yaml:"code,omitempty"`
}

func newExportRecord(event log.Event) exportRecord {
	rec := exportRecord{
		Timestamp:    event.Timestamp.UTC().Format(timestampFormat),
		ConnectionID: event.ConnectionID,
		Direction:    event.Direction.String(),
		Layer:        event.Layer.String(),
		Category:     event.Category.String(),
		RemoteAddr:   event.RemoteAddr,
		Type:         eventLabel(event),
	}

	switch {
	case event.Frame != nil:
		rec.Frame = frameText(event.Frame.Data)
	case event.Message != nil:
		rec.Intensity = event.Message.Intensity
		rec.Duration = event.Message.Duration
	case event.StateChange != nil:
		rec.OldState = event.StateChange.OldState
		rec.NewState = event.StateChange.NewState
		rec.Reason = event.StateChange.Reason
	case event.Actuation != nil:
		intensity, duration := event.Actuation.Intensity, event.Actuation.Duration
		rec.Intensity = &intensity
		rec.Duration = &duration
		rec.Clamped = event.Actuation.Clamped
	case event.Error != nil:
		rec.Error = event.Error.Message
		rec.Code = event.Error.Code
	}
	return rec
}

// RunExport exports the log file at path in format to output, or to stdout
// when output is empty.
func RunExport(path, format, output string, filter log.Filter) error {
	switch format {
	case FormatJSONL, FormatCSV, FormatYAML:
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv, yaml)", format)
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	return export(reader, format, w)
}

func export(reader *log.Reader, format string, w io.Writer) error {
	switch format {
	case FormatJSONL:
		return exportJSONL(reader, w)
	case FormatCSV:
		return exportCSV(reader, w)
	default:
		return exportYAML(reader, w)
	}
}

func exportJSONL(reader *log.Reader, w io.Writer) error {
	encoder := json.NewEncoder(w)
	return forEach(reader, func(event log.Event) error {
		if err := encoder.Encode(newExportRecord(event)); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		return nil
	})
}

// exportYAML writes one YAML document per event.
func exportYAML(reader *log.Reader, w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()

	return forEach(reader, func(event log.Event) error {
		if err := encoder.Encode(newExportRecord(event)); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		return nil
	})
}

func exportCSV(reader *log.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"timestamp", "connection_id", "direction", "layer", "category", "type", "intensity", "duration", "detail"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	return forEach(reader, func(event log.Event) error {
		rec := newExportRecord(event)
		detail := rec.Frame
		switch {
		case rec.NewState != "":
			detail = rec.NewState
		case rec.Error != "":
			detail = rec.Error
		}
		row := []string{
			rec.Timestamp,
			rec.ConnectionID,
			rec.Direction,
			rec.Layer,
			rec.Category,
			rec.Type,
			optionalInt(rec.Intensity),
			optionalInt(rec.Duration),
			detail,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
		return nil
	})
}

func optionalInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

// ParseTimeFlag parses an RFC 3339 time flag. An empty string yields nil.
func ParseTimeFlag(name, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s format: %w", name, err)
	}
	return &t, nil
}
