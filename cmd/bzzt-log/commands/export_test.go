package commands

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/bzzt-protocol/bzzt-go/pkg/log"
)

func exportToBuffer(t *testing.T, format string, events []log.Event) []byte {
	t.Helper()
	path := createTestLogFile(t, events)

	reader, err := log.NewReader(path)
	require.NoError(t, err)
	defer reader.Close()

	var buf bytes.Buffer
	require.NoError(t, export(reader, format, &buf))
	return buf.Bytes()
}

func TestExportJSONL(t *testing.T) {
	out := exportToBuffer(t, FormatJSONL, sessionEvents())

	var records []exportRecord
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		var rec exportRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.Len(t, records, 6)

	assert.Equal(t, "REGISTERED", records[0].NewState)
	assert.Equal(t, `{"command":"register","type":"phone"}`, records[1].Frame)
	assert.Equal(t, "PULSE", records[2].Type)
	require.NotNil(t, records[3].Intensity)
	assert.Equal(t, 255, *records[3].Intensity)
	assert.True(t, records[3].Clamped)
	assert.Equal(t, "invalid_field", records[4].Code)
	assert.Equal(t, "10.0.0.5:8080", records[5].RemoteAddr)
}

func TestExportYAML(t *testing.T) {
	out := exportToBuffer(t, FormatYAML, sessionEvents()[:3])

	dec := yaml.NewDecoder(bytes.NewReader(out))
	var records []exportRecord
	for {
		var rec exportRecord
		if err := dec.Decode(&rec); err != nil {
			break
		}
		records = append(records, rec)
	}
	require.Len(t, records, 3)
	assert.Equal(t, "2026-01-28T10:15:32.123456Z", records[0].Timestamp)
	assert.Equal(t, "SESSION", records[0].Layer)
	require.NotNil(t, records[2].Intensity)
	assert.Equal(t, 999, *records[2].Intensity)
}

func TestExportCSV(t *testing.T) {
	out := exportToBuffer(t, FormatCSV, sessionEvents())

	rows, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 7)

	assert.Equal(t, "timestamp", rows[0][0])
	assert.Equal(t, []string{"PULSE", "999", "500"}, rows[3][5:8])
	assert.Equal(t, "intensity: not an integer", rows[5][8])
	assert.Equal(t, "DISCONNECTED", rows[6][8])
}

func TestRunExportToFile(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())
	output := filepath.Join(t.TempDir(), "out.jsonl")

	filter, err := FilterOptions{Direction: "out"}.Build()
	require.NoError(t, err)
	require.NoError(t, RunExport(path, FormatJSONL, output, filter))

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(data, []byte("\n")))
}

func TestRunExportUnknownFormat(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())

	err := RunExport(path, "xml", "", log.Filter{})
	assert.ErrorContains(t, err, "unknown format")
}
