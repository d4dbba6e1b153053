package log

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func sampleEvents() []Event {
	ts := time.Date(2026, 3, 14, 15, 9, 26, 535897932, time.UTC)
	return []Event{
		{
			Timestamp: ts, ConnectionID: "c1", Direction: DirectionOut,
			Layer: LayerWire, Category: CategoryMessage, RemoteAddr: "10.0.0.5:8080",
			Message: &MessageEvent{Type: MessageTypeRegister},
		},
		{
			Timestamp: ts.Add(time.Millisecond), ConnectionID: "c1", Direction: DirectionIn,
			Layer: LayerTransport, Category: CategoryMessage,
			Frame: NewFrameEvent([]byte(`{"intensity":999,"duration":500}`)),
		},
		{
			Timestamp: ts.Add(2 * time.Millisecond), ConnectionID: "c1", Direction: DirectionIn,
			Layer: LayerWire, Category: CategoryMessage,
			Message: &MessageEvent{Type: MessageTypePulse, Intensity: intPtr(999), Duration: intPtr(500)},
		},
		{
			Timestamp: ts.Add(3 * time.Millisecond), ConnectionID: "c1",
			Layer: LayerActuation, Category: CategoryActuation,
			Actuation: &ActuationEvent{
				RequestedIntensity: 999, RequestedDuration: 500,
				Intensity: 255, Duration: 500, Clamped: true,
			},
		},
		{
			Timestamp: ts.Add(4 * time.Millisecond), ConnectionID: "c1", Direction: DirectionIn,
			Layer: LayerWire, Category: CategoryError,
			Error: &ErrorEventData{Layer: LayerWire, Message: "bad frame", Code: "WRONG_TYPE", Context: "intensity"},
		},
		{
			Timestamp: ts.Add(5 * time.Millisecond), ConnectionID: "c1",
			Layer: LayerSession, Category: CategoryState,
			StateChange: &StateChangeEvent{OldState: "REGISTERED", NewState: "DISCONNECTED", Reason: "closed by controller"},
		},
	}
}

func TestEventRoundTrip(t *testing.T) {
	for _, event := range sampleEvents() {
		data, err := EncodeEvent(event)
		require.NoError(t, err)

		decoded, err := DecodeEvent(data)
		require.NoError(t, err)

		assert.True(t, event.Timestamp.Equal(decoded.Timestamp), "timestamp nanoseconds preserved")
		decoded.Timestamp = event.Timestamp
		assert.Equal(t, event, decoded)
	}
}

func TestEncodeEventDeterministic(t *testing.T) {
	event := sampleEvents()[3]
	a, err := EncodeEvent(event)
	require.NoError(t, err)
	b, err := EncodeEvent(event)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecodeEventGarbage(t *testing.T) {
	_, err := DecodeEvent([]byte{0xff, 0x00, 0x12})
	assert.Error(t, err)
}

func TestDecodeAll(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, e := range sampleEvents() {
		require.NoError(t, enc.Encode(e))
	}
	full := buf.Bytes()

	events, err := DecodeAll(bytes.NewReader(full))
	require.NoError(t, err)
	assert.Len(t, events, len(sampleEvents()))

	// Cut the last event in half, as a crash during a write would.
	last, err := EncodeEvent(sampleEvents()[5])
	require.NoError(t, err)
	cut := full[:len(full)-len(last)/2]

	events, err = DecodeAll(bytes.NewReader(cut))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF), "err = %v", err)
	assert.Len(t, events, len(sampleEvents())-1)
}
