package actuation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/bzzt-protocol/bzzt-go/pkg/wire"
)

type stubActuator struct{ mock.Mock }

func (a *stubActuator) Pulse(intensity, durationMs int) { a.Called(intensity, durationMs) }

func (a *stubActuator) Capability() Capability {
	return a.Called().Get(0).(Capability)
}

func newStub(c Capability) *stubActuator {
	a := &stubActuator{}
	a.On("Capability").Return(c).Once()
	return a
}

func TestDispatchInRange(t *testing.T) {
	a := newStub(DefaultCapability())
	a.On("Pulse", 200, 500).Return().Once()

	d := NewDispatcher(a)
	req := d.Dispatch(wire.PulseCommand{Intensity: 200, Duration: 500})

	assert.Equal(t, 200, req.Intensity)
	assert.Equal(t, 500, req.Duration)
	assert.False(t, req.Clamped())
	a.AssertExpectations(t)
}

func TestDispatchClampsIntensity(t *testing.T) {
	a := newStub(DefaultCapability())
	a.On("Pulse", 255, 500).Return().Once()

	d := NewDispatcher(a)
	req := d.Dispatch(wire.PulseCommand{Intensity: 999, Duration: 500})

	assert.Equal(t, 255, req.Intensity)
	assert.True(t, req.Clamped())
	assert.Equal(t, 999, req.Command.Intensity)
	a.AssertExpectations(t)

	dispatched, clamped := d.Stats()
	assert.Equal(t, uint64(1), dispatched)
	assert.Equal(t, uint64(1), clamped)
}

func TestDispatchRaisesToMinimum(t *testing.T) {
	a := newStub(DefaultCapability())
	a.On("Pulse", 1, 100).Return().Once()

	d := NewDispatcher(a)
	req := d.Dispatch(wire.PulseCommand{Intensity: 0, Duration: 100})

	assert.Equal(t, 1, req.Intensity)
	a.AssertExpectations(t)
}

func TestDispatchClampsDuration(t *testing.T) {
	c := DefaultCapability()
	c.MaxDuration = 2 * time.Second

	a := newStub(c)
	a.On("Pulse", 100, 2000).Return().Once()

	d := NewDispatcher(a)
	req := d.Dispatch(wire.PulseCommand{Intensity: 100, Duration: 60000})

	assert.Equal(t, 2000, req.Duration)
	assert.True(t, req.Clamped())
	a.AssertExpectations(t)
}

func TestDispatchNoDeduplication(t *testing.T) {
	a := newStub(DefaultCapability())
	a.On("Pulse", 50, 50).Return().Times(3)

	d := NewDispatcher(a)
	for range 3 {
		d.Dispatch(wire.PulseCommand{Intensity: 50, Duration: 50})
	}

	a.AssertNumberOfCalls(t, "Pulse", 3)
	dispatched, clamped := d.Stats()
	assert.Equal(t, uint64(3), dispatched)
	assert.Zero(t, clamped)
}

func TestDispatcherCapabilityOverride(t *testing.T) {
	a := newStub(DefaultCapability())
	a.On("Pulse", 100, 10).Return().Once()

	d := NewDispatcher(a, WithCapability(Capability{MinIntensity: 10, MaxIntensity: 100}))
	d.Dispatch(wire.PulseCommand{Intensity: 200, Duration: 10})

	assert.Equal(t, 100, d.Capability().MaxIntensity)
	a.AssertExpectations(t)
}

func TestClamp(t *testing.T) {
	tests := []struct {
		v, lo, hi, want int
	}{
		{5, 1, 10, 5},
		{0, 1, 10, 1},
		{11, 1, 10, 10},
		{1, 1, 1, 1},
	}
	for _, tt := range tests {
		if got := Clamp(tt.v, tt.lo, tt.hi); got != tt.want {
			t.Errorf("Clamp(%d, %d, %d) = %d, want %d", tt.v, tt.lo, tt.hi, got, tt.want)
		}
	}
}

func TestCapabilityValidate(t *testing.T) {
	assert.NoError(t, DefaultCapability().Validate())
	assert.Error(t, Capability{MinIntensity: -1, MaxIntensity: 10}.Validate())
	assert.Error(t, Capability{MinIntensity: 10, MaxIntensity: 5}.Validate())
	assert.Error(t, Capability{MinIntensity: 1, MaxIntensity: 5, MaxDuration: -time.Second}.Validate())
}
