package sampling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/adc"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/calibration"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/channel"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/dio"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/flash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type collector struct {
	mu       sync.Mutex
	readings []Reading
}

func (c *collector) Write(_ context.Context, r Reading) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readings = append(c.readings, r)
	return nil
}

func (c *collector) snapshot() []Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Reading(nil), c.readings...)
}

type fixedTemp float32

func (f fixedTemp) Temperature() float32 { return float32(f) }

func countingSweep(calls *int) Sweep {
	return func(context.Context) ([]Reading, error) {
		*calls++
		return []Reading{{Type: channel.TypeDigitalInput, Number: 1}}, nil
	}
}

func TestMachineFiniteRun(t *testing.T) {
	sink := &collector{}
	m := NewMachine("di", time.Millisecond, sink, zap.NewNop())
	finished := make(chan struct{})
	m.OnDone(func() { close(finished) })

	calls := 0
	m.Start(Run{Sweep: countingSweep(&calls), Count: 3})

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not complete")
	}
	assert.False(t, m.Running())
	assert.Equal(t, 3, m.Taken())

	readings := sink.snapshot()
	require.Len(t, readings, 3)
	for i, r := range readings {
		assert.Equal(t, i, r.Sample)
		assert.NotEmpty(t, r.ID)
	}
}

func TestMachineHaltContinuousRun(t *testing.T) {
	m := NewMachine("ai", time.Millisecond, &collector{}, zap.NewNop())
	m.OnDone(func() { t.Error("halted run reported completion") })

	calls := 0
	m.Start(Run{Sweep: countingSweep(&calls), Single: true})
	assert.True(t, m.Running())
	assert.True(t, m.Single())

	require.Eventually(t, func() bool { return m.Taken() >= 2 }, 2*time.Second, time.Millisecond)
	m.Halt()
	assert.False(t, m.Running())

	// Halting an idle machine is a no-op.
	m.Halt()
}

func TestMachineSweepErrorEndsRun(t *testing.T) {
	m := NewMachine("do", time.Millisecond, &collector{}, zap.NewNop())
	finished := make(chan struct{})
	m.OnDone(func() { close(finished) })

	m.Start(Run{Sweep: func(context.Context) ([]Reading, error) {
		return nil, errors.New("bus fault")
	}})

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not end")
	}
	assert.Zero(t, m.Taken())
}

func TestAnalogSweepAppliesCalibration(t *testing.T) {
	conv := adc.NewSimulator(func(adc.PhysicalInput, time.Time) float64 { return 1.25 }, 0, zap.NewNop())
	store := calibration.NewStore(flash.NewMemory(8192), zap.NewNop())
	require.NoError(t, store.Init())

	banks := channel.NewBanks(36, 8, 8)
	_, err := banks.AddAnalogInput(mapArgs{"INPUT": "2", "NAME": "BRIDGE"})
	require.NoError(t, err)
	list := channel.Resolve(banks.Analog, "1-3", zap.NewNop())

	store.SetBaseGain(0x400000, adc.Rate60, adc.GainX1, adc.BufferDisabled)
	readings, err := AnalogSweep(conv, store, fixedTemp(25), list)(context.Background())
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, 2, readings[0].Number)
	assert.Equal(t, "BRIDGE", readings[0].Name)
	assert.Equal(t, int32(2097151), readings[0].Code)

	store.SetBaseGain(0x800000, adc.Rate60, adc.GainX1, adc.BufferDisabled)
	readings, err = AnalogSweep(conv, store, fixedTemp(25), list)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2*2097151), readings[0].Code)
}

func TestDigitalSweeps(t *testing.T) {
	sim := dio.NewSimulator(4, 4)
	require.NoError(t, sim.SetInput(1, true))
	require.NoError(t, sim.SetOutput(3, true))

	banks := channel.NewBanks(36, 4, 4)
	_, err := banks.AddDigitalInput(mapArgs{"INPUT": "1"})
	require.NoError(t, err)
	_, err = banks.AddDigitalOutput(mapArgs{"OUTPUT": "3"})
	require.NoError(t, err)

	in, err := DigitalInputSweep(sim, channel.Resolve(banks.Inputs, "ALL", zap.NewNop()))(context.Background())
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.True(t, in[0].Level)
	assert.Contains(t, in[0].String(), "?D1,")

	out, err := DigitalOutputSweep(sim, channel.Resolve(banks.Outputs, "3", zap.NewNop()))(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Level)
	assert.Contains(t, out[0].String(), ",ON")
}

type mapArgs map[string]string

func (a mapArgs) Lookup(key string) (string, bool) {
	v, ok := a[key]
	return v, ok
}

func TestFanoutJoinsErrors(t *testing.T) {
	f := NewFanout(zap.NewNop())
	good := &collector{}
	f.Add("good", good)
	f.Add("bad", SinkFunc(func(context.Context, Reading) error { return errors.New("offline") }))

	err := f.Write(context.Background(), Reading{Number: 4})
	assert.ErrorContains(t, err, "bad: offline")
	assert.Len(t, good.snapshot(), 1)

	f.Remove("bad")
	assert.NoError(t, f.Write(context.Background(), Reading{Number: 5}))
}
