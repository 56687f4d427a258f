package calibration

import (
	"context"
	"errors"
	"testing"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/adc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeConverter struct {
	settings     adc.Settings
	configured   int
	selfCals     int
	gainCals     []adc.PhysicalInput
	offset, gain uint32
	failGain     error
}

func (f *fakeConverter) Configure(s adc.Settings) error {
	f.configured++
	f.settings = s
	return nil
}
func (f *fakeConverter) Settings() adc.Settings { return f.settings }
func (f *fakeConverter) SelfCalibrate(context.Context) error {
	f.selfCals++
	return nil
}
func (f *fakeConverter) GainCalibrate(_ context.Context, in adc.PhysicalInput) error {
	if f.failGain != nil {
		return f.failGain
	}
	f.gainCals = append(f.gainCals, in)
	return nil
}
func (f *fakeConverter) LoadCalibration(offset, gain uint32) error {
	f.offset, f.gain = offset, gain
	return nil
}
func (f *fakeConverter) Calibration() (uint32, uint32) { return f.offset, f.gain }
func (f *fakeConverter) Convert(context.Context, adc.PhysicalInput) (int32, error) {
	return 0, nil
}
func (f *fakeConverter) Registers() ([]adc.Register, error) { return nil, nil }

type fakeHistory struct{ min, max float32 }

func (h fakeHistory) MinTemperature() float32 { return h.min }
func (h fakeHistory) MaxTemperature() float32 { return h.max }

type args map[string]string

func (a args) Lookup(key string) (string, bool) {
	v, ok := a[key]
	return v, ok
}

func newTestEngine(t *testing.T, conv *fakeConverter, history fakeHistory) *Engine {
	t.Helper()
	store, _, _ := newTestStore(t)
	return NewEngine(store, conv, history, EngineConfig{ValidMinTemp: 0, ValidMaxTemp: 70}, zap.NewNop())
}

func TestSystemCalibrationRecordsWords(t *testing.T) {
	conv := &fakeConverter{settings: adc.DefaultSettings(), offset: 12, gain: 0x400123}
	engine := newTestEngine(t, conv, fakeHistory{})

	require.NoError(t, engine.PerformSystemCalibration(context.Background()))
	assert.Equal(t, 1, conv.selfCals)

	store := engine.Store()
	assert.Equal(t, uint32(12), store.Offset(adc.Rate60, adc.GainX1, adc.BufferDisabled))
	assert.Equal(t, uint32(0x400123), store.Gain(adc.Rate60, adc.GainX1, adc.BufferDisabled, 25))
}

func TestGainCalibrationDefaults(t *testing.T) {
	conv := &fakeConverter{gain: 0x410000}
	engine := newTestEngine(t, conv, fakeHistory{})

	require.NoError(t, engine.PerformSystemGainCalibration(context.Background(), args{}))
	assert.Equal(t, adc.DefaultSettings(), conv.settings)
	assert.Equal(t, []adc.PhysicalInput{adc.External(0)}, conv.gainCals)
	assert.Equal(t, uint32(0x410000), engine.Store().Gain(adc.Rate60, adc.GainX1, adc.BufferDisabled, 0))
}

func TestGainCalibrationArguments(t *testing.T) {
	conv := &fakeConverter{}
	engine := newTestEngine(t, conv, fakeHistory{})

	err := engine.PerformSystemGainCalibration(context.Background(), args{
		KeyBuffer: "ENABLED",
		KeyRate:   "1000",
		KeyGain:   "8",
		KeyInput:  "5",
	})
	require.NoError(t, err)
	assert.Equal(t, adc.Settings{Rate: adc.Rate1000, Gain: adc.GainX8, Buffer: adc.BufferEnabled}, conv.settings)
	assert.Equal(t, []adc.PhysicalInput{adc.External(5)}, conv.gainCals)
}

func TestGainCalibrationParseErrorSkipsHardware(t *testing.T) {
	conv := &fakeConverter{}
	engine := newTestEngine(t, conv, fakeHistory{})

	err := engine.PerformSystemGainCalibration(context.Background(), args{KeyRate: "12345"})
	assert.ErrorIs(t, err, ErrParse)
	assert.Zero(t, conv.configured)
	assert.Empty(t, conv.gainCals)
}

func TestGainCalibrationHardwareFailure(t *testing.T) {
	boom := errors.New("spi timeout")
	conv := &fakeConverter{failGain: boom}
	engine := newTestEngine(t, conv, fakeHistory{})

	err := engine.PerformSystemGainCalibration(context.Background(), args{})
	assert.ErrorIs(t, err, ErrConversion)
	assert.ErrorIs(t, err, boom)
}

func TestIsCalibrationValid(t *testing.T) {
	tests := []struct {
		name    string
		history fakeHistory
		want    bool
	}{
		{"inside envelope", fakeHistory{min: 10, max: 40}, true},
		{"on the edges", fakeHistory{min: 0, max: 70}, true},
		{"too hot once", fakeHistory{min: 10, max: 70.5}, false},
		{"too cold once", fakeHistory{min: -0.5, max: 40}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine(t, &fakeConverter{}, tt.history)
			assert.Equal(t, tt.want, engine.IsCalibrationValid())
		})
	}
}
