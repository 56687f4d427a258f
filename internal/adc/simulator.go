package adc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

const (
	maxCode   = 0x7FFFFF
	minCode   = -0x800000
	unityGain = 0x400000

	calibrationSamples = 32
	referenceVolts     = 2.5
)

var ErrCalibration = errors.New("adc calibration failed")

// SignalFunc returns the voltage present on input at the given instant.
type SignalFunc func(input PhysicalInput, at time.Time) float64

// DefaultSignal drives every external input with a slow sine whose amplitude
// grows with the channel number; internal inputs carry their nominal levels.
func DefaultSignal(input PhysicalInput, at time.Time) float64 {
	switch input {
	case InputShorted:
		return 0
	case InputSupply9V:
		return 9.0 / 10
	case InputSupply5V:
		return 5.0 / 10
	case InputSupply3V3:
		return 3.3 / 10
	case InputColdJunction:
		return 0.25
	}
	amplitude := 0.1 + 0.05*float64(input)
	return amplitude * math.Sin(2*math.Pi*0.2*float64(at.UnixNano())/1e9)
}

// Simulator is a software model of the ADS1256 front end.
type Simulator struct {
	mu       sync.Mutex
	settings Settings
	offset   int32
	gain     uint32
	signal   SignalFunc
	noise    float64
	rng      *rand.Rand
	now      func() time.Time
	logger   *zap.Logger
}

func NewSimulator(signal SignalFunc, noiseVolts float64, logger *zap.Logger) *Simulator {
	if signal == nil {
		signal = DefaultSignal
	}
	return &Simulator{
		settings: DefaultSettings(),
		gain:     unityGain,
		signal:   signal,
		noise:    noiseVolts,
		rng:      rand.New(rand.NewSource(1)),
		now:      time.Now,
		logger:   logger,
	}
}

func (s *Simulator) Configure(set Settings) error {
	if _, ok := rateNames[set.Rate]; !ok {
		return fmt.Errorf("%w: rate 0x%02X", ErrUnknownSetting, uint8(set.Rate))
	}
	if set.Gain > GainX64 {
		return fmt.Errorf("%w: gain %d", ErrUnknownSetting, uint8(set.Gain))
	}
	if set.Buffer != BufferEnabled && set.Buffer != BufferDisabled {
		return fmt.Errorf("%w: buffer 0x%02X", ErrUnknownSetting, uint8(set.Buffer))
	}

	s.mu.Lock()
	s.settings = set
	s.mu.Unlock()
	return nil
}

func (s *Simulator) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *Simulator) SelfCalibrate(ctx context.Context) error {
	samples, err := s.collect(ctx, InputShorted)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.offset = int32(math.Round(stat.Mean(samples, nil)))
	s.gain = unityGain
	offset := s.offset
	s.mu.Unlock()

	s.logger.Info("ADC self calibration complete",
		zap.Int32("offset", offset),
		zap.Float64("noise_codes", stat.StdDev(samples, nil)))
	return nil
}

func (s *Simulator) GainCalibrate(ctx context.Context, input PhysicalInput) error {
	samples, err := s.collect(ctx, input)
	if err != nil {
		return err
	}

	s.mu.Lock()
	mean := stat.Mean(samples, nil) - float64(s.offset)
	if mean <= 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: input %s reads %.0f codes", ErrCalibration, input, mean)
	}
	s.gain = uint32(math.Round(unityGain * maxCode / mean))
	gain := s.gain
	s.mu.Unlock()

	s.logger.Info("ADC gain calibration complete",
		zap.String("input", input.String()),
		zap.Uint32("gain", gain))
	return nil
}

func (s *Simulator) LoadCalibration(offset, gain uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// OFC is a 24 bit two's complement value.
	s.offset = int32(offset<<8) >> 8
	if gain == 0 {
		gain = unityGain
	}
	s.gain = gain
	return nil
}

func (s *Simulator) Calibration() (uint32, uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint32(s.offset) & 0xFFFFFF, s.gain
}

func (s *Simulator) Convert(ctx context.Context, input PhysicalInput) (int32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	raw := s.rawLocked(input)
	corrected := float64(int64(raw)-int64(s.offset)) * float64(s.gain) / unityGain
	return clampCode(corrected), nil
}

func (s *Simulator) Registers() ([]Register, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ofc := uint32(s.offset) & 0xFFFFFF
	return []Register{
		{Name: "STATUS", Address: 0x00, Value: 0x30 | uint8(s.settings.Buffer)},
		{Name: "MUX", Address: 0x01, Value: 0x08},
		{Name: "ADCON", Address: 0x02, Value: 0x20 | uint8(s.settings.Gain)},
		{Name: "DRATE", Address: 0x03, Value: uint8(s.settings.Rate)},
		{Name: "IO", Address: 0x04, Value: 0xE1},
		{Name: "OFC0", Address: 0x05, Value: uint8(ofc)},
		{Name: "OFC1", Address: 0x06, Value: uint8(ofc >> 8)},
		{Name: "OFC2", Address: 0x07, Value: uint8(ofc >> 16)},
		{Name: "FSC0", Address: 0x08, Value: uint8(s.gain)},
		{Name: "FSC1", Address: 0x09, Value: uint8(s.gain >> 8)},
		{Name: "FSC2", Address: 0x0A, Value: uint8(s.gain >> 16)},
	}, nil
}

func (s *Simulator) collect(ctx context.Context, input PhysicalInput) ([]float64, error) {
	samples := make([]float64, 0, calibrationSamples)
	for i := 0; i < calibrationSamples; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.mu.Lock()
		samples = append(samples, float64(s.rawLocked(input)))
		s.mu.Unlock()
	}
	return samples, nil
}

func (s *Simulator) rawLocked(input PhysicalInput) int32 {
	volts := s.signal(input, s.now())
	if s.noise > 0 {
		volts += s.rng.NormFloat64() * s.noise
	}
	fullScale := 2 * referenceVolts / float64(s.settings.Gain.Factor())
	return clampCode(volts / fullScale * maxCode)
}

func clampCode(v float64) int32 {
	switch {
	case v > maxCode:
		return maxCode
	case v < minCode:
		return minCode
	default:
		return int32(v)
	}
}
