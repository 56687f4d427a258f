package calibration

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/adc"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/flash"
	"github.com/chewxy/math32"
	"go.uber.org/zap"
)

var (
	ErrWriteProtected = fmt.Errorf("calibration region locked: %w", flash.ErrWriteProtected)
	ErrBadArgument    = errors.New("bad calibration argument")
	ErrModeActive     = errors.New("calibration write mode already active")
)

// Header mirrors the persisted header block.
type Header struct {
	TempLow   float32 `json:"temp_low"`
	TempHigh  float32 `json:"temp_high"`
	TempStep  float32 `json:"temp_step"`
	TempCount uint32  `json:"temp_count"`
	Valid     bool    `json:"valid"`
}

type table [NumRates][NumGains][NumBuffers]uint32

// Store owns the calibration sector and the RAM gain/offset tables.
type Store struct {
	mu        sync.Mutex
	region    flash.Region
	logger    *zap.Logger
	header    Header
	writeMode bool
	baseGain  table
	offset    table
}

func NewStore(region flash.Region, logger *zap.Logger) *Store {
	return &Store{
		region: region,
		logger: logger,
	}
}

// Init loads the header block. An uncalibrated sector is not an error.
func (s *Store) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadHeader()
}

func (s *Store) loadHeader() error {
	words := make([]uint32, 4)
	for i, addr := range []uint32{AddrTempLow, AddrTempHigh, AddrTempStep, AddrTempCount} {
		w, err := s.region.ReadWord(addr)
		if err != nil {
			return fmt.Errorf("failed to read calibration header at 0x%02X: %w", addr, err)
		}
		words[i] = w
	}
	marker, err := s.region.ReadByte(AddrValid)
	if err != nil {
		return fmt.Errorf("failed to read calibration validity: %w", err)
	}

	h := Header{
		TempLow:   math.Float32frombits(words[0]),
		TempHigh:  math.Float32frombits(words[1]),
		TempStep:  math.Float32frombits(words[2]),
		TempCount: words[3],
		Valid:     marker != erasedByte,
	}
	if h.Valid && !(h.TempLow <= h.TempHigh && h.TempStep > 0 && h.TempCount > 0) {
		s.logger.Warn("Calibration header inconsistent, ignoring table",
			zap.Float32("temp_low", h.TempLow),
			zap.Float32("temp_high", h.TempHigh),
			zap.Float32("temp_step", h.TempStep),
			zap.Uint32("temp_count", h.TempCount))
		h.Valid = false
	}
	s.header = h

	s.logger.Info("Calibration table loaded",
		zap.Bool("valid", h.Valid),
		zap.Float32("temp_low", h.TempLow),
		zap.Float32("temp_high", h.TempHigh),
		zap.Uint32("temp_count", h.TempCount))
	return nil
}

func (s *Store) Header() Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.header
}

func (s *Store) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.header.Valid
}

func (s *Store) WriteMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeMode
}

// Capacity is the number of temperature records the sector can hold.
func (s *Store) Capacity() uint32 {
	size := s.region.Size()
	if size <= AddrData {
		return 0
	}
	return (size - AddrData) / 4 / WordsPerTemperature
}

// SerialNumber returns the programmed board serial, empty when unprogrammed.
func (s *Store) SerialNumber() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, 0, SerialLength)
	for i := uint32(0); i < SerialLength; i++ {
		b, err := s.region.ReadByte(AddrSerial + i)
		if err != nil {
			return "", fmt.Errorf("failed to read serial number: %w", err)
		}
		if b == erasedByte || b == 0 {
			break
		}
		buf = append(buf, b)
	}
	return string(buf), nil
}

func (s *Store) index(rate adc.SampleRate, gain adc.Gain, buffer adc.Buffer) Index {
	idx, rateKnown, gainKnown := ComputeIndex(rate, gain, buffer)
	if !gainKnown {
		s.logger.Warn("Requested gain out of range, defaulting to x1", zap.Stringer("gain", gain))
	}
	if !rateKnown {
		s.logger.Warn("Requested rate out of range, defaulting to 30000", zap.Stringer("rate", rate))
	}
	return idx
}

// Gain returns the gain calibration for the settings at temperature,
// interpolated between the two bracketing temperature records.
func (s *Store) Gain(rate adc.SampleRate, gain adc.Gain, buffer adc.Buffer, temperature float32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.index(rate, gain, buffer)
	base := s.baseGain[idx.Rate][idx.Gain][idx.Buffer]

	h := s.header
	if !h.Valid {
		s.logger.Debug("Calibration table not valid, returning base gain only", zap.Uint32("base_gain", base))
		return base
	}

	if temperature < h.TempLow || temperature > h.TempHigh {
		s.logger.Warn("Temperature outside calibrated range",
			zap.Float32("temperature", temperature),
			zap.Float32("temp_low", h.TempLow),
			zap.Float32("temp_high", h.TempHigh))
		temperature = math32.Max(h.TempLow, math32.Min(temperature, h.TempHigh))
	}

	position := (temperature - h.TempLow) / h.TempStep
	steps := math32.Floor(position)
	factor := position - steps

	lowAnchor := uint32(steps)
	highAnchor := lowAnchor + 1
	if last := h.TempCount - 1; highAnchor > last {
		highAnchor = last
		if lowAnchor > last {
			lowAnchor = last
		}
	}

	bufOffset, ok := bufferOffset(buffer)
	if !ok {
		s.logger.Error("Unable to compute calibration table offset",
			zap.Stringer("rate", rate),
			zap.Stringer("gain", gain),
			zap.Stringer("buffer", buffer),
			zap.Float32("temperature", temperature))
	}

	low, err := s.region.ReadWord(dataAddress(lowAnchor, idx, bufOffset))
	if err != nil {
		s.logger.Error("Failed to read calibration word", zap.Uint32("record", lowAnchor), zap.Error(err))
		return base
	}
	high, err := s.region.ReadWord(dataAddress(highAnchor, idx, bufOffset))
	if err != nil {
		s.logger.Error("Failed to read calibration word", zap.Uint32("record", highAnchor), zap.Error(err))
		return base
	}

	return interpolate(base, low, high, factor)
}

func interpolate(base, low, high uint32, factor float32) uint32 {
	v := float64(base) + float64(low) + (float64(high)-float64(low))*float64(factor)
	// Gain words wrap like the 32-bit register they are written to.
	return uint32(uint64(v))
}

func (s *Store) Offset(rate adc.SampleRate, gain adc.Gain, buffer adc.Buffer) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.index(rate, gain, buffer)
	return s.offset[idx.Rate][idx.Gain][idx.Buffer]
}

// Lookup returns the offset and gain words for a conversion at temperature.
func (s *Store) Lookup(settings adc.Settings, temperature float32) (offset, gain uint32) {
	offset = s.Offset(settings.Rate, settings.Gain, settings.Buffer)
	gain = s.Gain(settings.Rate, settings.Gain, settings.Buffer, temperature)
	return offset, gain
}

func (s *Store) SetBaseGain(value uint32, rate adc.SampleRate, gain adc.Gain, buffer adc.Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.index(rate, gain, buffer)
	s.baseGain[idx.Rate][idx.Gain][idx.Buffer] = value
}

func (s *Store) SetOffset(value uint32, rate adc.SampleRate, gain adc.Gain, buffer adc.Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.index(rate, gain, buffer)
	s.offset[idx.Rate][idx.Gain][idx.Buffer] = value
}
