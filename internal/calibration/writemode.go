package calibration

import (
	"fmt"
	"math"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/adc"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/flash"
	"github.com/chewxy/math32"
	"go.uber.org/zap"
)

// EnterWriteMode unlocks the sector, erases it and verifies the erase by
// programming every word with the erase pattern. The store only reports
// write mode once the whole sector is blank.
func (s *Store) EnterWriteMode() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeMode {
		return ErrModeActive
	}

	if err := s.region.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock calibration sector: %w", err)
	}
	if err := s.region.EraseSector(); err != nil {
		s.relock()
		return fmt.Errorf("failed to erase calibration sector: %w", err)
	}
	for addr := uint32(0); addr+4 <= s.region.Size(); addr += 4 {
		if err := s.region.ProgramWord(addr, flash.ErasedWord); err != nil {
			s.relock()
			return fmt.Errorf("failed to blank calibration sector at 0x%05X: %w", addr, err)
		}
	}

	s.writeMode = true
	s.logger.Info("Calibration write mode entered", zap.Uint32("sector_size", s.region.Size()))
	return nil
}

// ExitWriteMode relocks the sector and reloads the header so freshly
// programmed data takes effect.
func (s *Store) ExitWriteMode() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.relock()
	s.writeMode = false
	if err := s.loadHeader(); err != nil {
		s.logger.Error("Failed to reload calibration header", zap.Error(err))
	}
	s.logger.Info("Calibration write mode exited")
}

func (s *Store) relock() {
	if err := s.region.Lock(); err != nil {
		s.logger.Error("Failed to lock calibration sector", zap.Error(err))
	}
}

// SetSerialNumber programs the board serial. Serials shorter than
// SerialLength are rejected before anything is written; longer ones are
// truncated.
func (s *Store) SetSerialNumber(serial string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.writeMode {
		return ErrWriteProtected
	}
	if len(serial) < SerialLength {
		return fmt.Errorf("%w: serial number needs %d characters, got %d", ErrBadArgument, SerialLength, len(serial))
	}

	var first error
	for i := uint32(0); i < SerialLength; i++ {
		if err := s.region.ProgramByte(AddrSerial+i, serial[i]); err != nil && first == nil {
			first = fmt.Errorf("failed to program serial byte %d: %w", i, err)
		}
	}
	return first
}

func (s *Store) SetTempLow(value float32) error {
	return s.programWord(AddrTempLow, math.Float32bits(value))
}

func (s *Store) SetTempHigh(value float32) error {
	return s.programWord(AddrTempHigh, math.Float32bits(value))
}

func (s *Store) SetTempStep(value float32) error {
	return s.programWord(AddrTempStep, math.Float32bits(value))
}

func (s *Store) SetTempCount(count uint32) error {
	return s.programWord(AddrTempCount, count)
}

// MarkValid programs the validity marker. Call it last, once every
// record has been written.
func (s *Store) MarkValid() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.writeMode {
		return ErrWriteProtected
	}
	if err := s.region.ProgramByte(AddrValid, validMarker); err != nil {
		return fmt.Errorf("failed to program validity marker: %w", err)
	}
	return nil
}

// SetGainCalibration programs one gain word for the temperature record
// nearest to temperature. The temperature bounds must already be programmed.
func (s *Store) SetGainCalibration(value uint32, rate adc.SampleRate, gain adc.Gain, buffer adc.Buffer, temperature float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.writeMode {
		return ErrWriteProtected
	}

	bufOffset, ok := bufferOffset(buffer)
	if !ok {
		return fmt.Errorf("%w: buffer setting %s", ErrBadArgument, buffer)
	}

	lowBits, err := s.region.ReadWord(AddrTempLow)
	if err != nil {
		return fmt.Errorf("failed to read programmed low temperature: %w", err)
	}
	stepBits, err := s.region.ReadWord(AddrTempStep)
	if err != nil {
		return fmt.Errorf("failed to read programmed temperature step: %w", err)
	}
	low := math.Float32frombits(lowBits)
	step := math.Float32frombits(stepBits)
	if !(step > 0) || math32.IsNaN(low) {
		return fmt.Errorf("%w: temperature bounds not programmed", ErrBadArgument)
	}

	record := math.Round(float64((temperature - low) / step))
	if record < 0 {
		return fmt.Errorf("%w: temperature %.2f below calibrated range", ErrBadArgument, temperature)
	}

	idx := s.index(rate, gain, buffer)
	addr := dataAddress(uint32(record), idx, bufOffset)
	if err := s.region.ProgramWord(addr, value); err != nil {
		return fmt.Errorf("failed to program gain calibration at 0x%05X: %w", addr, err)
	}
	return nil
}

func (s *Store) programWord(addr uint32, value uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.writeMode {
		return ErrWriteProtected
	}
	if err := s.region.ProgramWord(addr, value); err != nil {
		return fmt.Errorf("failed to program calibration word at 0x%02X: %w", addr, err)
	}
	return nil
}
