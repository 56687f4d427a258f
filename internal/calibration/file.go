package calibration

import (
	"fmt"
	"os"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/adc"
	"github.com/chewxy/math32"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// File is a factory calibration data set as produced by the test rig.
type File struct {
	Serial      string      `yaml:"serial"`
	Temperature Range       `yaml:"temperature"`
	Gains       []GainEntry `yaml:"gains"`
}

type Range struct {
	Low  float32 `yaml:"low"`
	High float32 `yaml:"high"`
	Step float32 `yaml:"step"`
}

type GainEntry struct {
	Temperature float32 `yaml:"temperature"`
	Rate        string  `yaml:"rate"`
	Gain        string  `yaml:"gain"`
	Buffer      string  `yaml:"buffer"`
	Value       uint32  `yaml:"value"`
}

func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}
	return ParseFile(data)
}

func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse calibration file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) Validate() error {
	r := f.Temperature
	if !(r.Step > 0) {
		return fmt.Errorf("%w: temperature step must be positive", ErrBadArgument)
	}
	if r.Low > r.High {
		return fmt.Errorf("%w: low temperature %.2f above high %.2f", ErrBadArgument, r.Low, r.High)
	}
	if len(f.Serial) < SerialLength {
		return fmt.Errorf("%w: serial number needs %d characters", ErrBadArgument, SerialLength)
	}
	for i, g := range f.Gains {
		if g.Temperature < r.Low || g.Temperature > r.High {
			return fmt.Errorf("%w: gain entry %d at %.2f outside temperature range", ErrBadArgument, i, g.Temperature)
		}
		if _, err := g.settings(); err != nil {
			return fmt.Errorf("gain entry %d: %w", i, err)
		}
	}
	return nil
}

// TempCount is the number of temperature records spanned by the range.
func (f *File) TempCount() uint32 {
	r := f.Temperature
	return uint32(math32.Floor((r.High-r.Low)/r.Step)) + 1
}

func (g GainEntry) settings() (adc.Settings, error) {
	var s adc.Settings
	var err error
	if s.Rate, err = adc.ParseSampleRate(g.Rate); err != nil {
		return s, err
	}
	if s.Gain, err = adc.ParseGain(g.Gain); err != nil {
		return s, err
	}
	if s.Buffer, err = adc.ParseBuffer(g.Buffer); err != nil {
		return s, err
	}
	return s, nil
}

// Program writes f into the store using a full write mode session. The
// validity marker is only programmed after every other word succeeded.
func Program(store *Store, f *File, logger *zap.Logger) error {
	if count := f.TempCount(); count > store.Capacity() {
		return fmt.Errorf("%w: %d temperature records exceed sector capacity %d", ErrBadArgument, count, store.Capacity())
	}

	if err := store.EnterWriteMode(); err != nil {
		return fmt.Errorf("failed to enter calibration mode: %w", err)
	}
	defer store.ExitWriteMode()

	r := f.Temperature
	steps := []struct {
		name string
		fn   func() error
	}{
		{"low temperature", func() error { return store.SetTempLow(r.Low) }},
		{"high temperature", func() error { return store.SetTempHigh(r.High) }},
		{"temperature step", func() error { return store.SetTempStep(r.Step) }},
		{"temperature count", func() error { return store.SetTempCount(f.TempCount()) }},
		{"serial number", func() error { return store.SetSerialNumber(f.Serial) }},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return fmt.Errorf("failed to program %s: %w", step.name, err)
		}
	}

	for i, g := range f.Gains {
		s, err := g.settings()
		if err != nil {
			return fmt.Errorf("gain entry %d: %w", i, err)
		}
		if err := store.SetGainCalibration(g.Value, s.Rate, s.Gain, s.Buffer, g.Temperature); err != nil {
			return fmt.Errorf("failed to program gain entry %d: %w", i, err)
		}
	}

	if err := store.MarkValid(); err != nil {
		return err
	}

	logger.Info("Calibration data programmed",
		zap.Int("gain_entries", len(f.Gains)),
		zap.Uint32("temp_count", f.TempCount()))
	return nil
}
