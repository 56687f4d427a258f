package calibration

import (
	"context"
	"errors"
	"fmt"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/adc"
	"go.uber.org/zap"
)

var (
	ErrParse      = errors.New("calibration argument parse error")
	ErrConversion = errors.New("adc calibration routine failed")
)

// Argument keys understood by the gain calibration.
const (
	KeyBuffer = "BUFFER"
	KeyRate   = "RATE"
	KeyGain   = "GAIN"
	KeyInput  = "INPUT"
)

// Arguments gives access to parsed command arguments by key.
type Arguments interface {
	Lookup(key string) (string, bool)
}

// TemperatureHistory reports the extremes the board has ever seen.
type TemperatureHistory interface {
	MinTemperature() float32
	MaxTemperature() float32
}

type EngineConfig struct {
	ValidMinTemp float32
	ValidMaxTemp float32
}

// Engine runs calibration sequences against the converter and keeps the
// store's RAM tables in step with the results.
type Engine struct {
	store     *Store
	converter adc.Converter
	history   TemperatureHistory
	cfg       EngineConfig
	logger    *zap.Logger
}

func NewEngine(store *Store, converter adc.Converter, history TemperatureHistory, cfg EngineConfig, logger *zap.Logger) *Engine {
	return &Engine{
		store:     store,
		converter: converter,
		history:   history,
		cfg:       cfg,
		logger:    logger,
	}
}

func (e *Engine) Store() *Store {
	return e.store
}

// PerformSystemCalibration runs the converter self calibration for the
// active settings and records the resulting offset and gain words.
func (e *Engine) PerformSystemCalibration(ctx context.Context) error {
	if err := e.converter.SelfCalibrate(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrConversion, err)
	}

	settings := e.converter.Settings()
	offset, gain := e.converter.Calibration()
	e.store.SetOffset(offset, settings.Rate, settings.Gain, settings.Buffer)
	e.store.SetBaseGain(gain, settings.Rate, settings.Gain, settings.Buffer)

	e.logger.Info("System calibration complete",
		zap.Stringer("rate", settings.Rate),
		zap.Stringer("gain", settings.Gain),
		zap.Stringer("buffer", settings.Buffer))
	return nil
}

// ApplySettings configures the converter from the optional BUFFER, RATE and
// GAIN arguments. Missing keys take the default settings.
func (e *Engine) ApplySettings(args Arguments) error {
	settings, _, err := parseGainCalibration(args)
	if err != nil {
		return err
	}
	if err := e.converter.Configure(settings); err != nil {
		return fmt.Errorf("%w: %w", ErrConversion, err)
	}
	return nil
}

// PerformSystemGainCalibration applies the optional BUFFER, RATE, GAIN and
// INPUT arguments and gain calibrates the selected input. Missing keys fall
// back to a disabled buffer, 60 SPS, x1 gain and external input 0.
func (e *Engine) PerformSystemGainCalibration(ctx context.Context, args Arguments) error {
	settings, input, err := parseGainCalibration(args)
	if err != nil {
		return err
	}

	if err := e.converter.Configure(settings); err != nil {
		return fmt.Errorf("%w: %w", ErrConversion, err)
	}
	if err := e.converter.GainCalibrate(ctx, input); err != nil {
		return fmt.Errorf("%w: %w", ErrConversion, err)
	}

	_, gain := e.converter.Calibration()
	e.store.SetBaseGain(gain, settings.Rate, settings.Gain, settings.Buffer)

	e.logger.Info("System gain calibration complete",
		zap.Stringer("input", input),
		zap.Stringer("rate", settings.Rate),
		zap.Stringer("gain", settings.Gain),
		zap.Stringer("buffer", settings.Buffer),
		zap.Uint32("gain_word", gain))
	return nil
}

func parseGainCalibration(args Arguments) (adc.Settings, adc.PhysicalInput, error) {
	settings := adc.DefaultSettings()
	input := adc.External(0)

	if v, ok := args.Lookup(KeyBuffer); ok {
		b, err := adc.ParseBuffer(v)
		if err != nil {
			return settings, input, fmt.Errorf("%w: %w", ErrParse, err)
		}
		settings.Buffer = b
	}
	if v, ok := args.Lookup(KeyRate); ok {
		r, err := adc.ParseSampleRate(v)
		if err != nil {
			return settings, input, fmt.Errorf("%w: %w", ErrParse, err)
		}
		settings.Rate = r
	}
	if v, ok := args.Lookup(KeyGain); ok {
		g, err := adc.ParseGain(v)
		if err != nil {
			return settings, input, fmt.Errorf("%w: %w", ErrParse, err)
		}
		settings.Gain = g
	}
	if v, ok := args.Lookup(KeyInput); ok {
		in, err := adc.ParsePhysicalInput(v)
		if err != nil {
			return settings, input, fmt.Errorf("%w: %w", ErrParse, err)
		}
		input = in
	}
	return settings, input, nil
}

// IsCalibrationValid reports false once the board has ever left the
// temperature envelope the calibration was taken in.
func (e *Engine) IsCalibrationValid() bool {
	hottest := e.history.MaxTemperature()
	coldest := e.history.MinTemperature()
	return !(hottest > e.cfg.ValidMaxTemp || coldest < e.cfg.ValidMinTemp)
}
