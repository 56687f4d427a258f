package sampling

import (
	"context"
	"fmt"
	"time"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/adc"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/calibration"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/channel"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/dio"
)

// Thermometer reports the current board temperature in degrees Celsius.
type Thermometer interface {
	Temperature() float32
}

// AnalogSweep converts every populated input of list, loading the
// calibration for the input's settings at the current board temperature
// before each conversion.
func AnalogSweep(conv adc.Converter, store *calibration.Store, thermo Thermometer, list []*channel.AnalogInput) Sweep {
	inputs := channel.Populated(list)
	return func(ctx context.Context) ([]Reading, error) {
		out := make([]Reading, 0, len(inputs))
		for _, ch := range inputs {
			if err := conv.Configure(ch.Settings); err != nil {
				return nil, fmt.Errorf("failed to configure input %d: %w", ch.Number, err)
			}
			offset, gain := store.Lookup(ch.Settings, thermo.Temperature())
			if err := conv.LoadCalibration(offset, gain); err != nil {
				return nil, fmt.Errorf("failed to load calibration for input %d: %w", ch.Number, err)
			}
			code, err := conv.Convert(ctx, ch.Input)
			if err != nil {
				return nil, fmt.Errorf("failed to convert input %d: %w", ch.Number, err)
			}
			out = append(out, Reading{
				Type:      channel.TypeAnalogInput,
				Number:    ch.Number,
				Name:      ch.Name,
				Code:      code,
				Timestamp: time.Now(),
			})
		}
		return out, nil
	}
}

func DigitalInputSweep(inputs dio.Inputs, list []*channel.DigitalInput) Sweep {
	channels := channel.Populated(list)
	return func(ctx context.Context) ([]Reading, error) {
		out := make([]Reading, 0, len(channels))
		for _, ch := range channels {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			on, err := inputs.ReadInput(ch.Number)
			if err != nil {
				return nil, fmt.Errorf("failed to read digital input %d: %w", ch.Number, err)
			}
			out = append(out, Reading{
				Type:      channel.TypeDigitalInput,
				Number:    ch.Number,
				Name:      ch.Name,
				Level:     on,
				Timestamp: time.Now(),
			})
		}
		return out, nil
	}
}

func DigitalOutputSweep(outputs dio.Outputs, list []*channel.DigitalOutput) Sweep {
	channels := channel.Populated(list)
	return func(ctx context.Context) ([]Reading, error) {
		out := make([]Reading, 0, len(channels))
		for _, ch := range channels {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			on, err := outputs.ReadOutput(ch.Number)
			if err != nil {
				return nil, fmt.Errorf("failed to read digital output %d: %w", ch.Number, err)
			}
			out = append(out, Reading{
				Type:      channel.TypeDigitalOutput,
				Number:    ch.Number,
				Name:      ch.Name,
				Level:     on,
				Timestamp: time.Now(),
			})
		}
		return out, nil
	}
}
