package channel

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/adc"
)

// Arguments is the read side of a parsed command line.
type Arguments interface {
	Lookup(key string) (string, bool)
}

const (
	keyInput  = "INPUT"
	keyOutput = "OUTPUT"
	keyName   = "NAME"
	keyRate   = "RATE"
	keyGain   = "GAIN"
	keyBuffer = "BUFFER"
)

// Number extracts the channel number held under key.
func Number(args Arguments, key string, capacity int) (int, error) {
	raw, ok := args.Lookup(key)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingKey, key)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrParse, key, raw)
	}
	if n < 0 || n >= capacity {
		return 0, fmt.Errorf("%w: %s=%d", ErrOutOfRange, key, n)
	}
	return n, nil
}

// AddAnalogInput creates an analog input from INPUT, BUFFER, RATE, GAIN and NAME.
// INPUT is required; the ADC settings default to 60 SPS, x1, buffer disabled.
func (b *Banks) AddAnalogInput(args Arguments) (*AnalogInput, error) {
	n, err := Number(args, keyInput, b.Analog.Capacity())
	if err != nil {
		return nil, err
	}
	input := adc.PhysicalInput(n)
	if input > adc.InputShorted {
		return nil, fmt.Errorf("%w: no multiplexer input %d", ErrOutOfRange, n)
	}

	settings := adc.DefaultSettings()
	if raw, ok := args.Lookup(keyRate); ok {
		if settings.Rate, err = adc.ParseSampleRate(raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
	}
	if raw, ok := args.Lookup(keyGain); ok {
		if settings.Gain, err = adc.ParseGain(raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
	}
	if raw, ok := args.Lookup(keyBuffer); ok {
		if settings.Buffer, err = adc.ParseBuffer(raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
	}

	name, _ := args.Lookup(keyName)
	ch := &AnalogInput{
		Number:   n,
		Name:     name,
		Input:    input,
		Settings: settings,
		Added:    time.Now(),
	}
	if err := b.Analog.Put(n, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

func (b *Banks) AddDigitalInput(args Arguments) (*DigitalInput, error) {
	n, err := Number(args, keyInput, b.Inputs.Capacity())
	if err != nil {
		return nil, err
	}
	name, _ := args.Lookup(keyName)
	ch := &DigitalInput{Number: n, Name: name, Added: time.Now()}
	if err := b.Inputs.Put(n, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

func (b *Banks) AddDigitalOutput(args Arguments) (*DigitalOutput, error) {
	n, err := Number(args, keyOutput, b.Outputs.Capacity())
	if err != nil {
		return nil, err
	}
	name, _ := args.Lookup(keyName)
	ch := &DigitalOutput{Number: n, Name: name, Added: time.Now()}
	if err := b.Outputs.Put(n, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

func (b *Banks) RemoveAnalogInput(args Arguments) error {
	n, err := Number(args, keyInput, b.Analog.Capacity())
	if err != nil {
		return err
	}
	return b.Analog.Remove(n)
}

func (b *Banks) RemoveDigitalInput(args Arguments) error {
	n, err := Number(args, keyInput, b.Inputs.Capacity())
	if err != nil {
		return err
	}
	return b.Inputs.Remove(n)
}

func (b *Banks) RemoveDigitalOutput(args Arguments) error {
	n, err := Number(args, keyOutput, b.Outputs.Capacity())
	if err != nil {
		return err
	}
	return b.Outputs.Remove(n)
}
