package adc

import "context"

// Register is one converter register as reported by READ_ADC_REGISTERS.
type Register struct {
	Name    string `json:"name"`
	Address uint8  `json:"address"`
	Value   uint8  `json:"value"`
}

// Converter is the delta-sigma ADC behind the analog multiplexer.
type Converter interface {
	Configure(s Settings) error
	Settings() Settings

	// SelfCalibrate runs the converter's internal offset and gain calibration.
	SelfCalibrate(ctx context.Context) error
	// GainCalibrate runs a system gain calibration against input, which must
	// be driven with the full scale reference.
	GainCalibrate(ctx context.Context, input PhysicalInput) error

	// LoadCalibration writes the offset and full scale correction words.
	LoadCalibration(offset, gain uint32) error
	Calibration() (offset, gain uint32)

	Convert(ctx context.Context, input PhysicalInput) (int32, error)
	Registers() ([]Register, error)
}
