package adc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrUnknownSetting = errors.New("unknown adc setting")

// SampleRate holds the DRATE register code of the converter.
type SampleRate uint8

const (
	Rate30000 SampleRate = 0xF0
	Rate15000 SampleRate = 0xE0
	Rate7500  SampleRate = 0xD0
	Rate3750  SampleRate = 0xC0
	Rate2000  SampleRate = 0xB0
	Rate1000  SampleRate = 0xA1
	Rate500   SampleRate = 0x92
	Rate100   SampleRate = 0x82
	Rate60    SampleRate = 0x72
	Rate50    SampleRate = 0x63
	Rate30    SampleRate = 0x53
	Rate25    SampleRate = 0x43
	Rate15    SampleRate = 0x33
	Rate10    SampleRate = 0x23
	Rate5     SampleRate = 0x13
	Rate2_5   SampleRate = 0x03
)

var rateNames = map[SampleRate]string{
	Rate30000: "30000",
	Rate15000: "15000",
	Rate7500:  "7500",
	Rate3750:  "3750",
	Rate2000:  "2000",
	Rate1000:  "1000",
	Rate500:   "500",
	Rate100:   "100",
	Rate60:    "60",
	Rate50:    "50",
	Rate30:    "30",
	Rate25:    "25",
	Rate15:    "15",
	Rate10:    "10",
	Rate5:     "5",
	Rate2_5:   "2.5",
}

// Rates lists every supported rate, fastest first.
func Rates() []SampleRate {
	return []SampleRate{
		Rate30000, Rate15000, Rate7500, Rate3750, Rate2000, Rate1000, Rate500, Rate100,
		Rate60, Rate50, Rate30, Rate25, Rate15, Rate10, Rate5, Rate2_5,
	}
}

func (r SampleRate) String() string {
	if name, ok := rateNames[r]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(r))
}

// SamplesPerSecond returns the nominal conversion rate.
func (r SampleRate) SamplesPerSecond() float64 {
	v, err := strconv.ParseFloat(rateNames[r], 64)
	if err != nil {
		return 0
	}
	return v
}

func ParseSampleRate(s string) (SampleRate, error) {
	s = strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(s)), "SPS")
	for rate, name := range rateNames {
		if name == s {
			return rate, nil
		}
	}
	return 0, fmt.Errorf("%w: rate %q", ErrUnknownSetting, s)
}

// Gain is the PGA register setting.
type Gain uint8

const (
	GainX1 Gain = iota
	GainX2
	GainX4
	GainX8
	GainX16
	GainX32
	GainX64
)

func Gains() []Gain {
	return []Gain{GainX1, GainX2, GainX4, GainX8, GainX16, GainX32, GainX64}
}

// Factor returns the amplification, 0 for unknown settings.
func (g Gain) Factor() int {
	if g > GainX64 {
		return 0
	}
	return 1 << g
}

func (g Gain) String() string {
	if g > GainX64 {
		return fmt.Sprintf("UNKNOWN(%d)", uint8(g))
	}
	return strconv.Itoa(g.Factor())
}

func ParseGain(s string) (Gain, error) {
	s = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "X")
	for _, g := range Gains() {
		if g.String() == s {
			return g, nil
		}
	}
	return 0, fmt.Errorf("%w: gain %q", ErrUnknownSetting, s)
}

// Buffer is the input buffer enable bit as found in the STATUS register.
type Buffer uint8

const (
	BufferDisabled Buffer = 0x00
	BufferEnabled  Buffer = 0x02
)

func (b Buffer) String() string {
	switch b {
	case BufferEnabled:
		return "ENABLED"
	case BufferDisabled:
		return "DISABLED"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(b))
	}
}

func ParseBuffer(s string) (Buffer, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ENABLED", "ENABLE", "ON", "TRUE":
		return BufferEnabled, nil
	case "DISABLED", "DISABLE", "OFF", "FALSE":
		return BufferDisabled, nil
	}
	return 0, fmt.Errorf("%w: buffer %q", ErrUnknownSetting, s)
}

// Settings is the active conversion configuration.
type Settings struct {
	Rate   SampleRate `json:"rate"`
	Gain   Gain       `json:"gain"`
	Buffer Buffer     `json:"buffer"`
}

// DefaultSettings is x1 gain at 60 SPS with the buffer disabled.
func DefaultSettings() Settings {
	return Settings{Rate: Rate60, Gain: GainX1, Buffer: BufferDisabled}
}

// PhysicalInput selects a multiplexer channel.
type PhysicalInput uint8

const NumExternalInputs = 32

const (
	InputColdJunction PhysicalInput = NumExternalInputs + iota
	InputSupply9V
	InputSupply5V
	InputSupply3V3
	InputShorted
)

var internalInputNames = map[PhysicalInput]string{
	InputColdJunction: "COLD_JUNCTION",
	InputSupply9V:     "SUPPLY_9V",
	InputSupply5V:     "SUPPLY_5V",
	InputSupply3V3:    "SUPPLY_3V3",
	InputShorted:      "SHORTED",
}

func External(n int) PhysicalInput {
	return PhysicalInput(n)
}

func (p PhysicalInput) IsExternal() bool {
	return p < NumExternalInputs
}

func (p PhysicalInput) String() string {
	if p.IsExternal() {
		return fmt.Sprintf("EXTERNAL_%d", uint8(p))
	}
	if name, ok := internalInputNames[p]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(p))
}

// ParsePhysicalInput accepts an external channel number or an internal input name.
func ParsePhysicalInput(s string) (PhysicalInput, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if n, err := strconv.Atoi(strings.TrimPrefix(s, "EXTERNAL_")); err == nil {
		if n >= 0 && n < NumExternalInputs {
			return External(n), nil
		}
		return 0, fmt.Errorf("%w: input %d out of range", ErrUnknownSetting, n)
	}
	for input, name := range internalInputNames {
		if name == s {
			return input, nil
		}
	}
	return 0, fmt.Errorf("%w: input %q", ErrUnknownSetting, s)
}
