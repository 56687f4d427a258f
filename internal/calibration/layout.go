package calibration

import (
	"github.com/Teodor85/Tekdaqc-Firmware/internal/adc"
)

// Table dimensions.
const (
	NumRates   = 16
	NumGains   = 7
	NumBuffers = 2

	// WordsPerTemperature is the size of one temperature record in the data block.
	WordsPerTemperature = NumRates * NumGains * NumBuffers
	bufferOffsetWords   = NumRates * NumGains
)

// Persisted region layout, byte offsets from the start of the sector.
const (
	AddrTempLow   uint32 = 0x00
	AddrTempHigh  uint32 = 0x04
	AddrTempStep  uint32 = 0x08
	AddrTempCount uint32 = 0x0C
	AddrValid     uint32 = 0x10
	AddrSerial    uint32 = 0x14
	AddrData      uint32 = 0x40

	SerialLength = 32

	validMarker byte = 0x00
	erasedByte  byte = 0xFF
)

// Index is a dense slot in the RAM tables.
type Index struct {
	Rate   int
	Gain   int
	Buffer int
}

var rateSlots = map[adc.SampleRate]int{
	adc.Rate30000: 0,
	adc.Rate15000: 1,
	adc.Rate7500:  2,
	adc.Rate3750:  3,
	adc.Rate2000:  4,
	adc.Rate1000:  5,
	adc.Rate500:   6,
	adc.Rate100:   7,
	adc.Rate60:    8,
	adc.Rate50:    9,
	adc.Rate30:    10,
	adc.Rate25:    11,
	adc.Rate15:    12,
	adc.Rate10:    13,
	adc.Rate5:     14,
	adc.Rate2_5:   15,
}

var gainSlots = map[adc.Gain]int{
	adc.GainX1:  0,
	adc.GainX2:  1,
	adc.GainX4:  2,
	adc.GainX8:  3,
	adc.GainX16: 4,
	adc.GainX32: 5,
	adc.GainX64: 6,
}

// ComputeIndex maps converter settings onto table slots. An unmapped rate
// lands in slot 0 and an unmapped gain in the x1 slot; the flags report
// whether the respective setting was recognised.
func ComputeIndex(rate adc.SampleRate, gain adc.Gain, buffer adc.Buffer) (idx Index, rateKnown, gainKnown bool) {
	if buffer == adc.BufferEnabled {
		idx.Buffer = 0
	} else {
		idx.Buffer = 1
	}

	idx.Gain, gainKnown = gainSlots[gain]
	idx.Rate, rateKnown = rateSlots[rate]
	return idx, rateKnown, gainKnown
}

// bufferOffset returns the word offset of the buffer half inside a
// temperature record.
func bufferOffset(buffer adc.Buffer) (uint32, bool) {
	switch buffer {
	case adc.BufferEnabled:
		return bufferOffsetWords, true
	case adc.BufferDisabled:
		return 0, true
	default:
		return 0, false
	}
}

func dataAddress(tempIndex uint32, idx Index, bufOffset uint32) uint32 {
	word := tempIndex*WordsPerTemperature + bufOffset + uint32(idx.Gain*NumRates+idx.Rate)
	return AddrData + 4*word
}
