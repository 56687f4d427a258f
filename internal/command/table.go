package command

// Kind identifies one entry of the command table.
type Kind int

const (
	ListAnalogInputs Kind = iota
	ReadADCRegisters
	ReadAnalogInput
	AddAnalogInput
	RemoveAnalogInput
	CheckAnalogInput
	SystemGainCal
	SystemCal
	ListDigitalInputs
	ReadDigitalInput
	AddDigitalInput
	RemoveDigitalInput
	ListDigitalOutputs
	SetDigitalOutput
	ReadDigitalOutput
	AddDigitalOutput
	RemoveDigitalOutput
	ClearDigitalOutputFault
	Disconnect
	Upgrade
	Identify
	Sample
	Halt
	SetRTC
	SetUserMAC
	SetStaticIP
	GetCalibrationStatus
	None

	// Unrecognized is returned for names missing from the table.
	Unrecognized Kind = -1
)

// Parameter keys.
const (
	ParamInput  = "INPUT"
	ParamRate   = "RATE"
	ParamGain   = "GAIN"
	ParamBuffer = "BUFFER"
	ParamNumber = "NUMBER"
	ParamName   = "NAME"
	ParamOutput = "OUTPUT"
	ParamState  = "STATE"
	ParamValue  = "VALUE"
)

// Entry is the static schema of one command.
type Entry struct {
	Kind   Kind
	Name   string
	Params []string
}

// table is ordered by Kind; lookups rely on that.
var table = []Entry{
	{ListAnalogInputs, "LIST_ANALOG_INPUTS", nil},
	{ReadADCRegisters, "READ_ADC_REGISTERS", nil},
	{ReadAnalogInput, "READ_ANALOG_INPUT", []string{ParamInput, ParamNumber}},
	{AddAnalogInput, "ADD_ANALOG_INPUT", []string{ParamInput, ParamBuffer, ParamRate, ParamGain, ParamName}},
	{RemoveAnalogInput, "REMOVE_ANALOG_INPUT", []string{ParamInput}},
	{CheckAnalogInput, "CHECK_ANALOG_INPUT", []string{ParamInput}},
	{SystemGainCal, "SYSTEM_GCAL", []string{ParamBuffer, ParamRate, ParamGain, ParamInput}},
	{SystemCal, "SYSTEM_CAL", []string{ParamBuffer, ParamRate, ParamGain}},
	{ListDigitalInputs, "LIST_DIGITAL_INPUTS", nil},
	{ReadDigitalInput, "READ_DIGITAL_INPUT", []string{ParamInput, ParamNumber}},
	{AddDigitalInput, "ADD_DIGITAL_INPUT", []string{ParamInput, ParamName}},
	{RemoveDigitalInput, "REMOVE_DIGITAL_INPUT", []string{ParamInput}},
	{ListDigitalOutputs, "LIST_DIGITAL_OUTPUTS", nil},
	{SetDigitalOutput, "SET_DIGITAL_OUTPUT", []string{ParamOutput, ParamState}},
	{ReadDigitalOutput, "READ_DIGITAL_OUTPUT", []string{ParamOutput, ParamNumber}},
	{AddDigitalOutput, "ADD_DIGITAL_OUTPUT", []string{ParamOutput, ParamName}},
	{RemoveDigitalOutput, "REMOVE_DIGITAL_OUTPUT", []string{ParamOutput}},
	{ClearDigitalOutputFault, "CLEAR_DIG_OUTPUT_FAULT", []string{ParamOutput}},
	{Disconnect, "DISCONNECT", nil},
	{Upgrade, "UPGRADE", nil},
	{Identify, "IDENTIFY", nil},
	{Sample, "SAMPLE", []string{ParamNumber}},
	{Halt, "HALT", nil},
	{SetRTC, "SET_RTC", []string{ParamValue}},
	{SetUserMAC, "SET_USER_MAC", []string{ParamValue}},
	{SetStaticIP, "SET_STATIC_IP", []string{ParamValue}},
	{GetCalibrationStatus, "GET_CALIBRATION_STATUS", nil},
	{None, "NONE", nil},
}

// Table returns a copy of the command table in resolution order.
func Table() []Entry {
	out := make([]Entry, len(table))
	copy(out, table)
	return out
}

// Resolve matches an upper-cased command token against the table.
func Resolve(name string) Kind {
	for _, e := range table {
		if e.Name == name {
			return e.Kind
		}
	}
	return Unrecognized
}

func (k Kind) entry() (Entry, bool) {
	if k < 0 || int(k) >= len(table) {
		return Entry{}, false
	}
	return table[k], true
}

func (k Kind) String() string {
	if e, ok := k.entry(); ok {
		return e.Name
	}
	return "UNRECOGNIZED"
}

// Params lists the argument keys the command accepts.
func (k Kind) Params() []string {
	e, _ := k.entry()
	return e.Params
}
