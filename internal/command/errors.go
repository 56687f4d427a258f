package command

import (
	"errors"
	"fmt"
)

// Status is the command level classification returned by every handler.
type Status int

const (
	StatusOK Status = iota
	StatusBadParam
	StatusBadCommand
	StatusParseError
	StatusFunctionError
	StatusUnknownError
	StatusADCInvalidOperation
	StatusDIInvalidOperation
	StatusDOInvalidOperation
)

var statusText = map[Status]string{
	StatusOK:                  "Command executed successfully",
	StatusBadParam:            "Invalid parameter for command",
	StatusBadCommand:          "Unrecognized command",
	StatusParseError:          "Command could not be parsed",
	StatusFunctionError:       "Command function error",
	StatusUnknownError:        "Unknown error",
	StatusADCInvalidOperation: "Operation not allowed while analog inputs are sampling",
	StatusDIInvalidOperation:  "Operation not allowed while digital inputs are sampling",
	StatusDOInvalidOperation:  "Operation not allowed while digital outputs are sampling",
}

func (s Status) String() string {
	if text, ok := statusText[s]; ok {
		return text
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// FunctionError is the specific cause behind StatusFunctionError.
type FunctionError int

const (
	FunctionOK FunctionError = iota
	AnalogInputParseError
	AnalogInputMissingKey
	AnalogInputOutOfRange
	AnalogInputExists
	AnalogInputNotFound
	DigitalInputParseError
	DigitalInputMissingKey
	DigitalInputOutOfRange
	DigitalInputExists
	DigitalInputNotFound
	DigitalOutputParseError
	DigitalOutputMissingKey
	DigitalOutputOutOfRange
	DigitalOutputExists
	DigitalOutputNotFound
	DigitalOutputHardware
	ADCRegisterRead
	CalibrationParseError
	CalibrationFailed
	SamplingFailed
	SampleCountInvalid
	RTCInvalidValue
	MACInvalidValue
	IPInvalidValue
	UpgradeFailed
)

var functionText = map[FunctionError]string{
	FunctionOK:              "No error",
	AnalogInputParseError:   "Analog input argument could not be parsed",
	AnalogInputMissingKey:   "Analog input argument missing",
	AnalogInputOutOfRange:   "Analog input number out of range",
	AnalogInputExists:       "Analog input already exists",
	AnalogInputNotFound:     "Analog input does not exist",
	DigitalInputParseError:  "Digital input argument could not be parsed",
	DigitalInputMissingKey:  "Digital input argument missing",
	DigitalInputOutOfRange:  "Digital input number out of range",
	DigitalInputExists:      "Digital input already exists",
	DigitalInputNotFound:    "Digital input does not exist",
	DigitalOutputParseError: "Digital output argument could not be parsed",
	DigitalOutputMissingKey: "Digital output argument missing",
	DigitalOutputOutOfRange: "Digital output number out of range",
	DigitalOutputExists:     "Digital output already exists",
	DigitalOutputNotFound:   "Digital output does not exist",
	DigitalOutputHardware:   "Digital output driver rejected the operation",
	ADCRegisterRead:         "Unable to read ADC registers",
	CalibrationParseError:   "Calibration argument could not be parsed",
	CalibrationFailed:       "Calibration routine failed",
	SamplingFailed:          "Sampling could not be started",
	SampleCountInvalid:      "Sample count must be a non-negative integer",
	RTCInvalidValue:         "Invalid real time clock value",
	MACInvalidValue:         "Invalid MAC address",
	IPInvalidValue:          "Invalid IP address",
	UpgradeFailed:           "Unable to set the upgrade flag",
}

func (e FunctionError) String() string {
	if text, ok := functionText[e]; ok {
		return text
	}
	return fmt.Sprintf("FunctionError(%d)", int(e))
}

func (e FunctionError) Error() string {
	return e.String()
}

// Cause extracts the FunctionError carried by err, if any.
func Cause(err error) (FunctionError, bool) {
	var fe FunctionError
	if errors.As(err, &fe) {
		return fe, true
	}
	return FunctionOK, false
}

// FormatResponse renders the status line sent back to the client.
func FormatResponse(status Status, cause FunctionError) string {
	switch status {
	case StatusOK:
		return fmt.Sprintf("SUCCESS - %s", status)
	case StatusBadParam:
		return fmt.Sprintf("FAIL - %s.", status)
	case StatusFunctionError:
		return fmt.Sprintf("FAIL - %s:\n\r\tFunction Error: %s", status, cause)
	case StatusBadCommand, StatusParseError, StatusUnknownError,
		StatusADCInvalidOperation, StatusDIInvalidOperation, StatusDOInvalidOperation:
		return fmt.Sprintf("FAIL - %s", status)
	default:
		return fmt.Sprintf("ERROR - %s", status)
	}
}
