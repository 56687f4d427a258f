package machine

import (
	"fmt"
	"time"
)

// State is the command state of the board.
type State string

const (
	StateIdle                State = "idle"
	StateAnalogInputSample   State = "analog_input_sample"
	StateDigitalInputSample  State = "digital_input_sample"
	StateDigitalOutputSample State = "digital_output_sample"
	StateGeneralSample       State = "general_sample"
	StateCalibration         State = "calibration"
	StateUpgrade             State = "upgrade"
)

// Sampling reports whether the state has a sampling machine running.
func (s State) Sampling() bool {
	switch s {
	case StateAnalogInputSample, StateDigitalInputSample, StateDigitalOutputSample, StateGeneralSample:
		return true
	}
	return false
}

type Status struct {
	State           State     `json:"state"`
	Previous        State     `json:"previous,omitempty"`
	LastStateChange time.Time `json:"last_state_change"`
}

var sampleStates = []State{
	StateIdle,
	StateAnalogInputSample,
	StateDigitalInputSample,
	StateDigitalOutputSample,
	StateGeneralSample,
	StateUpgrade,
}

var validTransitions = map[State][]State{
	StateIdle:                {StateAnalogInputSample, StateDigitalInputSample, StateDigitalOutputSample, StateGeneralSample, StateCalibration, StateUpgrade},
	StateAnalogInputSample:   sampleStates,
	StateDigitalInputSample:  sampleStates,
	StateDigitalOutputSample: sampleStates,
	StateGeneralSample:       sampleStates,
	StateCalibration:         {StateIdle, StateUpgrade},
	StateUpgrade:             {},
}

// ValidateTransition rejects moves the board cannot make. Re-entering the
// current state is always allowed except from Upgrade, which is terminal.
func ValidateTransition(from, to State) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("invalid current state: %s", from)
	}
	if from == to && from != StateUpgrade {
		return nil
	}
	for _, validTo := range allowed {
		if validTo == to {
			return nil
		}
	}
	return fmt.Errorf("invalid state transition: %s -> %s", from, to)
}
