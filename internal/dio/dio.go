package dio

import (
	"errors"
	"fmt"
	"sync"
)

var ErrChannelRange = errors.New("digital channel out of range")

// Inputs reads the isolated digital input bank.
type Inputs interface {
	ReadInput(n int) (bool, error)
}

// Outputs drives the high side switch bank.
type Outputs interface {
	SetOutput(n int, on bool) error
	ReadOutput(n int) (bool, error)
	Fault(n int) (bool, error)
	ClearFault(n int) error
}

// Simulator backs both banks with plain memory.
type Simulator struct {
	mu      sync.Mutex
	inputs  []bool
	outputs []bool
	faults  []bool
}

func NewSimulator(numInputs, numOutputs int) *Simulator {
	return &Simulator{
		inputs:  make([]bool, numInputs),
		outputs: make([]bool, numOutputs),
		faults:  make([]bool, numOutputs),
	}
}

func (s *Simulator) ReadInput(n int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 || n >= len(s.inputs) {
		return false, fmt.Errorf("%w: input %d", ErrChannelRange, n)
	}
	return s.inputs[n], nil
}

// SetInput forces the level seen on input n.
func (s *Simulator) SetInput(n int, level bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 || n >= len(s.inputs) {
		return fmt.Errorf("%w: input %d", ErrChannelRange, n)
	}
	s.inputs[n] = level
	return nil
}

func (s *Simulator) SetOutput(n int, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 || n >= len(s.outputs) {
		return fmt.Errorf("%w: output %d", ErrChannelRange, n)
	}
	s.outputs[n] = on
	return nil
}

func (s *Simulator) ReadOutput(n int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 || n >= len(s.outputs) {
		return false, fmt.Errorf("%w: output %d", ErrChannelRange, n)
	}
	return s.outputs[n], nil
}

func (s *Simulator) Fault(n int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 || n >= len(s.faults) {
		return false, fmt.Errorf("%w: output %d", ErrChannelRange, n)
	}
	return s.faults[n], nil
}

// TripFault latches a fault on output n and switches it off.
func (s *Simulator) TripFault(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 || n >= len(s.faults) {
		return fmt.Errorf("%w: output %d", ErrChannelRange, n)
	}
	s.faults[n] = true
	s.outputs[n] = false
	return nil
}

func (s *Simulator) ClearFault(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 || n >= len(s.faults) {
		return fmt.Errorf("%w: output %d", ErrChannelRange, n)
	}
	s.faults[n] = false
	return nil
}
