package channel

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/adc"
)

var (
	ErrOutOfRange = errors.New("channel number out of range")
	ErrExists     = errors.New("channel already exists")
	ErrNotFound   = errors.New("channel does not exist")
	ErrMissingKey = errors.New("required argument missing")
	ErrParse      = errors.New("argument could not be parsed")
)

// Type names the three channel banks of the board.
type Type string

const (
	TypeAnalogInput   Type = "analog_input"
	TypeDigitalInput  Type = "digital_input"
	TypeDigitalOutput Type = "digital_output"
)

type AnalogInput struct {
	Number   int               `json:"number"`
	Name     string            `json:"name"`
	Input    adc.PhysicalInput `json:"-"`
	Settings adc.Settings      `json:"-"`
	Added    time.Time         `json:"added"`
}

func (a *AnalogInput) String() string {
	return fmt.Sprintf("Analog Input %d: %s\n\r\tInput: %s\n\r\tRate: %s\n\r\tGain: %s\n\r\tBuffer: %s",
		a.Number, a.Name, a.Input, a.Settings.Rate, a.Settings.Gain, a.Settings.Buffer)
}

type DigitalInput struct {
	Number int       `json:"number"`
	Name   string    `json:"name"`
	Added  time.Time `json:"added"`
}

func (d *DigitalInput) String() string {
	return fmt.Sprintf("Digital Input %d: %s", d.Number, d.Name)
}

type DigitalOutput struct {
	Number int       `json:"number"`
	Name   string    `json:"name"`
	Added  time.Time `json:"added"`
}

func (d *DigitalOutput) String() string {
	return fmt.Sprintf("Digital Output %d: %s", d.Number, d.Name)
}

// Registry holds the channels of one bank, indexed by channel number.
type Registry[T any] struct {
	typ   Type
	mu    sync.RWMutex
	slots []*T
}

func NewRegistry[T any](typ Type, capacity int) *Registry[T] {
	return &Registry[T]{
		typ:   typ,
		slots: make([]*T, capacity),
	}
}

func (r *Registry[T]) Type() Type {
	return r.typ
}

// Capacity is the number of channel numbers the bank accepts.
func (r *Registry[T]) Capacity() int {
	return len(r.slots)
}

// Get returns the channel at n, or nil when n is unused or out of range.
func (r *Registry[T]) Get(n int) *T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n < 0 || n >= len(r.slots) {
		return nil
	}
	return r.slots[n]
}

func (r *Registry[T]) Put(n int, ch *T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n < 0 || n >= len(r.slots) {
		return fmt.Errorf("%w: %s %d", ErrOutOfRange, r.typ, n)
	}
	if r.slots[n] != nil {
		return fmt.Errorf("%w: %s %d", ErrExists, r.typ, n)
	}
	r.slots[n] = ch
	return nil
}

func (r *Registry[T]) Remove(n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n < 0 || n >= len(r.slots) {
		return fmt.Errorf("%w: %s %d", ErrOutOfRange, r.typ, n)
	}
	if r.slots[n] == nil {
		return fmt.Errorf("%w: %s %d", ErrNotFound, r.typ, n)
	}
	r.slots[n] = nil
	return nil
}

// List returns the populated channels in number order.
func (r *Registry[T]) List() []*T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*T, 0, len(r.slots))
	for _, ch := range r.slots {
		if ch != nil {
			out = append(out, ch)
		}
	}
	return out
}

// Banks groups the three registries of a board.
type Banks struct {
	Analog  *Registry[AnalogInput]
	Inputs  *Registry[DigitalInput]
	Outputs *Registry[DigitalOutput]
}

func NewBanks(numAnalog, numInputs, numOutputs int) *Banks {
	return &Banks{
		Analog:  NewRegistry[AnalogInput](TypeAnalogInput, numAnalog),
		Inputs:  NewRegistry[DigitalInput](TypeDigitalInput, numInputs),
		Outputs: NewRegistry[DigitalOutput](TypeDigitalOutput, numOutputs),
	}
}
