package flash

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// ErasedWord is the content of every word after a sector erase.
const ErasedWord uint32 = 0xFFFFFFFF

var (
	ErrWriteProtected = errors.New("flash write protected")
	ErrProgram        = errors.New("flash program error")
	ErrOperation      = errors.New("flash operation error")
	ErrOutOfRange     = errors.New("flash address out of range")
)

// Region is the storage sector holding calibration data.
// Addresses are byte offsets from the start of the sector.
type Region interface {
	Unlock() error
	Lock() error
	EraseSector() error
	ProgramWord(addr uint32, value uint32) error
	ProgramByte(addr uint32, value byte) error
	ReadWord(addr uint32) (uint32, error)
	ReadByte(addr uint32) (byte, error)
	Size() uint32
}

type Stats struct {
	Erases       int
	WordPrograms int
	BytePrograms int
}

// Memory is a RAM backed Region with NOR semantics: programming can only
// clear bits, erasing sets the whole sector back to 0xFF.
type Memory struct {
	mu     sync.Mutex
	data   []byte
	locked bool
	stats  Stats
	faults map[uint32]error
}

func NewMemory(size uint32) *Memory {
	data := make([]byte, size)
	for i := range data {
		data[i] = 0xFF
	}
	return &Memory{data: data, locked: true}
}

// NewMemoryFrom wraps a previously saved image.
func NewMemoryFrom(image []byte) *Memory {
	data := make([]byte, len(image))
	copy(data, image)
	return &Memory{data: data, locked: true}
}

func (m *Memory) Size() uint32 {
	return uint32(len(m.data))
}

func (m *Memory) Unlock() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = false
	return nil
}

func (m *Memory) Lock() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = true
	return nil
}

func (m *Memory) EraseSector() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locked {
		return ErrWriteProtected
	}
	for i := range m.data {
		m.data[i] = 0xFF
	}
	m.stats.Erases++
	return nil
}

func (m *Memory) ProgramWord(addr uint32, value uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.WordPrograms++
	if err := m.checkWrite(addr, 4); err != nil {
		return err
	}
	if addr%4 != 0 {
		return fmt.Errorf("%w: unaligned word at 0x%05X", ErrProgram, addr)
	}

	old := binary.LittleEndian.Uint32(m.data[addr:])
	if old&value != value {
		return fmt.Errorf("%w: word at 0x%05X not erased", ErrProgram, addr)
	}
	binary.LittleEndian.PutUint32(m.data[addr:], value)
	return nil
}

func (m *Memory) ProgramByte(addr uint32, value byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.BytePrograms++
	if err := m.checkWrite(addr, 1); err != nil {
		return err
	}
	if m.data[addr]&value != value {
		return fmt.Errorf("%w: byte at 0x%05X not erased", ErrProgram, addr)
	}
	m.data[addr] = value
	return nil
}

func (m *Memory) ReadWord(addr uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if uint64(addr)+4 > uint64(len(m.data)) {
		return 0, ErrOutOfRange
	}
	return binary.LittleEndian.Uint32(m.data[addr:]), nil
}

func (m *Memory) ReadByte(addr uint32) (byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if uint64(addr) >= uint64(len(m.data)) {
		return 0, ErrOutOfRange
	}
	return m.data[addr], nil
}

// Stats reports how many erase and program operations were issued.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Image returns a copy of the sector contents.
func (m *Memory) Image() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}

// InjectFault makes every program call touching addr fail with err.
func (m *Memory) InjectFault(addr uint32, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.faults == nil {
		m.faults = make(map[uint32]error)
	}
	m.faults[addr] = err
}

func (m *Memory) checkWrite(addr uint32, width uint32) error {
	if m.locked {
		return ErrWriteProtected
	}
	if uint64(addr)+uint64(width) > uint64(len(m.data)) {
		return ErrOutOfRange
	}
	if err, ok := m.faults[addr]; ok {
		return err
	}
	return nil
}
