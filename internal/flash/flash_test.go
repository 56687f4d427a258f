package flash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStartsErasedAndLocked(t *testing.T) {
	m := NewMemory(64)

	w, err := m.ReadWord(0)
	require.NoError(t, err)
	assert.Equal(t, ErasedWord, w)

	assert.ErrorIs(t, m.ProgramWord(0, 1), ErrWriteProtected)
	assert.ErrorIs(t, m.EraseSector(), ErrWriteProtected)
}

func TestMemoryProgramOnlyClearsBits(t *testing.T) {
	m := NewMemory(64)
	require.NoError(t, m.Unlock())

	require.NoError(t, m.ProgramWord(8, 0x12345678))
	w, err := m.ReadWord(8)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x12345678), w)

	assert.ErrorIs(t, m.ProgramWord(8, 0xFFFFFFFF), ErrProgram)
	assert.ErrorIs(t, m.ProgramWord(2, 0), ErrProgram)

	require.NoError(t, m.EraseSector())
	require.NoError(t, m.ProgramWord(8, 0xFFFFFFFF))
	assert.Equal(t, Stats{Erases: 1, WordPrograms: 4}, m.Stats())
}

func TestMemoryBounds(t *testing.T) {
	m := NewMemory(16)
	require.NoError(t, m.Unlock())

	assert.ErrorIs(t, m.ProgramWord(16, 0), ErrOutOfRange)
	assert.ErrorIs(t, m.ProgramByte(16, 0), ErrOutOfRange)
	_, err := m.ReadWord(13)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = m.ReadByte(16)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestMemoryInjectedFault(t *testing.T) {
	m := NewMemory(16)
	require.NoError(t, m.Unlock())
	m.InjectFault(4, ErrOperation)

	assert.NoError(t, m.ProgramByte(3, 0xAA))
	assert.ErrorIs(t, m.ProgramByte(4, 0xAA), ErrOperation)
	assert.ErrorIs(t, m.ProgramWord(4, 0), ErrOperation)
}

func TestMemoryImageRoundTrip(t *testing.T) {
	m := NewMemory(8)
	require.NoError(t, m.Unlock())
	require.NoError(t, m.ProgramByte(1, 0x42))

	restored := NewMemoryFrom(m.Image())
	b, err := restored.ReadByte(1)
	require.NoError(t, err)
	assert.Equal(t, byte(0x42), b)
}
