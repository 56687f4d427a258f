package machine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateIdle, StateGeneralSample, true},
		{StateIdle, StateIdle, true},
		{StateAnalogInputSample, StateGeneralSample, true},
		{StateGeneralSample, StateIdle, true},
		{StateGeneralSample, StateCalibration, false},
		{StateCalibration, StateIdle, true},
		{StateCalibration, StateAnalogInputSample, false},
		{StateUpgrade, StateIdle, false},
		{StateUpgrade, StateUpgrade, false},
		{State("bogus"), StateIdle, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestControllerNotifiesListeners(t *testing.T) {
	c := NewController(zap.NewNop())
	var seen []Status
	c.OnChange(func(s Status) { seen = append(seen, s) })

	require.NoError(t, c.Transition(StateDigitalInputSample))
	require.NoError(t, c.Transition(StateDigitalInputSample))
	require.Len(t, seen, 1)
	assert.Equal(t, StateDigitalInputSample, seen[0].State)
	assert.Equal(t, StateIdle, seen[0].Previous)
	assert.True(t, c.State().Sampling())
}

func TestControllerRelease(t *testing.T) {
	c := NewController(zap.NewNop())
	require.NoError(t, c.Transition(StateAnalogInputSample))
	require.NoError(t, c.Transition(StateGeneralSample))

	assert.False(t, c.Release(StateAnalogInputSample))
	assert.Equal(t, StateGeneralSample, c.State())

	assert.True(t, c.Release(StateGeneralSample))
	assert.Equal(t, StateIdle, c.State())
	assert.False(t, c.State().Sampling())
}

func TestControllerHandover(t *testing.T) {
	c := NewController(zap.NewNop())
	require.NoError(t, c.Transition(StateDigitalInputSample))
	require.NoError(t, c.Transition(StateAnalogInputSample))

	assert.False(t, c.Handover(StateDigitalInputSample, StateAnalogInputSample))
	assert.True(t, c.Handover(StateAnalogInputSample, StateDigitalInputSample))
	assert.Equal(t, StateDigitalInputSample, c.State())
	assert.Equal(t, StateAnalogInputSample, c.Status().Previous)
}
