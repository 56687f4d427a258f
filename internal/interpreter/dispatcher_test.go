package interpreter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/adc"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/board"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/calibration"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/channel"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/command"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/dio"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/flash"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/machine"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/sampling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const success = "SUCCESS - Command executed successfully"

type history struct{ min, max float32 }

func (h history) MinTemperature() float32 { return h.min }
func (h history) MaxTemperature() float32 { return h.max }
func (h history) Temperature() float32    { return (h.min + h.max) / 2 }

type flag struct {
	set bool
	err error
}

func (f *flag) SetUpgradeFlag() error {
	if f.err != nil {
		return f.err
	}
	f.set = true
	return nil
}

type session struct {
	mu     sync.Mutex
	lines  []string
	closed bool
}

func (s *session) ID() string { return "test" }

func (s *session) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
	return nil
}

func (s *session) Close() error {
	s.closed = true
	return nil
}

func (s *session) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lines) == 0 {
		return ""
	}
	return s.lines[len(s.lines)-1]
}

type counter struct {
	mu      sync.Mutex
	results map[string]int
}

func (c *counter) ObserveCommand(_, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[result]++
}

type rig struct {
	d        *Dispatcher
	conn     *Conn
	sess     *session
	ctrl     *machine.Controller
	outputs  *dio.Simulator
	machines Machines
	upgrade  *flag
	resets   int
	observed *counter
	hist     *history
}

func newRig(t *testing.T) *rig {
	t.Helper()
	logger := zap.NewNop()

	store := calibration.NewStore(flash.NewMemory(8192), logger)
	require.NoError(t, store.Init())

	conv := adc.NewSimulator(func(in adc.PhysicalInput, _ time.Time) float64 {
		if in == adc.InputShorted {
			return 0
		}
		return 1.25
	}, 0, logger)
	io := dio.NewSimulator(8, 4)
	hist := &history{min: 20, max: 35}
	engine := calibration.NewEngine(store, conv, hist, calibration.EngineConfig{ValidMinTemp: 0, ValidMaxTemp: 70}, logger)

	b, err := board.New(board.DefaultProfile(), store, nil, logger)
	require.NoError(t, err)

	sink := sampling.SinkFunc(func(context.Context, sampling.Reading) error { return nil })
	machines := Machines{
		Analog:  sampling.NewMachine("analog", time.Hour, sink, logger),
		Inputs:  sampling.NewMachine("digital_input", time.Hour, sink, logger),
		Outputs: sampling.NewMachine("digital_output", time.Hour, sink, logger),
	}
	t.Cleanup(func() {
		for _, m := range machines.all() {
			m.Halt()
		}
	})

	r := &rig{
		sess:     &session{},
		ctrl:     machine.NewController(logger),
		outputs:  io,
		machines: machines,
		upgrade:  &flag{},
		observed: &counter{results: map[string]int{}},
		hist:     hist,
	}
	r.d = New(Dependencies{
		Board:       b,
		Banks:       channel.NewBanks(36, 8, 4),
		Converter:   conv,
		Inputs:      io,
		Outputs:     io,
		Calibration: engine,
		Thermometer: hist,
		Machines:    machines,
		Controller:  r.ctrl,
		Upgrade:     r.upgrade,
		Reset:       func() { r.resets++ },
		Observer:    r.observed,
	}, command.DefaultLimits(), logger)
	r.conn = r.d.Attach(r.sess)
	return r
}

func (r *rig) send(t *testing.T, line string) string {
	t.Helper()
	require.NoError(t, r.conn.Feed(context.Background(), []byte(line+"\r\n")))
	return r.sess.last()
}

func TestAddAnalogInputLine(t *testing.T) {
	r := newRig(t)

	assert.Equal(t, success, r.send(t, "ADD_ANALOG_INPUT --INPUT=3 --RATE=60 --GAIN=1 --BUFFER=ENABLED --NAME=TEMP1"))

	resp := r.d.Execute(context.Background(), "list_analog_inputs")
	require.Len(t, resp.Lines, 1)
	assert.True(t, strings.HasPrefix(resp.Lines[0], "Analog Input 3: TEMP1"))
	assert.Equal(t, command.StatusOK, resp.Status)
}

func TestParseAndSchemaFailures(t *testing.T) {
	r := newRig(t)

	assert.Equal(t, "FAIL - Unrecognized command", r.send(t, "MEASURE_ALL"))
	assert.Equal(t, "FAIL - Invalid parameter for command.", r.send(t, "REMOVE_ANALOG_INPUT --INPUT=1 --NAME=X"))
	assert.Equal(t, "FAIL - Invalid parameter for command.", r.send(t, "HALT --NOW"))

	long := strings.Repeat("X", command.DefaultLimits().MaxPartLength)
	assert.Equal(t, "FAIL - Command could not be parsed", r.send(t, long))
	assert.Equal(t, success, r.send(t, "HALT"))
}

func TestOverflowedLineIsDiscarded(t *testing.T) {
	r := newRig(t)

	long := "ADD_ANALOG_INPUT --NAME=" + strings.Repeat("A", command.DefaultLimits().MaxLineLength)
	assert.Equal(t, "FAIL - Command could not be parsed", r.send(t, long))
	assert.Equal(t, success, r.send(t, "ADD_DIGITAL_INPUT --INPUT=1"))
}

func TestBlankLinesProduceNoResponse(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.conn.Feed(context.Background(), []byte("\r\n\n  \r")))
	assert.Empty(t, r.sess.lines)
}

func TestSampleEntersGeneralSample(t *testing.T) {
	r := newRig(t)
	r.send(t, "ADD_ANALOG_INPUT --INPUT=0")
	r.send(t, "ADD_DIGITAL_OUTPUT --OUTPUT=2")

	assert.Equal(t, success, r.send(t, "SAMPLE --NUMBER=10"))
	assert.Equal(t, machine.StateGeneralSample, r.ctrl.State())
	assert.True(t, r.machines.Analog.Running())
	assert.True(t, r.machines.Outputs.Running())
	assert.False(t, r.machines.Inputs.Running())

	assert.Equal(t, "FAIL - Operation not allowed while analog inputs are sampling",
		r.send(t, "ADD_ANALOG_INPUT --INPUT=4"))
	assert.Equal(t, "FAIL - Operation not allowed while digital outputs are sampling",
		r.send(t, "REMOVE_DIGITAL_OUTPUT --OUTPUT=2"))
	assert.Equal(t, success, r.send(t, "ADD_DIGITAL_INPUT --INPUT=0"))

	assert.Equal(t, success, r.send(t, "HALT"))
	assert.Equal(t, machine.StateIdle, r.ctrl.State())
	assert.False(t, r.machines.Analog.Running())
}

func TestSampleWithoutChannels(t *testing.T) {
	r := newRig(t)
	assert.Equal(t, "FAIL - Command function error:\n\r\tFunction Error: Sampling could not be started",
		r.send(t, "SAMPLE"))
	assert.Equal(t, command.SamplingFailed, r.d.LastFunctionError())
	assert.Equal(t, command.FunctionOK, r.d.LastFunctionError())
}

func TestReadAnalogInputReleasesOnCompletion(t *testing.T) {
	r := newRig(t)
	r.send(t, "ADD_ANALOG_INPUT --INPUT=2")
	r.send(t, "ADD_ANALOG_INPUT --INPUT=3")

	assert.Equal(t, success, r.send(t, "READ_ANALOG_INPUT --INPUT=2-5 --NUMBER=1"))
	assert.Eventually(t, func() bool {
		return r.ctrl.State() == machine.StateIdle && r.machines.Analog.Taken() == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, r.machines.Analog.Single())
}

func TestOverlappingRunsKeepSamplingState(t *testing.T) {
	r := newRig(t)
	r.send(t, "ADD_DIGITAL_INPUT --INPUT=1")
	r.send(t, "ADD_ANALOG_INPUT --INPUT=0")

	assert.Equal(t, success, r.send(t, "READ_DIGITAL_INPUT --INPUT=1"))
	assert.Equal(t, machine.StateDigitalInputSample, r.ctrl.State())

	assert.Equal(t, success, r.send(t, "READ_ANALOG_INPUT --INPUT=0 --NUMBER=1"))
	assert.Eventually(t, func() bool {
		return !r.machines.Analog.Running() && r.machines.Analog.Taken() == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		return r.ctrl.State() == machine.StateDigitalInputSample
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, r.machines.Inputs.Running())

	assert.Equal(t, success, r.send(t, "HALT"))
	assert.Equal(t, machine.StateIdle, r.ctrl.State())
}

func TestDigitalInputChangesRejectedWhileSampling(t *testing.T) {
	r := newRig(t)
	r.send(t, "ADD_DIGITAL_INPUT --INPUT=3")

	assert.Equal(t, success, r.send(t, "READ_DIGITAL_INPUT --INPUT=3"))
	assert.True(t, r.machines.Inputs.Running())

	assert.Equal(t, "FAIL - Operation not allowed while digital inputs are sampling",
		r.send(t, "ADD_DIGITAL_INPUT --INPUT=4"))
	assert.Equal(t, "FAIL - Operation not allowed while digital inputs are sampling",
		r.send(t, "REMOVE_DIGITAL_INPUT --INPUT=3"))

	assert.Equal(t, success, r.send(t, "HALT"))
	assert.Equal(t, success, r.send(t, "REMOVE_DIGITAL_INPUT --INPUT=3"))
}

func TestReadSingleChannelContinuous(t *testing.T) {
	r := newRig(t)
	r.send(t, "ADD_DIGITAL_INPUT --INPUT=5")

	assert.Equal(t, success, r.send(t, "READ_DIGITAL_INPUT --INPUT=5"))
	assert.Equal(t, machine.StateDigitalInputSample, r.ctrl.State())
	assert.True(t, r.machines.Inputs.Single())

	assert.Equal(t, "FAIL - Command function error:\n\r\tFunction Error: Sample count must be a non-negative integer",
		r.send(t, "READ_DIGITAL_INPUT --INPUT=5 --NUMBER=-2"))
	assert.Equal(t, "FAIL - Command function error:\n\r\tFunction Error: Digital output does not exist",
		r.send(t, "READ_DIGITAL_OUTPUT --OUTPUT=ALL"))
}

func TestFunctionErrors(t *testing.T) {
	r := newRig(t)

	cases := []struct {
		line  string
		cause command.FunctionError
	}{
		{"REMOVE_ANALOG_INPUT --INPUT=5", command.AnalogInputNotFound},
		{"REMOVE_ANALOG_INPUT", command.AnalogInputMissingKey},
		{"ADD_ANALOG_INPUT --INPUT=99", command.AnalogInputOutOfRange},
		{"ADD_ANALOG_INPUT --INPUT=1 --RATE=FAST", command.AnalogInputParseError},
		{"ADD_DIGITAL_INPUT --INPUT=one", command.DigitalInputParseError},
		{"CHECK_ANALOG_INPUT --INPUT=7", command.AnalogInputNotFound},
		{"SET_DIGITAL_OUTPUT --OUTPUT=1 --STATE=ON", command.DigitalOutputNotFound},
		{"SET_STATIC_IP --VALUE=10.0.0", command.IPInvalidValue},
		{"SET_USER_MAC", command.MACInvalidValue},
		{"SET_RTC --VALUE=SOON", command.RTCInvalidValue},
		{"SYSTEM_GCAL --RATE=FAST", command.CalibrationParseError},
	}
	for _, tc := range cases {
		t.Run(tc.line, func(t *testing.T) {
			resp := r.d.Execute(context.Background(), tc.line)
			assert.Equal(t, command.StatusFunctionError, resp.Status)
			assert.Equal(t, tc.cause, resp.Cause)
			assert.Equal(t, tc.cause, r.d.LastFunctionError())
		})
	}

	r.send(t, "ADD_DIGITAL_INPUT --INPUT=1")
	resp := r.d.Execute(context.Background(), "ADD_DIGITAL_INPUT --INPUT=1")
	assert.Equal(t, command.DigitalInputExists, resp.Cause)
}

func TestDigitalOutputCommands(t *testing.T) {
	r := newRig(t)
	r.send(t, "ADD_DIGITAL_OUTPUT --OUTPUT=1 --NAME=PUMP")

	assert.Equal(t, success, r.send(t, "SET_DIGITAL_OUTPUT --OUTPUT=1 --STATE=on"))
	on, err := r.outputs.ReadOutput(1)
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, r.outputs.TripFault(1))
	assert.Equal(t, success, r.send(t, "CLEAR_DIG_OUTPUT_FAULT --OUTPUT=1"))
	fault, err := r.outputs.Fault(1)
	require.NoError(t, err)
	assert.False(t, fault)

	resp := r.d.Execute(context.Background(), "LIST_DIGITAL_OUTPUTS")
	assert.Equal(t, []string{"Digital Output 1: PUMP"}, resp.Lines)
}

func TestCalibrationCommands(t *testing.T) {
	r := newRig(t)

	var states []machine.State
	r.ctrl.OnChange(func(s machine.Status) { states = append(states, s.State) })

	assert.Equal(t, success, r.send(t, "SYSTEM_CAL --RATE=60 --GAIN=1"))
	assert.Equal(t, success, r.send(t, "SYSTEM_GCAL --INPUT=3 --BUFFER=ENABLED"))
	assert.Equal(t, machine.StateIdle, r.ctrl.State())
	assert.Equal(t, []machine.State{
		machine.StateCalibration, machine.StateIdle,
		machine.StateCalibration, machine.StateIdle,
	}, states)

	resp := r.d.Execute(context.Background(), "GET_CALIBRATION_STATUS")
	assert.Equal(t, []string{"Calibration Status: VALID"}, resp.Lines)

	r.hist.max = 85
	resp = r.d.Execute(context.Background(), "GET_CALIBRATION_STATUS")
	assert.Equal(t, []string{"Calibration Status: INVALID"}, resp.Lines)
}

func TestIdentifyAndRegisters(t *testing.T) {
	r := newRig(t)

	resp := r.d.Execute(context.Background(), "IDENTIFY")
	require.Len(t, resp.Lines, 1)
	assert.True(t, strings.HasPrefix(resp.Lines[0], "Board Identity"))
	assert.Contains(t, resp.Lines[0], "Serial Number: None")

	resp = r.d.Execute(context.Background(), "READ_ADC_REGISTERS")
	require.NotEmpty(t, resp.Lines)
	assert.Equal(t, "STATUS (0x00): 0x30", resp.Lines[0])
}

func TestNetworkCommands(t *testing.T) {
	r := newRig(t)
	assert.Equal(t, success, r.send(t, "SET_STATIC_IP --VALUE=10.0.0.42"))
	assert.Equal(t, success, r.send(t, "SET_USER_MAC --VALUE=02:00:00:00:00:09"))
	assert.Equal(t, success, r.send(t, "SET_RTC --VALUE=1767225600"))

	resp := r.d.Execute(context.Background(), "IDENTIFY")
	assert.Contains(t, resp.Lines[0], "IP Address: 10.0.0.42")
	assert.Contains(t, resp.Lines[0], "MAC Address: 02:00:00:00:00:09")
}

func TestDisconnectClosesSession(t *testing.T) {
	r := newRig(t)
	err := r.conn.Feed(context.Background(), []byte("DISCONNECT\r\nIDENTIFY\r\n"))
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.True(t, r.sess.closed)
	assert.Equal(t, []string{success}, r.sess.lines)
	assert.Zero(t, r.resets)
}

func TestUpgrade(t *testing.T) {
	r := newRig(t)
	r.send(t, "ADD_DIGITAL_INPUT --INPUT=0")
	r.send(t, "READ_DIGITAL_INPUT --INPUT=ALL")

	err := r.conn.Feed(context.Background(), []byte("UPGRADE\r\n"))
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.True(t, r.upgrade.set)
	assert.True(t, r.sess.closed)
	assert.Equal(t, 1, r.resets)
	assert.Equal(t, machine.StateUpgrade, r.ctrl.State())
	assert.False(t, r.machines.Inputs.Running())

	resp := r.d.Execute(context.Background(), "READ_DIGITAL_INPUT --INPUT=0")
	assert.Equal(t, command.SamplingFailed, resp.Cause)
}

func TestUpgradeFlagFailure(t *testing.T) {
	r := newRig(t)
	r.upgrade.err = errors.New("backup domain locked")

	assert.Equal(t, "FAIL - Command function error:\n\r\tFunction Error: Unable to set the upgrade flag",
		r.send(t, "UPGRADE"))
	assert.False(t, r.sess.closed)
	assert.Equal(t, machine.StateIdle, r.ctrl.State())
}

func TestObserverSeesEveryLine(t *testing.T) {
	r := newRig(t)
	r.send(t, "HALT")
	r.send(t, "NOPE")
	r.send(t, "REMOVE_DIGITAL_INPUT --INPUT=0")

	assert.Equal(t, 1, r.observed.results["success"])
	assert.Equal(t, 2, r.observed.results["fail"])
}
