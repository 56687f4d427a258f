package interpreter

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/calibration"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/channel"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/command"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/machine"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/sampling"
	"go.uber.org/zap"
)

func (d *Dispatcher) routes() map[command.Kind]handler {
	return map[command.Kind]handler{
		command.ListAnalogInputs:        d.listAnalogInputs,
		command.ReadADCRegisters:        d.readADCRegisters,
		command.ReadAnalogInput:         d.readAnalogInput,
		command.AddAnalogInput:          d.addAnalogInput,
		command.RemoveAnalogInput:       d.removeAnalogInput,
		command.CheckAnalogInput:        d.checkAnalogInput,
		command.SystemGainCal:           d.systemGainCal,
		command.SystemCal:               d.systemCal,
		command.ListDigitalInputs:       d.listDigitalInputs,
		command.ReadDigitalInput:        d.readDigitalInput,
		command.AddDigitalInput:         d.addDigitalInput,
		command.RemoveDigitalInput:      d.removeDigitalInput,
		command.ListDigitalOutputs:      d.listDigitalOutputs,
		command.SetDigitalOutput:        d.setDigitalOutput,
		command.ReadDigitalOutput:       d.readDigitalOutput,
		command.AddDigitalOutput:        d.addDigitalOutput,
		command.RemoveDigitalOutput:     d.removeDigitalOutput,
		command.ClearDigitalOutputFault: d.clearDigitalOutputFault,
		command.Disconnect:              d.disconnect,
		command.Upgrade:                 d.upgrade,
		command.Identify:                d.identify,
		command.Sample:                  d.sample,
		command.Halt:                    d.halt,
		command.SetRTC:                  d.setRTC,
		command.SetUserMAC:              d.setUserMAC,
		command.SetStaticIP:             d.setStaticIP,
		command.GetCalibrationStatus:    d.getCalibrationStatus,
		command.None:                    func(context.Context, command.Args, *Response) error { return nil },
	}
}

// channelCauses maps channel errors onto the function errors of each bank,
// in the order missing key, parse, out of range, exists, not found.
var channelCauses = map[channel.Type][5]command.FunctionError{
	channel.TypeAnalogInput: {
		command.AnalogInputMissingKey, command.AnalogInputParseError, command.AnalogInputOutOfRange,
		command.AnalogInputExists, command.AnalogInputNotFound,
	},
	channel.TypeDigitalInput: {
		command.DigitalInputMissingKey, command.DigitalInputParseError, command.DigitalInputOutOfRange,
		command.DigitalInputExists, command.DigitalInputNotFound,
	},
	channel.TypeDigitalOutput: {
		command.DigitalOutputMissingKey, command.DigitalOutputParseError, command.DigitalOutputOutOfRange,
		command.DigitalOutputExists, command.DigitalOutputNotFound,
	},
}

func channelError(typ channel.Type, err error) error {
	if err == nil {
		return nil
	}
	causes := channelCauses[typ]
	for i, sentinel := range []error{channel.ErrMissingKey, channel.ErrParse, channel.ErrOutOfRange, channel.ErrExists, channel.ErrNotFound} {
		if errors.Is(err, sentinel) {
			return fmt.Errorf("%w: %w", causes[i], err)
		}
	}
	return err
}

func sampleCount(args command.Args) (int, error) {
	raw, ok := args.Lookup(command.ParamNumber)
	if !ok || raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", command.SampleCountInvalid, raw)
	}
	return n, nil
}

// startRun moves the board into state and starts mc. The single flag is set
// only for a selector naming exactly one channel.
func (d *Dispatcher) startRun(mc *sampling.Machine, state machine.State, sweep sampling.Sweep, args command.Args, selector string) error {
	count, err := sampleCount(args)
	if err != nil {
		return err
	}
	if err := d.deps.Controller.Transition(state); err != nil {
		return fmt.Errorf("%w: %w", command.SamplingFailed, err)
	}
	mc.Start(sampling.Run{
		Sweep:  sweep,
		Count:  count,
		Single: channel.ParseSelector(selector).Kind == channel.SelectSingle,
	})
	return nil
}

func (d *Dispatcher) listAnalogInputs(_ context.Context, _ command.Args, resp *Response) error {
	for _, ch := range d.deps.Banks.Analog.List() {
		resp.println(ch.String())
	}
	return nil
}

func (d *Dispatcher) readADCRegisters(_ context.Context, _ command.Args, resp *Response) error {
	regs, err := d.deps.Converter.Registers()
	if err != nil {
		return fmt.Errorf("%w: %w", command.ADCRegisterRead, err)
	}
	for _, r := range regs {
		resp.println(fmt.Sprintf("%s (0x%02X): 0x%02X", r.Name, r.Address, r.Value))
	}
	return nil
}

func (d *Dispatcher) readAnalogInput(_ context.Context, args command.Args, _ *Response) error {
	value, ok := args.Lookup(command.ParamInput)
	if !ok {
		return command.AnalogInputMissingKey
	}
	list := channel.Populated(channel.Resolve(d.deps.Banks.Analog, value, d.logger))
	if len(list) == 0 {
		return command.AnalogInputNotFound
	}
	cal := d.deps.Calibration
	sweep := sampling.AnalogSweep(d.deps.Converter, cal.Store(), d.deps.Thermometer, list)
	return d.startRun(d.deps.Machines.Analog, machine.StateAnalogInputSample, sweep, args, value)
}

func (d *Dispatcher) addAnalogInput(_ context.Context, args command.Args, resp *Response) error {
	if d.deps.Machines.Analog.Running() {
		return rejected(command.StatusADCInvalidOperation)
	}
	ch, err := d.deps.Banks.AddAnalogInput(args)
	if err != nil {
		return channelError(channel.TypeAnalogInput, err)
	}
	d.logger.Info("Analog input added", zap.Int("number", ch.Number), zap.String("name", ch.Name))
	return nil
}

func (d *Dispatcher) removeAnalogInput(_ context.Context, args command.Args, _ *Response) error {
	if d.deps.Machines.Analog.Running() {
		return rejected(command.StatusADCInvalidOperation)
	}
	return channelError(channel.TypeAnalogInput, d.deps.Banks.RemoveAnalogInput(args))
}

func (d *Dispatcher) checkAnalogInput(_ context.Context, args command.Args, resp *Response) error {
	n, err := channel.Number(args, command.ParamInput, d.deps.Banks.Analog.Capacity())
	if err != nil {
		return channelError(channel.TypeAnalogInput, err)
	}
	ch := d.deps.Banks.Analog.Get(n)
	if ch == nil {
		return command.AnalogInputNotFound
	}
	resp.println(ch.String())
	return nil
}

// calibrate runs fn in the calibration state when the board is otherwise idle.
func (d *Dispatcher) calibrate(fn func() error) error {
	if d.deps.Machines.Analog.Running() {
		return rejected(command.StatusADCInvalidOperation)
	}
	ctrl := d.deps.Controller
	if ctrl.State() == machine.StateIdle {
		if err := ctrl.Transition(machine.StateCalibration); err != nil {
			return err
		}
		defer ctrl.Release(machine.StateCalibration)
	}

	err := fn()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, calibration.ErrParse):
		return fmt.Errorf("%w: %w", command.CalibrationParseError, err)
	default:
		return fmt.Errorf("%w: %w", command.CalibrationFailed, err)
	}
}

func (d *Dispatcher) systemGainCal(ctx context.Context, args command.Args, _ *Response) error {
	return d.calibrate(func() error {
		return d.deps.Calibration.PerformSystemGainCalibration(ctx, args)
	})
}

func (d *Dispatcher) systemCal(ctx context.Context, args command.Args, _ *Response) error {
	return d.calibrate(func() error {
		if len(args) > 0 {
			if err := d.deps.Calibration.ApplySettings(args); err != nil {
				return err
			}
		}
		return d.deps.Calibration.PerformSystemCalibration(ctx)
	})
}

func (d *Dispatcher) listDigitalInputs(_ context.Context, _ command.Args, resp *Response) error {
	for _, ch := range d.deps.Banks.Inputs.List() {
		resp.println(ch.String())
	}
	return nil
}

func (d *Dispatcher) readDigitalInput(_ context.Context, args command.Args, _ *Response) error {
	value, ok := args.Lookup(command.ParamInput)
	if !ok {
		return command.DigitalInputMissingKey
	}
	list := channel.Populated(channel.Resolve(d.deps.Banks.Inputs, value, d.logger))
	if len(list) == 0 {
		return command.DigitalInputNotFound
	}
	sweep := sampling.DigitalInputSweep(d.deps.Inputs, list)
	return d.startRun(d.deps.Machines.Inputs, machine.StateDigitalInputSample, sweep, args, value)
}

func (d *Dispatcher) addDigitalInput(_ context.Context, args command.Args, _ *Response) error {
	if d.deps.Machines.Inputs.Running() {
		return rejected(command.StatusDIInvalidOperation)
	}
	_, err := d.deps.Banks.AddDigitalInput(args)
	return channelError(channel.TypeDigitalInput, err)
}

func (d *Dispatcher) removeDigitalInput(_ context.Context, args command.Args, _ *Response) error {
	if d.deps.Machines.Inputs.Running() {
		return rejected(command.StatusDIInvalidOperation)
	}
	return channelError(channel.TypeDigitalInput, d.deps.Banks.RemoveDigitalInput(args))
}

func (d *Dispatcher) listDigitalOutputs(_ context.Context, _ command.Args, resp *Response) error {
	for _, ch := range d.deps.Banks.Outputs.List() {
		resp.println(ch.String())
	}
	return nil
}

func parseLevel(raw string) (bool, error) {
	switch raw {
	case "ON", "1", "TRUE", "HIGH":
		return true, nil
	case "OFF", "0", "FALSE", "LOW":
		return false, nil
	}
	return false, fmt.Errorf("%w: state %q", command.DigitalOutputParseError, raw)
}

func (d *Dispatcher) setDigitalOutput(_ context.Context, args command.Args, _ *Response) error {
	n, err := channel.Number(args, command.ParamOutput, d.deps.Banks.Outputs.Capacity())
	if err != nil {
		return channelError(channel.TypeDigitalOutput, err)
	}
	if d.deps.Banks.Outputs.Get(n) == nil {
		return command.DigitalOutputNotFound
	}
	raw, ok := args.Lookup(command.ParamState)
	if !ok {
		return command.DigitalOutputMissingKey
	}
	on, err := parseLevel(raw)
	if err != nil {
		return err
	}
	if err := d.deps.Outputs.SetOutput(n, on); err != nil {
		return fmt.Errorf("%w: %w", command.DigitalOutputHardware, err)
	}
	return nil
}

func (d *Dispatcher) readDigitalOutput(_ context.Context, args command.Args, _ *Response) error {
	value, ok := args.Lookup(command.ParamOutput)
	if !ok {
		return command.DigitalOutputMissingKey
	}
	list := channel.Populated(channel.Resolve(d.deps.Banks.Outputs, value, d.logger))
	if len(list) == 0 {
		return command.DigitalOutputNotFound
	}
	sweep := sampling.DigitalOutputSweep(d.deps.Outputs, list)
	return d.startRun(d.deps.Machines.Outputs, machine.StateDigitalOutputSample, sweep, args, value)
}

func (d *Dispatcher) addDigitalOutput(_ context.Context, args command.Args, _ *Response) error {
	if d.deps.Machines.Outputs.Running() {
		return rejected(command.StatusDOInvalidOperation)
	}
	_, err := d.deps.Banks.AddDigitalOutput(args)
	return channelError(channel.TypeDigitalOutput, err)
}

func (d *Dispatcher) removeDigitalOutput(_ context.Context, args command.Args, _ *Response) error {
	if d.deps.Machines.Outputs.Running() {
		return rejected(command.StatusDOInvalidOperation)
	}
	return channelError(channel.TypeDigitalOutput, d.deps.Banks.RemoveDigitalOutput(args))
}

func (d *Dispatcher) clearDigitalOutputFault(_ context.Context, args command.Args, _ *Response) error {
	n, err := channel.Number(args, command.ParamOutput, d.deps.Banks.Outputs.Capacity())
	if err != nil {
		return channelError(channel.TypeDigitalOutput, err)
	}
	if err := d.deps.Outputs.ClearFault(n); err != nil {
		return fmt.Errorf("%w: %w", command.DigitalOutputHardware, err)
	}
	return nil
}

func (d *Dispatcher) disconnect(_ context.Context, _ command.Args, resp *Response) error {
	resp.Close = true
	return nil
}

func (d *Dispatcher) upgrade(_ context.Context, _ command.Args, resp *Response) error {
	d.haltAll()
	if err := d.deps.Upgrade.SetUpgradeFlag(); err != nil {
		return fmt.Errorf("%w: %w", command.UpgradeFailed, err)
	}
	if err := d.deps.Controller.Transition(machine.StateUpgrade); err != nil {
		return fmt.Errorf("%w: %w", command.UpgradeFailed, err)
	}
	d.logger.Warn("Upgrade requested, board will reset")
	resp.Close = true
	resp.Reset = true
	return nil
}

func (d *Dispatcher) identify(_ context.Context, _ command.Args, resp *Response) error {
	id, err := d.deps.Board.Identity()
	if err != nil {
		return err
	}
	resp.println(id.Report())
	return nil
}

func (d *Dispatcher) sample(_ context.Context, args command.Args, _ *Response) error {
	count, err := sampleCount(args)
	if err != nil {
		return err
	}

	banks, m := d.deps.Banks, d.deps.Machines
	analog := banks.Analog.List()
	inputs := banks.Inputs.List()
	outputs := banks.Outputs.List()
	if len(analog)+len(inputs)+len(outputs) == 0 {
		return fmt.Errorf("%w: no channels added", command.SamplingFailed)
	}

	if err := d.deps.Controller.Transition(machine.StateGeneralSample); err != nil {
		return fmt.Errorf("%w: %w", command.SamplingFailed, err)
	}
	if len(analog) > 0 {
		sweep := sampling.AnalogSweep(d.deps.Converter, d.deps.Calibration.Store(), d.deps.Thermometer, analog)
		m.Analog.Start(sampling.Run{Sweep: sweep, Count: count})
	}
	if len(inputs) > 0 {
		m.Inputs.Start(sampling.Run{Sweep: sampling.DigitalInputSweep(d.deps.Inputs, inputs), Count: count})
	}
	if len(outputs) > 0 {
		m.Outputs.Start(sampling.Run{Sweep: sampling.DigitalOutputSweep(d.deps.Outputs, outputs), Count: count})
	}
	return nil
}

func (d *Dispatcher) haltAll() {
	for _, mc := range d.deps.Machines.all() {
		mc.Halt()
	}
}

func (d *Dispatcher) halt(_ context.Context, _ command.Args, _ *Response) error {
	d.haltAll()
	if d.deps.Controller.State().Sampling() {
		return d.deps.Controller.Transition(machine.StateIdle)
	}
	return nil
}

func (d *Dispatcher) setRTC(_ context.Context, args command.Args, _ *Response) error {
	value, ok := args.Lookup(command.ParamValue)
	if !ok {
		return command.RTCInvalidValue
	}
	if err := d.deps.Board.SetRTC(value); err != nil {
		return fmt.Errorf("%w: %w", command.RTCInvalidValue, err)
	}
	return nil
}

func (d *Dispatcher) setUserMAC(_ context.Context, args command.Args, _ *Response) error {
	value, ok := args.Lookup(command.ParamValue)
	if !ok {
		return command.MACInvalidValue
	}
	if err := d.deps.Board.SetUserMAC(value); err != nil {
		return fmt.Errorf("%w: %w", command.MACInvalidValue, err)
	}
	return nil
}

func (d *Dispatcher) setStaticIP(_ context.Context, args command.Args, _ *Response) error {
	value, ok := args.Lookup(command.ParamValue)
	if !ok {
		return command.IPInvalidValue
	}
	if err := d.deps.Board.SetStaticIP(value); err != nil {
		return fmt.Errorf("%w: %w", command.IPInvalidValue, err)
	}
	return nil
}

func (d *Dispatcher) getCalibrationStatus(_ context.Context, _ command.Args, resp *Response) error {
	status := "INVALID"
	if d.deps.Calibration.IsCalibrationValid() {
		status = "VALID"
	}
	resp.println("Calibration Status: " + status)
	return nil
}
