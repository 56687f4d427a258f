package interpreter

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/adc"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/board"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/calibration"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/channel"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/command"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/dio"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/machine"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/sampling"
	"go.uber.org/zap"
)

// UpgradeFlag persists the request for the bootloader to enter upgrade mode.
type UpgradeFlag interface {
	SetUpgradeFlag() error
}

// Observer is told about every executed command.
type Observer interface {
	ObserveCommand(command, result string)
}

// Machines are the sampling machines of the three channel banks.
type Machines struct {
	Analog  *sampling.Machine
	Inputs  *sampling.Machine
	Outputs *sampling.Machine
}

func (m Machines) all() []*sampling.Machine {
	return []*sampling.Machine{m.Analog, m.Inputs, m.Outputs}
}

// runningState reports the sampling state of the first bank whose run is
// still active.
func (m Machines) runningState() (machine.State, bool) {
	switch {
	case m.Analog.Running():
		return machine.StateAnalogInputSample, true
	case m.Inputs.Running():
		return machine.StateDigitalInputSample, true
	case m.Outputs.Running():
		return machine.StateDigitalOutputSample, true
	}
	return machine.StateIdle, false
}

type Dependencies struct {
	Board       *board.Board
	Banks       *channel.Banks
	Converter   adc.Converter
	Inputs      dio.Inputs
	Outputs     dio.Outputs
	Calibration *calibration.Engine
	Thermometer sampling.Thermometer
	Machines    Machines
	Controller  *machine.Controller
	Upgrade     UpgradeFlag
	// Reset is called after UPGRADE has closed the session.
	Reset    func()
	Observer Observer
}

// Response is everything one command line produced.
type Response struct {
	Kind   command.Kind
	Lines  []string
	Status command.Status
	Cause  command.FunctionError
	// Close asks the transport to drop the session.
	Close bool
	// Reset asks the host to restart once the session is closed.
	Reset bool
}

// StatusLine is the final SUCCESS, FAIL or ERROR line.
func (r *Response) StatusLine() string {
	return command.FormatResponse(r.Status, r.Cause)
}

func (r *Response) println(line string) {
	r.Lines = append(r.Lines, line)
}

// rejected is returned by handlers whose precondition does not hold.
type rejected command.Status

func (r rejected) Error() string {
	return command.Status(r).String()
}

type handler func(ctx context.Context, args command.Args, resp *Response) error

// Dispatcher executes command lines one at a time against the board.
type Dispatcher struct {
	deps     Dependencies
	parser   *command.Parser
	handlers map[command.Kind]handler
	logger   *zap.Logger

	mu      sync.Mutex
	lastErr command.FunctionError
}

func New(deps Dependencies, limits command.Limits, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		deps:   deps,
		parser: command.NewParser(limits),
		logger: logger,
	}
	d.handlers = d.routes()

	release := func(own machine.State) func() {
		return func() {
			if next, ok := deps.Machines.runningState(); ok {
				// Another bank is still sampling; hand the state over to it.
				deps.Controller.Handover(own, next)
				return
			}
			deps.Controller.Release(own)
			deps.Controller.Release(machine.StateGeneralSample)
		}
	}
	deps.Machines.Analog.OnDone(release(machine.StateAnalogInputSample))
	deps.Machines.Inputs.OnDone(release(machine.StateDigitalInputSample))
	deps.Machines.Outputs.OnDone(release(machine.StateDigitalOutputSample))
	return d
}

func (d *Dispatcher) Limits() command.Limits {
	return d.parser.Limits()
}

// LastFunctionError returns the most recent function error and clears it.
func (d *Dispatcher) LastFunctionError() command.FunctionError {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.lastErr
	d.lastErr = command.FunctionOK
	return e
}

// Execute parses and runs one line. It returns nil for blank lines, which
// produce no response.
func (d *Dispatcher) Execute(ctx context.Context, line string) *Response {
	parsed, err := d.parser.Parse(line)
	if errors.Is(err, command.ErrEmptyLine) {
		return nil
	}
	if err != nil {
		d.logger.Warn("Command line discarded", zap.Error(err))
		return d.finish(&Response{Kind: command.Unrecognized, Status: command.StatusParseError})
	}
	for _, token := range parsed.Skipped {
		d.logger.Debug("Argument without key marker skipped",
			zap.String("command", parsed.Name),
			zap.String("token", token))
	}

	resp := &Response{Kind: parsed.Kind}
	if parsed.Kind == command.Unrecognized {
		d.logger.Warn("Unrecognized command", zap.String("command", parsed.Name))
		resp.Status = command.StatusBadCommand
		return d.finish(resp)
	}
	if !command.CheckArgs(parsed.Kind, parsed.Args) {
		d.logger.Warn("Invalid arguments",
			zap.String("command", parsed.Name),
			zap.Strings("keys", parsed.Args.Keys()))
		resp.Status = command.StatusBadParam
		return d.finish(resp)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	h, ok := d.handlers[parsed.Kind]
	if !ok {
		resp.Status = command.StatusBadCommand
		return d.finish(resp)
	}
	d.classify(resp, h(ctx, parsed.Args, resp))
	if resp.Status == command.StatusFunctionError {
		d.lastErr = resp.Cause
	}
	return d.finish(resp)
}

func (d *Dispatcher) classify(resp *Response, err error) {
	if err == nil {
		resp.Status = command.StatusOK
		return
	}

	var rej rejected
	if errors.As(err, &rej) {
		resp.Status = command.Status(rej)
		d.logger.Warn("Command rejected",
			zap.Stringer("command", resp.Kind),
			zap.Stringer("status", resp.Status))
		return
	}
	if cause, ok := command.Cause(err); ok {
		resp.Status = command.StatusFunctionError
		resp.Cause = cause
		d.logger.Warn("Command function error",
			zap.Stringer("command", resp.Kind),
			zap.Error(err))
		return
	}

	resp.Status = command.StatusUnknownError
	d.logger.Error("Command failed", zap.Stringer("command", resp.Kind), zap.Error(err))
}

func (d *Dispatcher) finish(resp *Response) *Response {
	if d.deps.Observer != nil {
		d.deps.Observer.ObserveCommand(resp.Kind.String(), result(resp.Status))
	}
	return resp
}

func result(s command.Status) string {
	line := command.FormatResponse(s, command.FunctionOK)
	prefix, _, _ := strings.Cut(line, " ")
	return strings.ToLower(prefix)
}
