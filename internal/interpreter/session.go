package interpreter

import (
	"context"
	"errors"
	"fmt"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/command"
	"go.uber.org/zap"
)

// LineEnding terminates every line written to a client.
const LineEnding = "\n\r"

// ErrSessionClosed is returned by Feed once a command closed the session.
var ErrSessionClosed = errors.New("session closed by command")

// Session is one client connection of a command transport.
type Session interface {
	ID() string
	WriteLine(line string) error
	Close() error
}

// Conn binds a session to the dispatcher and owns the session's line buffer.
type Conn struct {
	d      *Dispatcher
	sess   Session
	buf    *command.LineBuffer
	closed bool
	logger *zap.Logger
}

func (d *Dispatcher) Attach(sess Session) *Conn {
	return &Conn{
		d:      d,
		sess:   sess,
		buf:    command.NewLineBuffer(d.Limits().MaxLineLength),
		logger: d.logger.With(zap.String("session", sess.ID())),
	}
}

// Feed pushes received bytes through the line buffer and executes every
// completed line.
func (c *Conn) Feed(ctx context.Context, p []byte) error {
	for _, b := range p {
		if c.closed {
			return ErrSessionClosed
		}
		line, done, err := c.buf.Add(b)
		if !done {
			continue
		}
		if errors.Is(err, command.ErrLineOverflow) {
			c.logger.Warn("Command line overflow, line discarded",
				zap.Int("max", c.d.Limits().MaxLineLength))
			if err := c.sess.WriteLine(command.FormatResponse(command.StatusParseError, command.FunctionOK)); err != nil {
				return err
			}
			continue
		}
		if err := c.Execute(ctx, line); err != nil {
			return err
		}
	}
	if c.closed {
		return ErrSessionClosed
	}
	return nil
}

// Execute runs one complete line and writes its output to the session.
func (c *Conn) Execute(ctx context.Context, line string) error {
	resp := c.d.Execute(ctx, line)
	if resp == nil {
		return nil
	}
	for _, l := range resp.Lines {
		if err := c.sess.WriteLine(l); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
	}
	if err := c.sess.WriteLine(resp.StatusLine()); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}

	if resp.Close {
		c.closed = true
		c.logger.Info("Session closed by command", zap.Stringer("command", resp.Kind))
		if err := c.sess.Close(); err != nil {
			c.logger.Debug("Session close failed", zap.Error(err))
		}
	}
	if resp.Reset && c.d.deps.Reset != nil {
		c.d.deps.Reset()
	}
	return nil
}

func (c *Conn) Closed() bool {
	return c.closed
}
