package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/interpreter"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/sampling"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

const readTimeout = 200 * time.Millisecond

type Config struct {
	Port     string
	BaudRate int
}

// Console serves the command protocol on a serial port, the way the board's
// debug UART does.
type Console struct {
	cfg        Config
	dispatcher *interpreter.Dispatcher
	logger     *zap.Logger

	mu   sync.Mutex
	sess *session
}

func New(cfg Config, dispatcher *interpreter.Dispatcher, logger *zap.Logger) *Console {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	return &Console{cfg: cfg, dispatcher: dispatcher, logger: logger}
}

// Ports lists the serial ports present on the host.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	return ports, nil
}

// Open opens the configured port.
func (c *Console) Open() (serial.Port, error) {
	port, err := serial.Open(c.cfg.Port, &serial.Mode{
		BaudRate: c.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		if ports, perr := Ports(); perr == nil {
			c.logger.Warn("Serial console unavailable",
				zap.String("port", c.cfg.Port),
				zap.Strings("available", ports))
		}
		return nil, fmt.Errorf("failed to open %s: %w", c.cfg.Port, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	return port, nil
}

// Run opens the port and serves it until ctx ends or the port goes away.
func (c *Console) Run(ctx context.Context) error {
	port, err := c.Open()
	if err != nil {
		return err
	}
	c.logger.Info("Serial console opened",
		zap.String("port", c.cfg.Port),
		zap.Int("baud_rate", c.cfg.BaudRate))
	return c.Serve(ctx, port)
}

// Serve runs the command protocol over rw. Reads are expected to time out
// periodically so cancellation is noticed; a zero-length read is not an error.
func (c *Console) Serve(ctx context.Context, rw io.ReadWriteCloser) error {
	sess := &session{rw: rw}
	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.sess = nil
		c.mu.Unlock()
		sess.Close()
	}()

	conn := c.dispatcher.Attach(sess)
	buf := make([]byte, 256)
	for ctx.Err() == nil {
		n, err := rw.Read(buf)
		if n > 0 {
			if ferr := conn.Feed(ctx, buf[:n]); ferr != nil {
				if errors.Is(ferr, interpreter.ErrSessionClosed) {
					return nil
				}
				return ferr
			}
		}
		if err != nil {
			if disconnected(err) {
				c.logger.Warn("Serial console disconnected", zap.Error(err))
				return nil
			}
			return fmt.Errorf("failed to read console: %w", err)
		}
	}
	return nil
}

func disconnected(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
			return true
		}
	}
	return false
}

// Write echoes a reading to the console when one is attached.
func (c *Console) Write(_ context.Context, r sampling.Reading) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.WriteLine(r.String())
}

type session struct {
	mu     sync.Mutex
	rw     io.ReadWriteCloser
	closed bool
}

func (s *session) ID() string {
	return "console"
}

func (s *session) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	_, err := io.WriteString(s.rw, line+interpreter.LineEnding)
	return err
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.rw.Close()
}
