package sampling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/channel"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Reading is one sample of one channel.
type Reading struct {
	ID        uuid.UUID    `json:"id"`
	Type      channel.Type `json:"type"`
	Number    int          `json:"number"`
	Name      string       `json:"name,omitempty"`
	Sample    int          `json:"sample"`
	Code      int32        `json:"code"`
	Level     bool         `json:"level"`
	Timestamp time.Time    `json:"timestamp"`
}

// String renders the reading the way it is streamed to command clients.
func (r Reading) String() string {
	switch r.Type {
	case channel.TypeAnalogInput:
		return fmt.Sprintf("?A%d,%d,%d", r.Number, r.Timestamp.UnixMicro(), r.Code)
	case channel.TypeDigitalInput:
		return fmt.Sprintf("?D%d,%d,%s", r.Number, r.Timestamp.UnixMicro(), level(r.Level))
	default:
		return fmt.Sprintf("?O%d,%d,%s", r.Number, r.Timestamp.UnixMicro(), level(r.Level))
	}
}

func level(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

// Sink receives readings as they are taken.
type Sink interface {
	Write(ctx context.Context, r Reading) error
}

type SinkFunc func(ctx context.Context, r Reading) error

func (f SinkFunc) Write(ctx context.Context, r Reading) error {
	return f(ctx, r)
}

// Fanout forwards every reading to all registered sinks.
type Fanout struct {
	mu     sync.RWMutex
	sinks  map[string]Sink
	logger *zap.Logger
}

func NewFanout(logger *zap.Logger) *Fanout {
	return &Fanout{
		sinks:  make(map[string]Sink),
		logger: logger,
	}
}

// Add registers sink under name, replacing any previous sink of that name.
func (f *Fanout) Add(name string, sink Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks[name] = sink
}

func (f *Fanout) Remove(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sinks, name)
}

func (f *Fanout) Write(ctx context.Context, r Reading) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var errs []error
	for name, sink := range f.sinks {
		if err := sink.Write(ctx, r); err != nil {
			f.logger.Debug("Sink rejected reading",
				zap.String("sink", name),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
