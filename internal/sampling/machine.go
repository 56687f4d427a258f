package sampling

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sweep takes one sample of every channel in a run.
type Sweep func(ctx context.Context) ([]Reading, error)

// Run describes one sampling request.
type Run struct {
	Sweep Sweep
	// Count is the number of sweeps to take; 0 samples until halted.
	Count int
	// Single marks a run over one explicitly selected channel.
	Single bool
}

// Machine drives sweeps for one channel bank on its own goroutine.
type Machine struct {
	name   string
	period time.Duration
	sink   Sink
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	single bool
	taken  int
	onDone func()
}

func NewMachine(name string, period time.Duration, sink Sink, logger *zap.Logger) *Machine {
	return &Machine{
		name:   name,
		period: period,
		sink:   sink,
		logger: logger.With(zap.String("machine", name)),
	}
}

func (m *Machine) Name() string {
	return m.name
}

// OnDone registers fn to run when a run completes on its own.
func (m *Machine) OnDone(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDone = fn
}

// Start halts any active run and begins run.
func (m *Machine) Start(run Run) {
	m.Halt()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.cancel = cancel
	m.done = done
	m.single = run.Single
	m.taken = 0
	m.mu.Unlock()

	m.logger.Info("Sampling started",
		zap.Int("count", run.Count),
		zap.Bool("single", run.Single))

	go m.loop(ctx, run, done)
}

// Halt stops the active run and waits for its goroutine to exit.
func (m *Machine) Halt() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Info("Sampling halted")
}

func (m *Machine) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done != nil
}

func (m *Machine) Single() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.single
}

// Taken reports how many sweeps the current or last run completed.
func (m *Machine) Taken() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.taken
}

func (m *Machine) loop(ctx context.Context, run Run, done chan struct{}) {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	natural := m.sweepUntilDone(ctx, ticker, run)

	m.mu.Lock()
	if m.done == done {
		m.cancel()
		m.cancel = nil
		m.done = nil
	}
	onDone := m.onDone
	m.mu.Unlock()
	close(done)

	if natural {
		m.logger.Info("Sampling complete", zap.Int("sweeps", m.Taken()))
		if onDone != nil {
			onDone()
		}
	}
}

func (m *Machine) sweepUntilDone(ctx context.Context, ticker *time.Ticker, run Run) bool {
	for n := 0; run.Count == 0 || n < run.Count; n++ {
		readings, err := run.Sweep(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			m.logger.Error("Sweep failed", zap.Int("sample", n), zap.Error(err))
			return true
		}
		for _, r := range readings {
			if r.ID == uuid.Nil {
				r.ID = uuid.New()
			}
			r.Sample = n
			if err := m.sink.Write(ctx, r); err != nil {
				m.logger.Debug("Reading not delivered", zap.Error(err))
			}
		}

		m.mu.Lock()
		m.taken = n + 1
		m.mu.Unlock()

		if run.Count != 0 && n+1 >= run.Count {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return ctx.Err() == nil
}
