package thermal

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sensor reads the on-board temperature in degrees Celsius.
type Sensor interface {
	ReadTemperature(ctx context.Context) (float32, error)
}

// HistoryStore keeps the recorded extremes across restarts.
type HistoryStore interface {
	SaveTemperatureHistory(min, max float32) error
	LoadTemperatureHistory() (min, max float32, ok bool, err error)
}

// SimulatedSensor models a board that settles a few degrees above ambient
// and wanders slowly around it.
type SimulatedSensor struct {
	Ambient float32
	Now     func() time.Time
}

func (s SimulatedSensor) ReadTemperature(ctx context.Context) (float32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	minutes := float64(now().Unix()) / 60
	return s.Ambient + 4 + float32(math.Sin(minutes/30)), nil
}

// Monitor samples the board temperature on a cron schedule and tracks the
// lowest and highest value ever recorded.
type Monitor struct {
	sensor   Sensor
	store    HistoryStore
	schedule string
	logger   *zap.Logger
	cron     *cron.Cron

	mu       sync.RWMutex
	current  float32
	min, max float32
	recorded bool
	onSample []func(celsius float32)
}

func NewMonitor(sensor Sensor, store HistoryStore, schedule string, logger *zap.Logger) (*Monitor, error) {
	m := &Monitor{
		sensor:   sensor,
		store:    store,
		schedule: schedule,
		logger:   logger,
		cron:     cron.New(),
	}

	min, max, ok, err := store.LoadTemperatureHistory()
	if err != nil {
		return nil, fmt.Errorf("failed to load temperature history: %w", err)
	}
	if ok {
		m.min, m.max, m.recorded = min, max, true
		m.current = (min + max) / 2
		logger.Info("Temperature history restored",
			zap.Float32("min", min),
			zap.Float32("max", max))
	}
	return m, nil
}

// Start takes a first reading and schedules the rest.
func (m *Monitor) Start(ctx context.Context) error {
	if err := m.Sample(ctx); err != nil {
		return err
	}
	_, err := m.cron.AddFunc(m.schedule, func() {
		if err := m.Sample(context.Background()); err != nil {
			m.logger.Error("Board temperature sample failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule temperature monitor: %w", err)
	}
	m.cron.Start()
	m.logger.Info("Temperature monitor started", zap.String("schedule", m.schedule))
	return nil
}

// OnSample registers fn to receive every successful reading.
func (m *Monitor) OnSample(fn func(celsius float32)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSample = append(m.onSample, fn)
}

// Stop halts the schedule and waits for a running sample to finish.
func (m *Monitor) Stop() {
	<-m.cron.Stop().Done()
}

// Sample takes one reading and persists the extremes if they moved.
func (m *Monitor) Sample(ctx context.Context) error {
	t, err := m.sensor.ReadTemperature(ctx)
	if err != nil {
		return fmt.Errorf("failed to read board temperature: %w", err)
	}

	m.mu.Lock()
	m.current = t
	changed := !m.recorded || t < m.min || t > m.max
	if !m.recorded {
		m.min, m.max, m.recorded = t, t, true
	}
	if t < m.min {
		m.min = t
	}
	if t > m.max {
		m.max = t
	}
	min, max := m.min, m.max
	listeners := m.onSample
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(t)
	}
	if !changed {
		return nil
	}
	m.logger.Debug("Temperature extremes updated",
		zap.Float32("min", min),
		zap.Float32("max", max))
	if err := m.store.SaveTemperatureHistory(min, max); err != nil {
		return fmt.Errorf("failed to save temperature history: %w", err)
	}
	return nil
}

func (m *Monitor) Temperature() float32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Monitor) MinTemperature() float32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.min
}

func (m *Monitor) MaxTemperature() float32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.max
}
