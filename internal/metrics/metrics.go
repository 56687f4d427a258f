package metrics

import (
	"context"
	"net/http"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/sampling"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tekdaqc"

// Metrics holds the instrument's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	commands    *prometheus.CounterVec
	readings    *prometheus.CounterVec
	temperature prometheus.Gauge
	sessions    prometheus.Gauge
	calValid    prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands executed, by command and result.",
		}, []string{"command", "result"}),
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_total",
			Help:      "Samples taken, by channel type.",
		}, []string{"type"}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "board_temperature_celsius",
			Help:      "Last board temperature reading.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "command_sessions",
			Help:      "Open command sessions.",
		}),
		calValid: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calibration_valid",
			Help:      "1 when the persisted calibration table is valid.",
		}),
	}

	m.registry.MustRegister(
		m.commands,
		m.readings,
		m.temperature,
		m.sessions,
		m.calValid,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveCommand(command, result string) {
	m.commands.WithLabelValues(command, result).Inc()
}

func (m *Metrics) SetTemperature(celsius float32) {
	m.temperature.Set(float64(celsius))
}

func (m *Metrics) SessionOpened() {
	m.sessions.Inc()
}

func (m *Metrics) SessionClosed() {
	m.sessions.Dec()
}

func (m *Metrics) SetCalibrationValid(valid bool) {
	if valid {
		m.calValid.Set(1)
		return
	}
	m.calValid.Set(0)
}

// Write counts a reading; Metrics doubles as a sampling sink.
func (m *Metrics) Write(_ context.Context, r sampling.Reading) error {
	m.readings.WithLabelValues(string(r.Type)).Inc()
	return nil
}
