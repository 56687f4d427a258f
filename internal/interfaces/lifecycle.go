package interfaces

import (
	"context"
	"time"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/board"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/calibration"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/channel"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/interpreter"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/machine"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/storage"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State            string        `json:"state"`
	CommandState     machine.State `json:"command_state"`
	StartedAt        time.Time     `json:"started_at"`
	Uptime           string        `json:"uptime"`
	CalibrationValid bool          `json:"calibration_valid"`
	Temperature      float32       `json:"temperature_celsius"`
	Sessions         int           `json:"command_sessions"`
}

// Thermometer is the board temperature as tracked by the thermal monitor.
type Thermometer interface {
	Temperature() float32
	MinTemperature() float32
	MaxTemperature() float32
}

// Instrument is the running data acquisition core as seen by the outer APIs.
type Instrument interface {
	Board() *board.Board
	Banks() *channel.Banks
	Dispatcher() *interpreter.Dispatcher
	Controller() *machine.Controller
	Calibration() *calibration.Engine
	Thermometer() Thermometer
	// Archive is nil when no database is configured.
	Archive() *storage.PostgresClient
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
