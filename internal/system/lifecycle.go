package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/adc"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/api/rest"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/auth"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/api/websocket"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/board"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/calibration"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/channel"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/config"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/console"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/dio"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/interfaces"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/interpreter"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/machine"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/metrics"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/publish"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/sampling"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/storage"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/telnet"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/thermal"
	"github.com/dustin/go-humanize"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC health service name of the instrument.
const HealthService = "tekdaqc.Instrument"

// simulatorNoise is the RMS input noise of the simulated front end, in volts.
const simulatorNoise = 2e-6

const consoleRetry = 5 * time.Second

type LifecycleManager struct {
	config *config.Config
	logger *zap.Logger

	bolt        *storage.BoltStore
	archive     *storage.PostgresClient
	board       *board.Board
	banks       *channel.Banks
	calibration *calibration.Engine
	monitor     *thermal.Monitor
	metrics     *metrics.Metrics
	wsHub       *websocket.Hub
	fanout      *sampling.Fanout
	machines    interpreter.Machines
	controller  *machine.Controller
	dispatcher  *interpreter.Dispatcher
	telnet      *telnet.Server
	console     *console.Console
	mqtt        mqtt.Client

	restServer *rest.Server
	auth       *auth.Service
	grpcServer *grpc.Server
	health     *health.Server

	cancel    context.CancelFunc
	startedAt time.Time
	bg        sync.WaitGroup

	stateMu      sync.RWMutex
	currentState SystemState

	reset     chan struct{}
	resetOnce sync.Once

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycleManager builds the instrument on top of an open bolt store.
// The store stays owned by the caller.
func NewLifecycleManager(bolt *storage.BoltStore, cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	lm := &LifecycleManager{
		config:       cfg,
		logger:       logger,
		bolt:         bolt,
		currentState: StateInitializing,
		reset:        make(chan struct{}),
		shutdownChan: make(chan struct{}),
	}

	region, err := bolt.Region(cfg.Storage.RegionSize)
	if err != nil {
		return nil, fmt.Errorf("failed to attach calibration region: %w", err)
	}
	store := calibration.NewStore(region, logger)
	if err := store.Init(); err != nil {
		return nil, fmt.Errorf("failed to load calibration header: %w", err)
	}
	logger.Info("Calibration store loaded",
		zap.String("region", humanize.Bytes(uint64(region.Size()))),
		zap.Bool("valid", store.Valid()),
		zap.Uint32("temperature_slots", store.Capacity()))

	loader, err := board.NewProfileLoader(cfg.Board.SearchPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile loader: %w", err)
	}
	profile, builtin, err := loader.LoadOrDefault(cfg.Board.Profile)
	if err != nil {
		return nil, fmt.Errorf("failed to load board profile: %w", err)
	}
	if builtin {
		logger.Warn("Board profile not found, using built in profile",
			zap.String("profile", cfg.Board.Profile))
	}

	lm.board, err = board.New(profile, store, bolt, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create board: %w", err)
	}

	converter := adc.NewSimulator(adc.DefaultSignal, simulatorNoise, logger)
	digital := dio.NewSimulator(profile.Channels.DigitalInputs, profile.Channels.DigitalOutputs)

	lm.monitor, err = thermal.NewMonitor(thermal.SimulatedSensor{Ambient: cfg.Thermal.AmbientCelsius},
		bolt, cfg.Thermal.Schedule, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create temperature monitor: %w", err)
	}

	lm.calibration = calibration.NewEngine(store, converter, lm.monitor, calibration.EngineConfig{
		ValidMinTemp: cfg.Calibration.ValidMinTemp,
		ValidMaxTemp: cfg.Calibration.ValidMaxTemp,
	}, logger)

	lm.metrics = metrics.New()
	lm.monitor.OnSample(func(celsius float32) {
		lm.metrics.SetTemperature(celsius)
		lm.metrics.SetCalibrationValid(lm.calibration.IsCalibrationValid())
	})

	lm.wsHub = websocket.NewHub(logger)
	lm.fanout = sampling.NewFanout(logger)
	lm.fanout.Add("metrics", lm.metrics)
	lm.fanout.Add("websocket", lm.wsHub)

	lm.machines = interpreter.Machines{
		Analog:  sampling.NewMachine("analog_input", cfg.Sampling.Period, lm.fanout, logger),
		Inputs:  sampling.NewMachine("digital_input", cfg.Sampling.Period, lm.fanout, logger),
		Outputs: sampling.NewMachine("digital_output", cfg.Sampling.Period, lm.fanout, logger),
	}

	lm.controller = machine.NewController(logger)
	lm.controller.OnChange(func(status machine.Status) {
		lm.wsHub.Broadcast(websocket.NewStateMessage(status))
	})

	lm.banks = channel.NewBanks(profile.Channels.AnalogInputs, profile.Channels.DigitalInputs, profile.Channels.DigitalOutputs)
	lm.dispatcher = interpreter.New(interpreter.Dependencies{
		Board:       lm.board,
		Banks:       lm.banks,
		Converter:   converter,
		Inputs:      digital,
		Outputs:     digital,
		Calibration: lm.calibration,
		Thermometer: lm.monitor,
		Machines:    lm.machines,
		Controller:  lm.controller,
		Upgrade:     bolt,
		Reset:       lm.requestReset,
		Observer:    lm.metrics,
	}, cfg.Interpreter, logger)

	lm.telnet = telnet.NewServer(fmt.Sprintf(":%d", cfg.Server.TelnetPort), lm.dispatcher, lm.metrics, logger)
	lm.fanout.Add("telnet", lm.telnet)

	if cfg.Console.Port != "" {
		lm.console = console.New(console.Config{
			Port:     cfg.Console.Port,
			BaudRate: cfg.Console.BaudRate,
		}, lm.dispatcher, logger)
		lm.fanout.Add("console", lm.console)
	}

	if cfg.Auth.Enabled {
		lm.auth, err = auth.NewService(cfg.Auth, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to configure REST auth: %w", err)
		}
	} else {
		logger.Warn("REST control routes are unauthenticated; set auth.enabled to protect them")
	}

	return lm, nil
}

// Start starts the entire system
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting Tekdaqc data acquisition core")
	lm.startedAt = time.Now()

	ctx, lm.cancel = context.WithCancel(ctx)

	lm.bg.Add(1)
	go func() {
		defer lm.bg.Done()
		lm.wsHub.Run(ctx)
	}()

	if err := lm.monitor.Start(ctx); err != nil {
		lm.setError(err)
		return fmt.Errorf("failed to start temperature monitor: %w", err)
	}

	lm.connectArchive(ctx)
	lm.connectMQTT()

	if err := lm.telnet.Start(ctx); err != nil {
		lm.setError(err)
		return fmt.Errorf("failed to start command server: %w", err)
	}

	if lm.console != nil {
		lm.bg.Add(1)
		go func() {
			defer lm.bg.Done()
			lm.runConsole(ctx)
		}()
	}

	if err := lm.startGRPCServer(); err != nil {
		lm.setError(err)
		return fmt.Errorf("failed to start gRPC: %w", err)
	}

	if err := lm.startRESTServer(); err != nil {
		lm.setError(err)
		return fmt.Errorf("failed to start REST API: %w", err)
	}

	lm.setState(StateRunning)
	lm.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)

	lm.logger.Info("System started successfully",
		zap.Int("telnet_port", lm.config.Server.TelnetPort),
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Bool("archive_enabled", lm.archive != nil),
		zap.Bool("mqtt_enabled", lm.mqtt != nil),
		zap.Bool("console_enabled", lm.console != nil))

	return nil
}

// connectArchive attaches the Postgres sample archive. A database that is
// configured but unreachable is logged and skipped.
func (lm *LifecycleManager) connectArchive(ctx context.Context) {
	if !lm.config.Database.Enabled() {
		return
	}
	pg, err := storage.NewPostgresClient(ctx, lm.config.Database)
	if err != nil {
		lm.logger.Warn("Sample archive unavailable", zap.Error(err))
		return
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		lm.logger.Warn("Sample archive unavailable", zap.Error(err))
		pg.Close()
		return
	}
	lm.archive = pg
	lm.fanout.Add("archive", pg)
	lm.logger.Info("Sample archive connected", zap.String("host", lm.config.Database.Host))
}

func (lm *LifecycleManager) connectMQTT() {
	if lm.config.MQTT.Broker == "" {
		return
	}
	opts := publish.Options{
		Broker:      lm.config.MQTT.Broker,
		ClientID:    lm.config.MQTT.ClientID,
		TopicPrefix: lm.config.MQTT.TopicPrefix,
		QoS:         lm.config.MQTT.QoS,
	}
	client, err := publish.Connect(opts, lm.logger)
	if err != nil {
		lm.logger.Warn("MQTT publisher unavailable", zap.Error(err))
		return
	}
	lm.mqtt = client
	lm.fanout.Add("mqtt", publish.NewPublisher(client, opts, lm.logger))
}

// runConsole serves the serial console, reopening the port after a
// disconnect until ctx ends.
func (lm *LifecycleManager) runConsole(ctx context.Context) {
	for {
		err := lm.console.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, interpreter.ErrSessionClosed) {
			lm.logger.Warn("Serial console stopped", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(consoleRetry):
		}
	}
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)
		if lm.health != nil {
			lm.health.Shutdown()
		}

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown has finished.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 4)

	// Sampling first so no reading reaches a closed sink.
	for _, mc := range []*sampling.Machine{lm.machines.Analog, lm.machines.Inputs, lm.machines.Outputs} {
		mc.Halt()
	}
	lm.monitor.Stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := lm.telnet.Stop(); err != nil && !errors.Is(err, net.ErrClosed) {
			errChan <- fmt.Errorf("command server stop failed: %w", err)
		}
	}()

	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			lm.grpcServer.GracefulStop()
		}()
	}

	if lm.mqtt != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.mqtt.Disconnect(250)
		}()
	}

	if lm.cancel != nil {
		lm.cancel()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		lm.bg.Wait()
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		lm.logger.Info("Graceful shutdown completed")
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		err = fmt.Errorf("shutdown timeout exceeded")
	case err = <-errChan:
	}

	if lm.archive != nil {
		lm.archive.Close()
	}
	return err
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer()
	lm.health = health.NewServer()
	lm.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(lm.grpcServer, lm.health)

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.Int("port", lm.config.Server.GRPCPort),
			zap.String("services", healthpb.Health_ServiceDesc.ServiceName))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.wsHub, lm.metrics.Handler(), lm.auth, lm.logger)
	return lm.restServer.Start()
}

// requestReset is called by the interpreter once UPGRADE has closed its
// session. The host process exits so the bootloader can take over.
func (lm *LifecycleManager) requestReset() {
	lm.resetOnce.Do(func() {
		lm.logger.Warn("Reset requested, restarting into bootloader")
		lm.setState(StateResetting)
		if lm.health != nil {
			lm.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
		}
		close(lm.reset)
	})
}

// ResetRequested is closed when a command asked for a restart.
func (lm *LifecycleManager) ResetRequested() <-chan struct{} {
	return lm.reset
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Debug("Ignoring system state change", zap.Error(err))
		return
	}
	lm.currentState = state
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))
	lm.setState(StateError)
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	status := interfaces.SystemStatus{
		State:            lm.State().String(),
		CommandState:     lm.controller.State(),
		StartedAt:        lm.startedAt,
		CalibrationValid: lm.calibration.IsCalibrationValid(),
		Temperature:      lm.monitor.Temperature(),
		Sessions:         lm.telnet.Sessions(),
	}
	if !lm.startedAt.IsZero() {
		status.Uptime = strings.TrimSpace(humanize.RelTime(lm.startedAt, time.Now(), "", ""))
	}
	return status
}

func (lm *LifecycleManager) Board() *board.Board {
	return lm.board
}

func (lm *LifecycleManager) Banks() *channel.Banks {
	return lm.banks
}

func (lm *LifecycleManager) Dispatcher() *interpreter.Dispatcher {
	return lm.dispatcher
}

func (lm *LifecycleManager) Controller() *machine.Controller {
	return lm.controller
}

func (lm *LifecycleManager) Calibration() *calibration.Engine {
	return lm.calibration
}

func (lm *LifecycleManager) Thermometer() interfaces.Thermometer {
	return lm.monitor
}

func (lm *LifecycleManager) Archive() *storage.PostgresClient {
	return lm.archive
}

func (lm *LifecycleManager) Metrics() *metrics.Metrics {
	return lm.metrics
}

func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}
