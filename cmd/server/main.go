package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/config"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/logging"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/storage"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/system"
	"go.uber.org/zap"
)

// exitReset tells the supervisor to restart the process into the bootloader.
const exitReset = 3

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Config loaded successfully", zap.String("path", *configPath))

	bolt, err := storage.OpenBolt(cfg.Storage.BoltPath, logger)
	if err != nil {
		logger.Fatal("Failed to open board storage", zap.Error(err))
	}
	defer bolt.Close()

	// A flag left by UPGRADE means the bootloader never took over.
	if pending, err := bolt.UpgradeFlag(); err != nil {
		logger.Warn("Failed to read upgrade flag", zap.Error(err))
	} else if pending {
		logger.Warn("Upgrade flag set at boot, no bootloader present, clearing")
		if err := bolt.ClearUpgradeFlag(); err != nil {
			logger.Error("Failed to clear upgrade flag", zap.Error(err))
		}
	}

	lifecycle, err := system.NewLifecycleManager(bolt, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build system", zap.Error(err))
	}

	if err := lifecycle.Start(context.Background()); err != nil {
		logger.Fatal("Failed to start system", zap.Error(err))
	}

	logger.Info("Tekdaqc started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	code := 0
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received")
	case <-lifecycle.ResetRequested():
		code = exitReset
	case <-lifecycle.Done():
		logger.Info("Shutdown requested over API")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := lifecycle.Shutdown(ctx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		code = 1
	}

	logger.Info("Tekdaqc stopped", zap.Int("exit_code", code))
	if code != 0 {
		logger.Sync()
		bolt.Close()
		os.Exit(code)
	}
}
