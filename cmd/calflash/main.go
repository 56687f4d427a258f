// Command calflash programs a factory calibration file into the board's
// calibration region.
package main

import (
	"flag"
	"log"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/calibration"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/config"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/logging"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/storage"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the config file")
	input := flag.String("file", "", "calibration YAML produced by the test rig")
	flag.Parse()

	if *input == "" {
		log.Fatal("missing -file")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	data, err := calibration.LoadFile(*input)
	if err != nil {
		logger.Fatal("Failed to load calibration file", zap.Error(err))
	}

	bolt, err := storage.OpenBolt(cfg.Storage.BoltPath, logger)
	if err != nil {
		logger.Fatal("Failed to open board storage", zap.Error(err))
	}
	defer bolt.Close()

	region, err := bolt.Region(cfg.Storage.RegionSize)
	if err != nil {
		logger.Fatal("Failed to attach calibration region", zap.Error(err))
	}
	store := calibration.NewStore(region, logger)
	if err := store.Init(); err != nil {
		logger.Fatal("Failed to load calibration header", zap.Error(err))
	}

	if err := calibration.Program(store, data, logger); err != nil {
		logger.Fatal("Failed to program calibration", zap.Error(err))
	}

	stats := region.Stats()
	logger.Info("Calibration region written",
		zap.String("serial", data.Serial),
		zap.Int("gain_entries", len(data.Gains)),
		zap.String("region", humanize.Bytes(uint64(region.Size()))),
		zap.Int("erases", stats.Erases),
		zap.Int("words_programmed", stats.WordPrograms))
}
