// Package app wires configuration, storage, services, and the worker pool
// into one application core shared by cmd/strata-server and the tests.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bobmcallan/strata/internal/common"
	"github.com/bobmcallan/strata/internal/engine"
	"github.com/bobmcallan/strata/internal/interfaces"
	"github.com/bobmcallan/strata/internal/metrics"
	"github.com/bobmcallan/strata/internal/services/backtest"
	"github.com/bobmcallan/strata/internal/services/jobmanager"
	"github.com/bobmcallan/strata/internal/services/marketdata"
	"github.com/bobmcallan/strata/internal/services/sweep"
	"github.com/bobmcallan/strata/internal/storage"
)

// App holds all initialized services and the job manager.
type App struct {
	Config     *common.Config
	Logger     *common.Logger
	Storage    interfaces.StorageManager
	Collector  *metrics.Collector
	MarketData interfaces.MarketDataService
	Backtests  interfaces.BacktestService
	Sweeps     interfaces.SweepService
	Executor   interfaces.Executor
	JobManager *jobmanager.Manager
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp initializes storage and all services. configPath may be empty, in
// which case STRATA_CONFIG, then strata.toml next to the binary, then
// config/strata.toml are tried in order.
func NewApp(configPath string) (*App, error) {
	binDir := getBinaryDir()

	if configPath == "" {
		configPath = os.Getenv("STRATA_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "strata.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/strata.toml" // fallback for development
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Resolve relative storage path to binary directory
	if config.Storage.Path != "" && !filepath.IsAbs(config.Storage.Path) {
		config.Storage.Path = filepath.Join(binDir, config.Storage.Path)
	}

	logger := common.NewLoggerFromConfig(config.Logging)
	collector := metrics.NewCollector()

	storageManager, err := storage.NewManager(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	marketService := marketdata.NewService(storageManager.MarketData(), logger, config.MarketData)
	if config.MarketData.CSVDir != "" {
		count, err := marketService.IngestCSVDir(context.Background(), config.MarketData.CSVDir)
		if err != nil {
			logger.Warn().Str("dir", config.MarketData.CSVDir).Err(err).Msg("CSV ingest failed")
		} else if count > 0 {
			logger.Info().Int("bars", count).Msg("Ingested CSV market data")
		}
	}

	registry := engine.NewRegistry(logger)
	executor := backtest.NewExecutor(storageManager, marketService, registry, logger, config.Workers.GetMaxAttempts())
	manager := jobmanager.NewManager(storageManager, executor, logger, collector, config.Workers, config.Janitor)

	hub := manager.Hub()
	backtestService := backtest.NewService(storageManager, logger, collector, hub)
	sweepService := sweep.NewCoordinator(storageManager, logger, collector, hub)

	executor.SetSweepService(sweepService)
	executor.SetCollector(collector)
	executor.SetEventPublisher(hub)
	manager.SetSweepService(sweepService)

	return &App{
		Config:     config,
		Logger:     logger,
		Storage:    storageManager,
		Collector:  collector,
		MarketData: marketService,
		Backtests:  backtestService,
		Sweeps:     sweepService,
		Executor:   executor,
		JobManager: manager,
	}, nil
}

// Start launches the worker pool, janitor, and event hub.
func (a *App) Start() {
	a.JobManager.Start()
}

// Close stops background work and releases storage.
func (a *App) Close() error {
	a.JobManager.Stop()
	return a.Storage.Close()
}
