// Package storage provides the top-level StorageManager that wires the
// entity stores and the dispatch queue onto one embedded badger database.
package storage

import (
	"fmt"

	"github.com/bobmcallan/strata/internal/common"
	"github.com/bobmcallan/strata/internal/interfaces"
	"github.com/bobmcallan/strata/internal/storage/badger"
)

// Manager implements interfaces.StorageManager over a single badger store.
type Manager struct {
	store      *badger.Store
	jobs       interfaces.JobStore
	results    interfaces.ResultStore
	sweeps     interfaces.SweepStore
	marketData interfaces.MarketDataStore
	queue      interfaces.DispatchQueue
	dataPath   string
	logger     *common.Logger
}

// NewManager opens the embedded store and builds the entity stores on it.
func NewManager(logger *common.Logger, config *common.Config) (*Manager, error) {
	store, err := badger.NewStore(logger, config.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	logger.Info().
		Str("path", config.Storage.Path).
		Msg("Storage manager initialized")

	return &Manager{
		store:      store,
		jobs:       badger.NewJobStore(store, logger),
		results:    badger.NewResultStore(store, logger),
		sweeps:     badger.NewSweepStore(store, logger),
		marketData: badger.NewMarketStore(store, logger),
		queue:      badger.NewDispatchQueue(store, logger),
		dataPath:   config.Storage.Path,
		logger:     logger,
	}, nil
}

func (m *Manager) Jobs() interfaces.JobStore {
	return m.jobs
}

func (m *Manager) Results() interfaces.ResultStore {
	return m.results
}

func (m *Manager) Sweeps() interfaces.SweepStore {
	return m.sweeps
}

func (m *Manager) MarketData() interfaces.MarketDataStore {
	return m.marketData
}

func (m *Manager) Queue() interfaces.DispatchQueue {
	return m.queue
}

func (m *Manager) DataPath() string {
	return m.dataPath
}

func (m *Manager) Close() error {
	return m.store.Close()
}

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)
