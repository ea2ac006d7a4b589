// Package marketdata serves historical daily bars to the executor with a
// TTL cache over the store and an optional deterministic synthetic fallback.
package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bobmcallan/strata/internal/common"
	"github.com/bobmcallan/strata/internal/interfaces"
	"github.com/bobmcallan/strata/internal/models"
)

// Service implements interfaces.MarketDataService.
type Service struct {
	store  interfaces.MarketDataStore
	logger *common.Logger

	ttl               time.Duration
	syntheticFallback bool

	mu    sync.RWMutex
	cache map[string]*cacheEntry
}

type cacheEntry struct {
	bars      []*models.MarketBar
	expiresAt time.Time
}

// NewService creates the market-data gateway.
func NewService(store interfaces.MarketDataStore, logger *common.Logger, cfg common.MarketDataConfig) *Service {
	return &Service{
		store:             store,
		logger:            logger,
		ttl:               cfg.GetCacheTTL(),
		syntheticFallback: cfg.SyntheticFallback,
		cache:             make(map[string]*cacheEntry),
	}
}

// GetBars returns the daily bars for the closed interval [start, end].
// Results are cached by the exact (symbol, start, end) triple; partial
// range reuse is deliberately not attempted. When the store has nothing
// and the synthetic fallback is enabled, a deterministic series is
// generated so repeated requests stay reproducible.
func (s *Service) GetBars(ctx context.Context, symbol, start, end string) ([]*models.MarketBar, error) {
	key := fmt.Sprintf("%s:%s:%s", symbol, start, end)

	s.mu.RLock()
	if entry, ok := s.cache[key]; ok && time.Now().Before(entry.expiresAt) {
		bars := entry.bars
		s.mu.RUnlock()
		return bars, nil
	}
	s.mu.RUnlock()

	bars, err := s.store.GetRange(ctx, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load market data: %w", err)
	}

	if len(bars) == 0 && s.syntheticFallback {
		bars, err = GenerateSynthetic(symbol, start, end)
		if err != nil {
			return nil, err
		}
		s.logger.Warn().
			Str("symbol", symbol).
			Str("start", start).
			Str("end", end).
			Int("bars", len(bars)).
			Msg("No stored market data, generated synthetic series")
	} else {
		s.logger.Debug().
			Str("symbol", symbol).
			Int("bars", len(bars)).
			Msg("Loaded market data from store")
	}

	s.mu.Lock()
	s.cache[key] = &cacheEntry{bars: bars, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()

	return bars, nil
}

// InvalidateCache drops every cached series. Used after bulk ingestion.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	s.cache = make(map[string]*cacheEntry)
	s.mu.Unlock()
}
