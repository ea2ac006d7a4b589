package badger

import (
	"context"
	"fmt"
	"sort"

	"github.com/timshannon/badgerhold/v4"

	"github.com/bobmcallan/strata/internal/common"
	"github.com/bobmcallan/strata/internal/interfaces"
	"github.com/bobmcallan/strata/internal/models"
)

// marketStore persists daily OHLCV bars keyed by SYMBOL:YYYY-MM-DD.
type marketStore struct {
	store  *Store
	logger *common.Logger
}

// NewMarketStore creates a MarketDataStore backed by the shared badger store.
func NewMarketStore(store *Store, logger *common.Logger) interfaces.MarketDataStore {
	return &marketStore{store: store, logger: logger}
}

func (s *marketStore) PutBars(_ context.Context, bars []*models.MarketBar) error {
	for _, bar := range bars {
		if bar.Key == "" {
			bar.Key = models.BarKey(bar.Symbol, bar.Date)
		}
		if err := s.store.db.Upsert(bar.Key, bar); err != nil {
			return fmt.Errorf("failed to upsert bar %s: %w", bar.Key, err)
		}
	}
	return nil
}

// GetRange returns bars in [start, end] sorted by date. Dates are
// YYYY-MM-DD strings, so lexicographic comparison is chronological.
func (s *marketStore) GetRange(_ context.Context, symbol, start, end string) ([]*models.MarketBar, error) {
	var all []*models.MarketBar
	err := s.store.db.Find(&all, badgerhold.Where("Symbol").Eq(symbol).Index("Symbol"))
	if err != nil {
		return nil, fmt.Errorf("failed to load bars for %s: %w", symbol, err)
	}

	bars := make([]*models.MarketBar, 0, len(all))
	for _, bar := range all {
		if bar.Date >= start && bar.Date <= end {
			bars = append(bars, bar)
		}
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date < bars[j].Date })
	return bars, nil
}

func (s *marketStore) CountForSymbol(_ context.Context, symbol string) (int, error) {
	count, err := s.store.db.Count(&models.MarketBar{}, badgerhold.Where("Symbol").Eq(symbol).Index("Symbol"))
	if err != nil {
		return 0, fmt.Errorf("failed to count bars for %s: %w", symbol, err)
	}
	return int(count), nil
}
