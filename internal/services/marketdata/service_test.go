package marketdata

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/strata/internal/common"
	"github.com/bobmcallan/strata/internal/models"
	"github.com/bobmcallan/strata/internal/storage"
)

func newTestService(t *testing.T, fallback bool) (*Service, *storage.Manager) {
	t.Helper()
	cfg := common.NewDefaultConfig()
	cfg.Storage.Path = t.TempDir()
	manager, err := storage.NewManager(common.NewSilentLogger(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	svc := NewService(manager.MarketData(), common.NewSilentLogger(), common.MarketDataConfig{
		CacheTTL:          "1m",
		SyntheticFallback: fallback,
	})
	return svc, manager
}

func TestGenerateSynthetic_Deterministic(t *testing.T) {
	first, err := GenerateSynthetic("AAPL", "2024-01-01", "2024-03-31")
	require.NoError(t, err)
	second, err := GenerateSynthetic("AAPL", "2024-01-01", "2024-03-31")
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Date, second[i].Date)
		assert.Equal(t, first[i].Close, second[i].Close)
		assert.Equal(t, first[i].Volume, second[i].Volume)
	}
}

func TestGenerateSynthetic_SkipsWeekends(t *testing.T) {
	// 2024-01-06 is a Saturday, 2024-01-07 a Sunday.
	bars, err := GenerateSynthetic("TEST", "2024-01-05", "2024-01-08")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "2024-01-05", bars[0].Date)
	assert.Equal(t, "2024-01-08", bars[1].Date)

	for _, bar := range bars {
		assert.Equal(t, "synthetic", bar.Source)
		assert.Positive(t, bar.Close)
		assert.GreaterOrEqual(t, bar.Volume, int64(1000000))
		assert.Less(t, bar.Volume, int64(1500000))
	}
}

func TestGenerateSynthetic_SymbolsDiverge(t *testing.T) {
	a, err := GenerateSynthetic("AAPL", "2024-01-01", "2024-01-31")
	require.NoError(t, err)
	b, err := GenerateSynthetic("MSFT", "2024-01-01", "2024-01-31")
	require.NoError(t, err)

	require.Equal(t, len(a), len(b))
	same := true
	for i := range a {
		if a[i].Close != b[i].Close {
			same = false
			break
		}
	}
	assert.False(t, same, "different symbols should get different price paths")
}

func TestGenerateSynthetic_InvalidDates(t *testing.T) {
	_, err := GenerateSynthetic("AAPL", "not-a-date", "2024-01-31")
	assert.Error(t, err)
	_, err = GenerateSynthetic("AAPL", "2024-01-01", "31/01/2024")
	assert.Error(t, err)
}

func TestGetBars_SyntheticFallbackAndCache(t *testing.T) {
	svc, _ := newTestService(t, true)
	ctx := context.Background()

	bars, err := svc.GetBars(ctx, "NVDA", "2024-02-01", "2024-02-29")
	require.NoError(t, err)
	require.NotEmpty(t, bars)
	assert.Equal(t, "synthetic", bars[0].Source)

	// Second read hits the cache and returns the identical slice.
	again, err := svc.GetBars(ctx, "NVDA", "2024-02-01", "2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, len(bars), len(again))
	assert.Equal(t, bars[0].Close, again[0].Close)
}

func TestGetBars_NoFallbackReturnsEmpty(t *testing.T) {
	svc, _ := newTestService(t, false)

	bars, err := svc.GetBars(context.Background(), "NVDA", "2024-02-01", "2024-02-29")
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestGetBars_StoredDataWins(t *testing.T) {
	svc, manager := newTestService(t, true)
	ctx := context.Background()

	stored := []*models.MarketBar{
		{Key: models.BarKey("IBM", "2024-01-02"), Symbol: "IBM", Date: "2024-01-02", Close: 160, Source: "csv"},
		{Key: models.BarKey("IBM", "2024-01-03"), Symbol: "IBM", Date: "2024-01-03", Close: 161, Source: "csv"},
	}
	require.NoError(t, manager.MarketData().PutBars(ctx, stored))

	bars, err := svc.GetBars(ctx, "IBM", "2024-01-01", "2024-01-31")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "csv", bars[0].Source)
}

func TestIngestCSVDir(t *testing.T) {
	svc, manager := newTestService(t, false)
	ctx := context.Background()

	dir := t.TempDir()
	csv := "date,open,high,low,close,volume\n" +
		"2024-01-02,100,105,99,104,123456\n" +
		"not-a-date,1,2,3,4,5\n" +
		"2024-01-03,104,106,103,105,98765\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ibm.csv"), []byte(csv), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	count, err := svc.IngestCSVDir(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, count) // malformed row skipped

	bars, err := manager.MarketData().GetRange(ctx, "IBM", "2024-01-01", "2024-01-31")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "IBM", bars[0].Symbol)
	assert.InDelta(t, 104, bars[0].Close, 0.001)
	assert.Equal(t, int64(123456), bars[0].Volume)
	assert.Equal(t, "csv", bars[0].Source)
	assert.WithinDuration(t, time.Now(), bars[0].LoadedAt, time.Minute)
}

func TestIngestCSVDir_MissingDir(t *testing.T) {
	svc, _ := newTestService(t, false)
	_, err := svc.IngestCSVDir(context.Background(), "/nonexistent/path")
	assert.Error(t, err)
}
