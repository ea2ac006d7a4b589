package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bobmcallan/strata/internal/models"
)

// IngestCSVDir bulk-loads SYMBOL.csv files from dir into the store. Each
// file carries a date,open,high,low,close,volume header; the symbol comes
// from the file name. Malformed rows are logged and skipped rather than
// aborting the file. Returns the number of bars stored.
func (s *Service) IngestCSVDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read csv directory %s: %w", dir, err)
	}

	total := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".csv") {
			continue
		}

		symbol := strings.ToUpper(strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())))
		count, err := s.ingestCSVFile(ctx, filepath.Join(dir, entry.Name()), symbol)
		if err != nil {
			s.logger.Warn().Str("file", entry.Name()).Err(err).Msg("Failed to ingest CSV file")
			continue
		}

		s.logger.Info().Str("symbol", symbol).Int("bars", count).Msg("Ingested market data CSV")
		total += count
	}

	if total > 0 {
		s.InvalidateCache()
	}
	return total, nil
}

func (s *Service) ingestCSVFile(ctx context.Context, path, symbol string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return 0, fmt.Errorf("failed to parse csv: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	// Skip a header row when the first cell is not a date.
	rows := records
	if _, err := time.Parse("2006-01-02", records[0][0]); err != nil {
		rows = records[1:]
	}

	loadedAt := time.Now()
	bars := make([]*models.MarketBar, 0, len(rows))
	for i, row := range rows {
		bar, err := parseCSVRow(row, symbol, loadedAt)
		if err != nil {
			s.logger.Warn().
				Str("symbol", symbol).
				Int("row", i+1).
				Err(err).
				Msg("Skipping malformed CSV row")
			continue
		}
		bars = append(bars, bar)
	}

	if len(bars) == 0 {
		return 0, nil
	}
	if err := s.store.PutBars(ctx, bars); err != nil {
		return 0, err
	}
	return len(bars), nil
}

func parseCSVRow(row []string, symbol string, loadedAt time.Time) (*models.MarketBar, error) {
	if len(row) < 6 {
		return nil, fmt.Errorf("expected 6 columns, got %d", len(row))
	}

	date := strings.TrimSpace(row[0])
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, fmt.Errorf("invalid date %q", date)
	}

	prices := make([]float64, 4)
	for i := 0; i < 4; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[i+1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid price in column %d: %q", i+1, row[i+1])
		}
		prices[i] = v
	}

	volume, err := strconv.ParseInt(strings.TrimSpace(row[5]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid volume %q", row[5])
	}

	return &models.MarketBar{
		Key:      models.BarKey(symbol, date),
		Symbol:   symbol,
		Date:     date,
		Open:     prices[0],
		High:     prices[1],
		Low:      prices[2],
		Close:    prices[3],
		Volume:   volume,
		Source:   "csv",
		LoadedAt: loadedAt,
	}, nil
}
