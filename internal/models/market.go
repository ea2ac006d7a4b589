package models

import "time"

// MarketBar is one day of OHLCV data for a symbol. Unique by (symbol, date);
// the store key concatenates both so range scans by symbol stay cheap.
type MarketBar struct {
	Key      string    `json:"-" badgerhold:"key"` // SYMBOL:YYYY-MM-DD
	Symbol   string    `json:"symbol" badgerhold:"index"`
	Date     string    `json:"date"` // YYYY-MM-DD
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   int64     `json:"volume"`
	Source   string    `json:"source,omitempty"` // "csv" or "synthetic"
	LoadedAt time.Time `json:"loaded_at"`
}

// BarKey builds the store key for a symbol and date.
func BarKey(symbol, date string) string {
	return symbol + ":" + date
}
