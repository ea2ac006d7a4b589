package models

import (
	"encoding/json"
	"strings"
	"time"
)

// BacktestResult holds the metrics produced by one completed execution
// attempt. Retries append rows rather than overwrite; the newest row for a
// job (highest ID) is the authoritative one.
type BacktestResult struct {
	ID           uint64          `json:"result_id" badgerhold:"key"`
	JobID        uint64          `json:"job_id" badgerhold:"index"`
	TotalReturn  float64         `json:"total_return"` // percent
	CAGR         float64         `json:"cagr"`         // percent
	Volatility   float64         `json:"volatility"`   // annualized, percent
	SharpeRatio  float64         `json:"sharpe_ratio"`
	SortinoRatio float64         `json:"sortino_ratio"`
	MaxDrawdown  float64         `json:"max_drawdown"` // negative percent, 0 when no drawdown
	WinRate      float64         `json:"win_rate"`     // fraction of profitable round-trips, 0..1
	ExecutionMS  int64           `json:"execution_ms"`
	Trades       json.RawMessage `json:"trades,omitempty"`
	EquityCurve  json.RawMessage `json:"equity_curve,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// MetricValue returns the value used to rank this result under the named
// optimization metric. Higher is always better for ranking purposes:
// MaxDrawdown is stored as a negative percentage, so maximizing the raw
// value selects the shallowest drawdown. Unknown names fall back to Sharpe.
func (r *BacktestResult) MetricValue(metric string) float64 {
	switch strings.ToLower(metric) {
	case "totalreturn":
		return r.TotalReturn
	case "cagr":
		return r.CAGR
	case "sharperatio":
		return r.SharpeRatio
	case "sortinoratio":
		return r.SortinoRatio
	case "maxdrawdown":
		return r.MaxDrawdown
	case "winrate":
		return r.WinRate
	default:
		return r.SharpeRatio
	}
}

// Trade side markers.
const (
	TradeSideBuy  = "BUY"
	TradeSideSell = "SELL"
)

// Trade is a single fill recorded by the portfolio during a run.
type Trade struct {
	Date       string  `json:"date"` // YYYY-MM-DD
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Price      float64 `json:"price"`
	Quantity   int     `json:"quantity"`
	Commission float64 `json:"commission"`
}

// TotalValue returns the cash value of the fill including commission.
func (t *Trade) TotalValue() float64 {
	return t.Price*float64(t.Quantity) + t.Commission
}

// EquityPoint is one sample of total portfolio value over a run.
type EquityPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}
