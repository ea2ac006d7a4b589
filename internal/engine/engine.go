package engine

import (
	"fmt"

	"github.com/bobmcallan/strata/internal/models"
)

// Config describes one backtest run.
type Config struct {
	Strategy       Strategy
	Bars           []*models.MarketBar
	InitialCapital float64
}

// Result carries the metrics and artifacts of one completed run.
// Percentages are expressed as percent values (12.5 means 12.5%), the win
// rate as a 0..1 fraction, matching the persisted result row.
type Result struct {
	TotalReturn  float64
	CAGR         float64
	Volatility   float64
	SharpeRatio  float64
	SortinoRatio float64
	MaxDrawdown  float64
	WinRate      float64
	FinalValue   float64
	Trades       []models.Trade
	EquityCurve  []models.EquityPoint
}

// Run executes the strategy over the bar series and computes metrics.
// The bar series must be chronologically sorted.
func Run(cfg Config) (*Result, error) {
	if cfg.Strategy == nil {
		return nil, fmt.Errorf("strategy is required")
	}
	if len(cfg.Bars) == 0 {
		return nil, fmt.Errorf("no market data available for the requested period")
	}
	if cfg.InitialCapital <= 0 {
		return nil, fmt.Errorf("initial capital must be positive, got %v", cfg.InitialCapital)
	}

	portfolio := NewPortfolio(cfg.InitialCapital)

	values := make([]float64, 0, len(cfg.Bars))
	curve := make([]models.EquityPoint, 0, len(cfg.Bars))
	for _, bar := range cfg.Bars {
		cfg.Strategy.OnBar(bar, portfolio)

		value := portfolio.Value(bar.Close)
		values = append(values, value)
		curve = append(curve, models.EquityPoint{Date: bar.Date, Value: value})
	}

	cfg.Strategy.OnFinish(portfolio)

	finalValue := portfolio.Value(cfg.Bars[len(cfg.Bars)-1].Close)
	returns := dailyReturns(values)

	return &Result{
		TotalReturn:  totalReturn(cfg.InitialCapital, finalValue),
		CAGR:         cagr(cfg.InitialCapital, finalValue, len(cfg.Bars)),
		Volatility:   annualizedVolatility(returns),
		SharpeRatio:  sharpeRatio(returns),
		SortinoRatio: sortinoRatio(returns),
		MaxDrawdown:  maxDrawdown(values),
		WinRate:      winRate(portfolio.Trades),
		FinalValue:   finalValue,
		Trades:       portfolio.Trades,
		EquityCurve:  curve,
	}, nil
}
