// Package engine is the backtest computation kernel: a pure, single-threaded
// run of one strategy over one chronological bar series. It has no knowledge
// of jobs, queues, or storage.
package engine

import (
	"github.com/bobmcallan/strata/internal/models"
)

// Strategy receives bars in chronological order and trades against the
// portfolio. Implementations are stateful and single-use: one instance per
// backtest run.
type Strategy interface {
	// Name identifies the strategy, including its effective parameters.
	Name() string

	// OnBar is called once per bar in chronological order.
	OnBar(bar *models.MarketBar, p *Portfolio)

	// OnFinish is called after the last bar.
	OnFinish(p *Portfolio)
}

// Portfolio tracks cash, shares, and the trade log during a single run.
// It is owned by that run and is not safe for concurrent use.
type Portfolio struct {
	Cash           float64
	Shares         int
	InitialCapital float64
	Trades         []models.Trade
}

// NewPortfolio creates a portfolio holding only cash.
func NewPortfolio(initialCapital float64) *Portfolio {
	return &Portfolio{
		Cash:           initialCapital,
		InitialCapital: initialCapital,
	}
}

// Buy fills a buy order at the bar's close. Orders the portfolio cannot
// afford are ignored.
func (p *Portfolio) Buy(bar *models.MarketBar, quantity int) {
	if quantity <= 0 {
		return
	}
	cost := bar.Close * float64(quantity)
	if cost > p.Cash {
		return
	}

	p.Cash -= cost
	p.Shares += quantity
	p.Trades = append(p.Trades, models.Trade{
		Date:     bar.Date,
		Symbol:   bar.Symbol,
		Side:     models.TradeSideBuy,
		Price:    bar.Close,
		Quantity: quantity,
	})
}

// Sell fills a sell order at the bar's close. Orders exceeding the held
// position are ignored.
func (p *Portfolio) Sell(bar *models.MarketBar, quantity int) {
	if quantity <= 0 || quantity > p.Shares {
		return
	}

	p.Cash += bar.Close * float64(quantity)
	p.Shares -= quantity
	p.Trades = append(p.Trades, models.Trade{
		Date:     bar.Date,
		Symbol:   bar.Symbol,
		Side:     models.TradeSideSell,
		Price:    bar.Close,
		Quantity: quantity,
	})
}

// Value returns total portfolio value at the given price.
func (p *Portfolio) Value(price float64) float64 {
	return p.Cash + price*float64(p.Shares)
}
