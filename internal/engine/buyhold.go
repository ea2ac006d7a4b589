package engine

import (
	"math"

	"github.com/bobmcallan/strata/internal/models"
)

// BuyAndHold buys as many shares as possible on the first bar and
// liquidates the position when the run finishes.
type BuyAndHold struct {
	bought  bool
	lastBar *models.MarketBar
}

// NewBuyAndHold creates a fresh buy-and-hold strategy instance.
func NewBuyAndHold() *BuyAndHold {
	return &BuyAndHold{}
}

func (s *BuyAndHold) Name() string {
	return "BuyAndHold"
}

func (s *BuyAndHold) OnBar(bar *models.MarketBar, p *Portfolio) {
	s.lastBar = bar
	if s.bought || p.Cash <= 0 || bar.Close <= 0 {
		return
	}

	quantity := int(math.Floor(p.Cash / bar.Close))
	if quantity > 0 {
		p.Buy(bar, quantity)
		s.bought = true
	}
}

func (s *BuyAndHold) OnFinish(p *Portfolio) {
	if p.Shares > 0 && s.lastBar != nil {
		p.Sell(s.lastBar, p.Shares)
	}
}
