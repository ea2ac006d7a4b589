package engine

import (
	"fmt"
	"math"

	"github.com/bobmcallan/strata/internal/models"
)

// MACrossover trades the moving-average crossover signal: all-in on a
// golden cross (short MA crossing above long MA), all-out on a death cross.
type MACrossover struct {
	shortPeriod int
	longPeriod  int

	closes      []float64
	prevShortMA float64
	prevLongMA  float64
	hasPrev     bool
}

// NewMACrossover creates a crossover strategy. The short period must be
// strictly less than the long period.
func NewMACrossover(shortPeriod, longPeriod int) (*MACrossover, error) {
	if shortPeriod <= 0 || longPeriod <= 0 {
		return nil, fmt.Errorf("moving average periods must be positive (short=%d, long=%d)", shortPeriod, longPeriod)
	}
	if shortPeriod >= longPeriod {
		return nil, fmt.Errorf("short period %d must be less than long period %d", shortPeriod, longPeriod)
	}
	return &MACrossover{shortPeriod: shortPeriod, longPeriod: longPeriod}, nil
}

func (s *MACrossover) Name() string {
	return fmt.Sprintf("MovingAverageCrossover(%d,%d)", s.shortPeriod, s.longPeriod)
}

func (s *MACrossover) OnBar(bar *models.MarketBar, p *Portfolio) {
	s.closes = append(s.closes, bar.Close)
	if len(s.closes) < s.longPeriod {
		return
	}

	shortMA := mean(s.closes[len(s.closes)-s.shortPeriod:])
	longMA := mean(s.closes[len(s.closes)-s.longPeriod:])

	if s.hasPrev {
		goldenCross := s.prevShortMA < s.prevLongMA && shortMA > longMA
		deathCross := s.prevShortMA > s.prevLongMA && shortMA < longMA

		if goldenCross && bar.Close > 0 {
			if quantity := int(math.Floor(p.Cash / bar.Close)); quantity > 0 {
				p.Buy(bar, quantity)
			}
		} else if deathCross && p.Shares > 0 {
			p.Sell(bar, p.Shares)
		}
	}

	s.prevShortMA = shortMA
	s.prevLongMA = longMA
	s.hasPrev = true
}

func (s *MACrossover) OnFinish(_ *Portfolio) {}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
