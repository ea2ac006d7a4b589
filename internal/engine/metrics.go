package engine

import (
	"math"

	"github.com/bobmcallan/strata/internal/models"
)

// tradingDaysPerYear is the annualization base for CAGR, volatility, and
// the risk-adjusted ratios.
const tradingDaysPerYear = 252

// sortinoNoDownside is reported when a run has returns but no downside
// deviation at all, so the ratio would otherwise divide by zero.
const sortinoNoDownside = 999.9999

func dailyReturns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] > 0 {
			returns = append(returns, (values[i]-values[i-1])/values[i-1])
		}
	}
	return returns
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := meanOf(values)
	sumSq := 0.0
	for _, v := range values {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}

// totalReturn is the simple percentage gain over initial capital.
func totalReturn(initialCapital, finalValue float64) float64 {
	if initialCapital == 0 {
		return 0
	}
	return (finalValue - initialCapital) / initialCapital * 100
}

// cagr is the compound annual growth rate in percent, with trading days
// converted to years at 252/year. Runs shorter than ~2 trading days report
// zero; a wiped-out portfolio reports -100.
func cagr(initialCapital, finalValue float64, tradingDays int) float64 {
	if initialCapital <= 0 || tradingDays <= 0 {
		return 0
	}
	if finalValue <= 0 {
		return -100
	}

	years := float64(tradingDays) / tradingDaysPerYear
	if years < 0.01 {
		return 0
	}
	return (math.Pow(finalValue/initialCapital, 1/years) - 1) * 100
}

// annualizedVolatility is the standard deviation of daily returns scaled
// by sqrt(252), in percent.
func annualizedVolatility(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	return stdDev(returns) * math.Sqrt(tradingDaysPerYear) * 100
}

// sharpeRatio assumes a zero risk-free rate: mean daily return over its
// standard deviation, annualized.
func sharpeRatio(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sd := stdDev(returns)
	if sd == 0 {
		return 0
	}
	return meanOf(returns) / sd * math.Sqrt(tradingDaysPerYear)
}

// sortinoRatio penalizes only downside deviation. A run with no negative
// returns reports the sentinel instead of dividing by zero.
func sortinoRatio(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}

	sumSqDown := 0.0
	downCount := 0
	for _, r := range returns {
		if r < 0 {
			sumSqDown += r * r
			downCount++
		}
	}
	if downCount == 0 {
		return sortinoNoDownside
	}
	// The downside variance averages over the downside returns only, not
	// the full sample.
	downside := math.Sqrt(sumSqDown / float64(downCount))
	if downside == 0 {
		return 0
	}
	return meanOf(returns) / downside * math.Sqrt(tradingDaysPerYear)
}

// maxDrawdown is the deepest peak-to-trough decline as a negative percent;
// zero when the curve never declines.
func maxDrawdown(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	worst := 0.0
	peak := values[0]
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			drawdown := (peak - v) / peak * 100
			if drawdown > worst {
				worst = drawdown
			}
		}
	}
	return -worst
}

// winRate is the fraction of BUY→SELL round trips closed at a profit.
func winRate(trades []models.Trade) float64 {
	wins := 0
	roundTrips := 0
	for i := 0; i+1 < len(trades); i++ {
		if trades[i].Side == models.TradeSideBuy && trades[i+1].Side == models.TradeSideSell {
			roundTrips++
			if (trades[i+1].Price-trades[i].Price)*float64(trades[i].Quantity) > 0 {
				wins++
			}
		}
	}
	if roundTrips == 0 {
		return 0
	}
	return float64(wins) / float64(roundTrips)
}
