package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBacktestResult_MetricValue(t *testing.T) {
	r := &BacktestResult{
		TotalReturn:  42.5,
		CAGR:         12.3,
		SharpeRatio:  1.8,
		SortinoRatio: 2.4,
		MaxDrawdown:  -15.2,
		WinRate:      0.6,
	}

	tests := []struct {
		metric string
		want   float64
	}{
		{"totalReturn", 42.5},
		{"cagr", 12.3},
		{"sharpeRatio", 1.8},
		{"sortinoRatio", 2.4},
		{"winRate", 0.6},
		// Drawdown is stored negative, so a max-comparison over the raw
		// value prefers the shallowest drawdown.
		{"maxDrawdown", -15.2},
		{"MAXDRAWDOWN", -15.2},
		{"unknownMetric", 1.8},
		{"", 1.8},
	}

	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			assert.Equal(t, tt.want, r.MetricValue(tt.metric))
		})
	}
}

func TestBacktestResult_MetricValue_DrawdownRanking(t *testing.T) {
	shallow := &BacktestResult{MaxDrawdown: -5.0}
	deep := &BacktestResult{MaxDrawdown: -25.0}

	assert.Greater(t, shallow.MetricValue("maxDrawdown"), deep.MetricValue("maxDrawdown"),
		"shallower drawdown must rank higher")
}

func TestTrade_TotalValue(t *testing.T) {
	trade := &Trade{Side: TradeSideBuy, Price: 101.5, Quantity: 10, Commission: 0}
	assert.InDelta(t, 1015.0, trade.TotalValue(), 1e-9)
}

func TestSweep_Finished(t *testing.T) {
	tests := []struct {
		name  string
		sweep Sweep
		want  bool
	}{
		{"empty", Sweep{}, false},
		{"in_progress", Sweep{TotalJobs: 4, CompletedJobs: 2, FailedJobs: 1}, false},
		{"all_completed", Sweep{TotalJobs: 4, CompletedJobs: 4}, true},
		{"mixed_terminal", Sweep{TotalJobs: 4, CompletedJobs: 3, FailedJobs: 1}, true},
		{"all_failed", Sweep{TotalJobs: 2, FailedJobs: 2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sweep.Finished())
		})
	}
}
