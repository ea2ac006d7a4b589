package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseRequest() *BacktestRequest {
	return &BacktestRequest{
		Strategy:       "BuyAndHold",
		Symbol:         "AAPL",
		StartDate:      "2024-01-01",
		EndDate:        "2024-12-31",
		Parameters:     map[string]interface{}{},
		InitialCapital: 10000,
	}
}

func TestBacktestRequest_DedupKey_Deterministic(t *testing.T) {
	a := baseRequest()
	b := baseRequest()

	keyA, err := a.DedupKey()
	require.NoError(t, err)
	keyB, err := b.DedupKey()
	require.NoError(t, err)

	assert.Equal(t, keyA, keyB, "identical specs must hash identically")
	assert.Len(t, keyA, 64, "hex SHA-256 digest should be 64 chars")
}

func TestBacktestRequest_DedupKey_ParameterOrderIrrelevant(t *testing.T) {
	a := baseRequest()
	a.Parameters = map[string]interface{}{"shortPeriod": 10, "longPeriod": 50}
	b := baseRequest()
	b.Parameters = map[string]interface{}{"longPeriod": 50, "shortPeriod": 10}

	keyA, err := a.DedupKey()
	require.NoError(t, err)
	keyB, err := b.DedupKey()
	require.NoError(t, err)

	assert.Equal(t, keyA, keyB, "map insertion order must not affect the key")
}

func TestBacktestRequest_DedupKey_NilAndEmptyParamsEquivalent(t *testing.T) {
	a := baseRequest()
	a.Parameters = nil
	b := baseRequest()
	b.Parameters = map[string]interface{}{}

	keyA, err := a.DedupKey()
	require.NoError(t, err)
	keyB, err := b.DedupKey()
	require.NoError(t, err)

	assert.Equal(t, keyA, keyB)
}

func TestBacktestRequest_DedupKey_SensitiveToEveryField(t *testing.T) {
	base := baseRequest()
	baseKey, err := base.DedupKey()
	require.NoError(t, err)

	mutations := map[string]func(*BacktestRequest){
		"strategy":   func(r *BacktestRequest) { r.Strategy = "MovingAverageCrossover" },
		"symbol":     func(r *BacktestRequest) { r.Symbol = "MSFT" },
		"start":      func(r *BacktestRequest) { r.StartDate = "2024-01-02" },
		"end":        func(r *BacktestRequest) { r.EndDate = "2024-12-30" },
		"parameters": func(r *BacktestRequest) { r.Parameters = map[string]interface{}{"x": 1} },
		"capital":    func(r *BacktestRequest) { r.InitialCapital = 10000.5 },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			r := baseRequest()
			mutate(r)
			key, err := r.DedupKey()
			require.NoError(t, err)
			assert.NotEqual(t, baseKey, key, "changing %s must change the key", name)
		})
	}
}

func TestBacktestRequest_CanonicalSpec_CapitalFormatting(t *testing.T) {
	a := baseRequest()
	a.InitialCapital = 10000
	b := baseRequest()
	b.InitialCapital = 10000.0

	specA, err := a.CanonicalSpec()
	require.NoError(t, err)
	specB, err := b.CanonicalSpec()
	require.NoError(t, err)

	assert.Equal(t, specA, specB)
	assert.Contains(t, string(specA), `"capital":"10000"`, "capital should use minimal decimal formatting")
}

func TestBacktestRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*BacktestRequest)
		wantErr bool
	}{
		{"valid", func(r *BacktestRequest) {}, false},
		{"missing_strategy", func(r *BacktestRequest) { r.Strategy = "" }, true},
		{"missing_symbol", func(r *BacktestRequest) { r.Symbol = "" }, true},
		{"missing_start", func(r *BacktestRequest) { r.StartDate = "" }, true},
		{"malformed_start", func(r *BacktestRequest) { r.StartDate = "01/01/2024" }, true},
		{"malformed_end", func(r *BacktestRequest) { r.EndDate = "2024-13-40" }, true},
		{"zero_capital", func(r *BacktestRequest) { r.InitialCapital = 0 }, true},
		{"negative_capital", func(r *BacktestRequest) { r.InitialCapital = -100 }, true},
		{"nil_parameters", func(r *BacktestRequest) { r.Parameters = nil }, true},
		{"empty_parameters_ok", func(r *BacktestRequest) { r.Parameters = map[string]interface{}{} }, false},
		{"inverted_interval", func(r *BacktestRequest) {
			r.StartDate = "2024-12-31"
			r.EndDate = "2024-01-01"
		}, true},
		{"single_day_interval_ok", func(r *BacktestRequest) {
			r.StartDate = "2024-06-03"
			r.EndDate = "2024-06-03"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := baseRequest()
			tt.mutate(r)
			err := r.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSweepRequest_Validate_InvertedInterval(t *testing.T) {
	req := &SweepRequest{
		Name:               "grid",
		Symbol:             "AAPL",
		StartDate:          "2024-12-31",
		EndDate:            "2024-01-01",
		InitialCapital:     10000,
		OptimizationMetric: "sharpeRatio",
		Strategies: []SweepStrategyConfig{
			{Strategy: "BuyAndHold", ParameterCombinations: []map[string]interface{}{{}}},
		},
	}

	err := req.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "before start date")

	req.StartDate, req.EndDate = "2024-01-01", "2024-12-31"
	assert.NoError(t, req.Validate())
}

func TestSweepChildDedupKey(t *testing.T) {
	params := []byte(`{"longPeriod":50,"shortPeriod":10}`)

	key1 := SweepChildDedupKey(7, "MovingAverageCrossover", "AAPL", "2024-01-01", "2024-12-31", params, 10000)
	key2 := SweepChildDedupKey(7, "MovingAverageCrossover", "AAPL", "2024-01-01", "2024-12-31", params, 10000)
	otherSweep := SweepChildDedupKey(8, "MovingAverageCrossover", "AAPL", "2024-01-01", "2024-12-31", params, 10000)
	otherParams := SweepChildDedupKey(7, "MovingAverageCrossover", "AAPL", "2024-01-01", "2024-12-31", []byte(`{"longPeriod":60,"shortPeriod":10}`), 10000)

	assert.Equal(t, key1, key2)
	assert.True(t, strings.HasPrefix(key1, "sweep_"), "child keys carry the sweep_ prefix")
	assert.NotEqual(t, key1, otherSweep, "same combination under a new sweep must not collide")
	assert.NotEqual(t, key1, otherParams)
}

func TestTruncateFailureReason(t *testing.T) {
	short := "market data unavailable"
	assert.Equal(t, short, TruncateFailureReason(short))

	exact := strings.Repeat("x", 1000)
	assert.Equal(t, exact, TruncateFailureReason(exact))

	long := strings.Repeat("y", 1500)
	got := TruncateFailureReason(long)
	require.Len(t, got, 1000)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, strings.Repeat("y", 997), got[:997])
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.False(t, JobStatusSubmitted.Terminal())
	assert.False(t, JobStatusQueued.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
}
