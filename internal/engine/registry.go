package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bobmcallan/strata/internal/common"
)

// Registry maps strategy names to factories. The orchestration layer hands
// the parameter blob through opaque; only the factory parses it.
type Registry struct {
	logger *common.Logger
}

// NewRegistry creates a strategy registry.
func NewRegistry(logger *common.Logger) *Registry {
	return &Registry{logger: logger}
}

// Create instantiates the named strategy with its parameters. Unknown names
// fall back to buy-and-hold with a warning; a malformed parameter blob or
// an invalid parameter combination is an error.
func (r *Registry) Create(name string, params json.RawMessage) (Strategy, error) {
	values, err := parseParams(params)
	if err != nil {
		return nil, fmt.Errorf("invalid strategy parameters: %w", err)
	}

	switch strings.ToLower(name) {
	case "buyandhold", "buy_and_hold":
		return NewBuyAndHold(), nil

	case "movingaveragecrossover", "ma_crossover":
		shortPeriod := intParam(values, "shortPeriod", 10)
		longPeriod := intParam(values, "longPeriod", 50)
		return NewMACrossover(shortPeriod, longPeriod)

	default:
		r.logger.Warn().
			Str("strategy", name).
			Msg("Unknown strategy, falling back to BuyAndHold")
		return NewBuyAndHold(), nil
	}
}

func parseParams(params json.RawMessage) (map[string]interface{}, error) {
	if len(params) == 0 {
		return map[string]interface{}{}, nil
	}
	var values map[string]interface{}
	if err := json.Unmarshal(params, &values); err != nil {
		return nil, err
	}
	if values == nil {
		values = map[string]interface{}{}
	}
	return values, nil
}

// intParam reads an integer parameter, tolerating the float64 that JSON
// decoding produces for all numbers.
func intParam(values map[string]interface{}, key string, fallback int) int {
	raw, ok := values[key]
	if !ok {
		return fallback
	}
	switch v := raw.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return fallback
}
