package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// BacktestRequest is the submission body for a single backtest.
// Dates are ISO-8601 day strings; the interval is closed on both ends.
type BacktestRequest struct {
	Strategy       string                 `json:"strategyName" validate:"required"`
	Symbol         string                 `json:"symbol" validate:"required"`
	StartDate      string                 `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate        string                 `json:"endDate" validate:"required,datetime=2006-01-02"`
	Parameters     map[string]interface{} `json:"parameters"`
	InitialCapital float64                `json:"initialCapital" validate:"required,gt=0"`
}

// Validate checks the request using go-playground/validator tags plus the
// constraints the tags cannot express.
func (r *BacktestRequest) Validate() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return err
	}
	if r.Parameters == nil {
		return fmt.Errorf("parameters are required (use {} for none)")
	}
	return validateDateOrder(r.StartDate, r.EndDate)
}

// validateDateOrder rejects inverted intervals before they enter the job
// lifecycle; an inverted interval can never produce a series.
func validateDateOrder(start, end string) error {
	s, err := time.Parse("2006-01-02", start)
	if err != nil {
		return fmt.Errorf("invalid start date %q: %w", start, err)
	}
	e, err := time.Parse("2006-01-02", end)
	if err != nil {
		return fmt.Errorf("invalid end date %q: %w", end, err)
	}
	if e.Before(s) {
		return fmt.Errorf("end date %s is before start date %s", end, start)
	}
	return nil
}

// canonicalSpec fixes field order and scalar formatting for hashing. Two
// requests that differ only in JSON whitespace or key order produce the
// same canonical bytes.
type canonicalSpec struct {
	Strategy string          `json:"strategy"`
	Symbol   string          `json:"symbol"`
	Start    string          `json:"start"`
	End      string          `json:"end"`
	Params   json.RawMessage `json:"params"`
	Capital  string          `json:"capital"`
}

// CanonicalParameters serializes a parameter map deterministically. Object
// keys are emitted in sorted order at every nesting level (encoding/json
// sorts map keys), so equal maps always yield identical bytes.
func CanonicalParameters(params map[string]interface{}) (json.RawMessage, error) {
	if params == nil {
		return json.RawMessage("{}"), nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("canonicalize parameters: %w", err)
	}
	return b, nil
}

// CanonicalSpec renders the submission as a deterministic byte string. The
// dedup key is a digest of these bytes, so any change here invalidates every
// stored key. Treat the format as frozen.
func (r *BacktestRequest) CanonicalSpec() ([]byte, error) {
	params, err := CanonicalParameters(r.Parameters)
	if err != nil {
		return nil, err
	}
	return json.Marshal(canonicalSpec{
		Strategy: r.Strategy,
		Symbol:   r.Symbol,
		Start:    r.StartDate,
		End:      r.EndDate,
		Params:   params,
		Capital:  strconv.FormatFloat(r.InitialCapital, 'f', -1, 64),
	})
}

// DedupKey returns the hex SHA-256 digest of the canonical spec.
func (r *BacktestRequest) DedupKey() (string, error) {
	spec, err := r.CanonicalSpec()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(spec)
	return hex.EncodeToString(sum[:]), nil
}

// SweepChildDedupKey builds the dedup key for a sweep child job. The parent
// sweep id is part of the digest so resubmitting the same combinations under
// a new sweep creates fresh jobs rather than colliding with an old run.
func SweepChildDedupKey(sweepID uint64, strategy, symbol, start, end string, canonicalParams json.RawMessage, capital float64) string {
	combined := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s",
		sweepID, strategy, symbol, start, end, canonicalParams,
		strconv.FormatFloat(capital, 'f', -1, 64))
	sum := sha256.Sum256([]byte(combined))
	return "sweep_" + hex.EncodeToString(sum[:])
}

// SubmissionResult is the response body for a backtest submission.
// IsExisting marks dedup hits; Result is embedded when the existing job
// already completed.
type SubmissionResult struct {
	JobID      uint64          `json:"jobId"`
	Status     JobStatus       `json:"status"`
	IsExisting bool            `json:"isExisting"`
	Message    string          `json:"message,omitempty"`
	Result     *BacktestResult `json:"result,omitempty"`
}

// JobStatusResponse is the response body for a single job read.
type JobStatusResponse struct {
	Job    *Job            `json:"job"`
	Result *BacktestResult `json:"result,omitempty"`
}
