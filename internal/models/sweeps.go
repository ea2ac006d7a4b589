package models

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
)

// Sweep is the parent aggregate for a parameter optimization run. Symbol,
// dates, and capital are stamped into each child job rather than stored
// here. Counters and best-child fields are mutated only under the sweep's
// row lock.
type Sweep struct {
	ID              uint64    `json:"sweep_id" badgerhold:"key"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	Metric          string    `json:"optimization_metric"`
	Status          JobStatus `json:"status"`
	TotalJobs       int       `json:"total_jobs"`
	CompletedJobs   int       `json:"completed_jobs"`
	FailedJobs      int       `json:"failed_jobs"`
	BestJobID       uint64    `json:"best_job_id,omitempty"`
	BestMetricValue *float64  `json:"best_metric_value,omitempty"`
	Version         int       `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	CompletedAt     time.Time `json:"completed_at"`
}

// Finished reports whether every child has reached a terminal state.
func (s *Sweep) Finished() bool {
	return s.TotalJobs > 0 && s.CompletedJobs+s.FailedJobs >= s.TotalJobs
}

// SweepRequest is the submission body for a parameter sweep.
type SweepRequest struct {
	Name               string                `json:"name" validate:"required"`
	Description        string                `json:"description"`
	Symbol             string                `json:"symbol" validate:"required"`
	StartDate          string                `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate            string                `json:"endDate" validate:"required,datetime=2006-01-02"`
	InitialCapital     float64               `json:"initialCapital" validate:"required,gt=0"`
	OptimizationMetric string                `json:"optimizationMetric" validate:"required"`
	Strategies         []SweepStrategyConfig `json:"strategies" validate:"required,min=1,dive"`
}

// SweepStrategyConfig pairs one strategy with the parameter combinations to
// fan out for it.
type SweepStrategyConfig struct {
	Strategy              string                   `json:"strategyName" validate:"required"`
	ParameterCombinations []map[string]interface{} `json:"parameterCombinations" validate:"required,min=1"`
}

// Validate checks the request using go-playground/validator tags plus the
// date-order constraint the tags cannot express.
func (r *SweepRequest) Validate() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return err
	}
	return validateDateOrder(r.StartDate, r.EndDate)
}

// SweepResponse is the response body for sweep submission and status reads.
type SweepResponse struct {
	SweepJobID    uint64         `json:"sweepJobId"`
	Status        JobStatus      `json:"status"`
	Message       string         `json:"message,omitempty"`
	TotalJobs     int            `json:"totalJobs"`
	CompletedJobs int            `json:"completedJobs"`
	FailedJobs    int            `json:"failedJobs"`
	BestResult    *BestJobResult `json:"bestResult,omitempty"`
	ChildJobIDs   []uint64       `json:"childJobIds,omitempty"`
}

// BestJobResult describes the winning child of a completed sweep.
type BestJobResult struct {
	JobID                   uint64          `json:"jobId"`
	Strategy                string          `json:"strategyName"`
	Parameters              json.RawMessage `json:"parameters,omitempty"`
	TotalReturn             float64         `json:"totalReturn"`
	CAGR                    float64         `json:"cagr"`
	Volatility              float64         `json:"volatility"`
	SharpeRatio             float64         `json:"sharpeRatio"`
	SortinoRatio            float64         `json:"sortinoRatio"`
	MaxDrawdown             float64         `json:"maxDrawdown"`
	WinRate                 float64         `json:"winRate"`
	OptimizationMetricValue float64         `json:"optimizationMetricValue"`
}
