// Package interfaces defines service contracts for Strata
package interfaces

import (
	"context"

	"github.com/bobmcallan/strata/internal/models"
)

// BacktestService handles submission and reads of single backtests
type BacktestService interface {
	// Submit deduplicates, persists, and queues a backtest. Resubmitting
	// an identical spec returns the existing job instead of a new one.
	Submit(ctx context.Context, req *models.BacktestRequest) (*models.SubmissionResult, error)

	// GetJob returns a job snapshot plus its latest result when completed.
	GetJob(ctx context.Context, id uint64) (*models.JobStatusResponse, error)
}

// Executor runs one dispatched job end to end: lock, state check, market
// data, kernel, result write, retry bookkeeping.
type Executor interface {
	// Execute processes the job with the given id. A returned error means
	// a worker-level fault (store or queue unavailable); the job itself
	// is left untouched and the worker should back off. Job-level failures
	// are absorbed into the retry lifecycle and do not surface here.
	Execute(ctx context.Context, jobID uint64) error
}

// SweepService manages parameter sweeps
type SweepService interface {
	// Submit creates the sweep aggregate and fans out one child job per
	// strategy/parameter combination.
	Submit(ctx context.Context, req *models.SweepRequest) (*models.SweepResponse, error)

	// GetSweep returns sweep counters plus best-child details when complete.
	GetSweep(ctx context.Context, id uint64) (*models.SweepResponse, error)

	// OnChildTerminal is invoked by the executor after a sweep child
	// reaches COMPLETED or FAILED. It updates counters and, when the
	// sweep finishes, selects the best child.
	OnChildTerminal(ctx context.Context, sweepID, jobID uint64) error
}

// MarketDataService serves daily bars with caching and synthetic fallback
type MarketDataService interface {
	// GetBars returns bars for the closed interval [start, end].
	GetBars(ctx context.Context, symbol, start, end string) ([]*models.MarketBar, error)
}

// EventPublisher receives job lifecycle events for broadcast. Publish must
// never block the caller.
type EventPublisher interface {
	Publish(event *models.JobEvent)
}
