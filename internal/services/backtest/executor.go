package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bobmcallan/strata/internal/common"
	"github.com/bobmcallan/strata/internal/engine"
	"github.com/bobmcallan/strata/internal/interfaces"
	"github.com/bobmcallan/strata/internal/metrics"
	"github.com/bobmcallan/strata/internal/models"
)

// Executor runs one dispatched job end to end. The row lock plus the
// status check give at-most-one execution per job; the version token
// detects any competing mutation between the claim and the finalize
// sections so a superseded worker abandons silently.
type Executor struct {
	storage     interfaces.StorageManager
	market      interfaces.MarketDataService
	registry    *engine.Registry
	sweeps      interfaces.SweepService
	collector   *metrics.Collector
	events      interfaces.EventPublisher
	maxAttempts int
	logger      *common.Logger
}

// NewExecutor creates an executor. sweeps, collector, and events may be
// nil when the corresponding concern is not wired.
func NewExecutor(
	storage interfaces.StorageManager,
	market interfaces.MarketDataService,
	registry *engine.Registry,
	logger *common.Logger,
	maxAttempts int,
) *Executor {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Executor{
		storage:     storage,
		market:      market,
		registry:    registry,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// SetSweepService wires the sweep coordinator for child-terminal
// notifications. Called during app wiring, before workers start.
func (e *Executor) SetSweepService(sweeps interfaces.SweepService) {
	e.sweeps = sweeps
}

// SetCollector wires the metrics collector.
func (e *Executor) SetCollector(collector *metrics.Collector) {
	e.collector = collector
}

// SetEventPublisher wires the lifecycle event broadcaster.
func (e *Executor) SetEventPublisher(events interfaces.EventPublisher) {
	e.events = events
}

// Execute processes one dispatched job id. Job-level failures are absorbed
// into the retry lifecycle; only worker-level faults (store unavailable)
// surface as errors.
func (e *Executor) Execute(ctx context.Context, jobID uint64) error {
	logger := e.logger.With().Uint64("job_id", jobID).Logger()

	// Claim: lock, check state, transition to RUNNING.
	job, release, err := e.storage.Jobs().Lock(ctx, jobID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// The queue is a hint; a purged or vanished row is dropped.
			logger.Debug().Msg("Dispatched job no longer exists, dropping")
			return nil
		}
		return fmt.Errorf("failed to lock job %d: %w", jobID, err)
	}

	switch job.Status {
	case models.JobStatusCompleted:
		release()
		logger.Debug().Msg("Job already COMPLETED, skipping duplicate dispatch")
		return nil
	case models.JobStatusRunning:
		// The row lock serializes this section, so RUNNING here means a
		// previous holder crashed mid-execution. The janitor requeues it.
		release()
		logger.Warn().Msg("Job already RUNNING, skipping (stale RUNNING rows are requeued by the janitor)")
		return nil
	}

	if job.Attempts == 0 {
		logger.Info().Str("strategy", job.Strategy).Str("symbol", job.Symbol).Msg("Job started")
	} else {
		logger.Info().Int("attempt", job.Attempts+1).Msg("Job retry started")
	}

	job.Status = models.JobStatusRunning
	job.StartedAt = time.Now()
	if err := e.storage.Jobs().Save(ctx, job); err != nil {
		release()
		if errors.Is(err, models.ErrStaleVersion) {
			logger.Debug().Msg("Stale version claiming job, another worker owns it")
			return nil
		}
		return fmt.Errorf("failed to mark job %d RUNNING: %w", jobID, err)
	}
	release()

	if e.collector != nil {
		e.collector.ExecutionStarted()
		defer e.collector.ExecutionEnded()
	}
	e.publish(models.EventJobStarted, job)

	// Kernel run, outside any lock: the row lock is never held across
	// gateway or kernel calls.
	start := time.Now()
	result, runErr := e.runKernel(ctx, job)
	durationMS := time.Since(start).Milliseconds()

	if runErr != nil {
		logger.Warn().Err(runErr).Int64("duration_ms", durationMS).Msg("Backtest attempt failed")
		e.handleFailure(ctx, jobID, runErr)
		return nil
	}

	return e.finalize(ctx, job, result, durationMS)
}

// runKernel loads market data, instantiates the strategy, and runs the
// backtest. Precondition failures (no data, bad parameters) and runtime
// faults are equivalent for retry purposes but carry distinct reasons.
func (e *Executor) runKernel(ctx context.Context, job *models.Job) (*engine.Result, error) {
	bars, err := e.market.GetBars(ctx, job.Symbol, job.StartDate, job.EndDate)
	if err != nil {
		return nil, fmt.Errorf("market data load failed: %w", err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no market data available for %s between %s and %s", job.Symbol, job.StartDate, job.EndDate)
	}

	strategy, err := e.registry.Create(job.Strategy, job.Parameters)
	if err != nil {
		return nil, fmt.Errorf("strategy instantiation failed: %w", err)
	}

	result, err := engine.Run(engine.Config{
		Strategy:       strategy,
		Bars:           bars,
		InitialCapital: job.InitialCapital,
	})
	if err != nil {
		return nil, fmt.Errorf("backtest execution failed: %w", err)
	}
	return result, nil
}

// finalize re-locks the row, verifies nothing mutated it during the kernel
// run, writes the result row, and marks the job COMPLETED.
func (e *Executor) finalize(ctx context.Context, claimed *models.Job, result *engine.Result, durationMS int64) error {
	logger := e.logger.With().Uint64("job_id", claimed.ID).Logger()

	job, release, err := e.storage.Jobs().Lock(ctx, claimed.ID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			logger.Warn().Msg("Job vanished during execution, dropping result")
			return nil
		}
		return fmt.Errorf("failed to lock job %d for completion: %w", claimed.ID, err)
	}
	defer release()

	if job.Version != claimed.Version {
		// The janitor or a failure handler touched the row while the
		// kernel ran; whoever did owns the outcome now.
		logger.Debug().
			Int("claimed_version", claimed.Version).
			Int("current_version", job.Version).
			Msg("Job mutated during execution, abandoning result")
		return nil
	}

	row, err := buildResultRow(job.ID, result, durationMS)
	if err != nil {
		release()
		e.handleFailure(ctx, job.ID, err)
		return nil
	}
	if err := e.storage.Results().Create(ctx, row); err != nil {
		return fmt.Errorf("failed to write result for job %d: %w", job.ID, err)
	}

	job.Status = models.JobStatusCompleted
	job.CompletedAt = time.Now()
	job.DurationMS = durationMS
	job.Error = ""
	if err := e.storage.Jobs().Save(ctx, job); err != nil {
		if errors.Is(err, models.ErrStaleVersion) {
			logger.Debug().Msg("Stale version completing job, another path owns it")
			return nil
		}
		return fmt.Errorf("failed to mark job %d COMPLETED: %w", job.ID, err)
	}
	release()

	logger.Info().
		Int64("duration_ms", durationMS).
		Float64("total_return", result.TotalReturn).
		Float64("sharpe", result.SharpeRatio).
		Msg("Job completed")

	if e.collector != nil {
		e.collector.RecordCompleted(float64(durationMS) / 1000.0)
	}
	e.publish(models.EventJobCompleted, job)
	e.notifySweep(ctx, job)
	return nil
}

// handleFailure records a failed attempt in its own lock acquisition,
// independent of the execution path, so the attempt survives even though
// the execution's own writes were abandoned.
func (e *Executor) handleFailure(ctx context.Context, jobID uint64, cause error) {
	logger := e.logger.With().Uint64("job_id", jobID).Logger()

	job, release, err := e.storage.Jobs().Lock(ctx, jobID)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to lock job for failure handling")
		return
	}
	defer release()

	job.Error = models.TruncateFailureReason(cause.Error())
	job.Attempts++

	if job.Attempts < e.maxAttempts {
		job.Status = models.JobStatusQueued
		if err := e.storage.Jobs().Save(ctx, job); err != nil {
			if !errors.Is(err, models.ErrStaleVersion) {
				logger.Warn().Err(err).Msg("Failed to requeue job after failure")
			}
			return
		}

		if err := e.storage.Queue().Push(ctx, job.ID); err != nil {
			// Cannot retry without delivery: downgrade to FAILED.
			logger.Error().Err(err).Msg("Failed to push retry, marking job FAILED")
			job.Status = models.JobStatusFailed
			if saveErr := e.storage.Jobs().Save(ctx, job); saveErr != nil {
				logger.Error().Err(saveErr).Msg("Failed to mark job FAILED after push failure")
				return
			}
			e.recordTerminalFailure(ctx, job)
			return
		}

		logger.Warn().
			Int("attempt", job.Attempts).
			Int("max_attempts", e.maxAttempts).
			Msg("Job requeued for retry")
		if e.collector != nil {
			e.collector.RecordRetry()
		}
		e.publish(models.EventJobRetrying, job)
		return
	}

	job.Status = models.JobStatusFailed
	if err := e.storage.Jobs().Save(ctx, job); err != nil {
		if !errors.Is(err, models.ErrStaleVersion) {
			logger.Warn().Err(err).Msg("Failed to mark job FAILED")
		}
		return
	}

	logger.Error().
		Int("attempts", job.Attempts).
		Str("reason", job.Error).
		Msg("Job failed permanently, attempts exhausted")
	e.recordTerminalFailure(ctx, job)
}

func (e *Executor) recordTerminalFailure(ctx context.Context, job *models.Job) {
	if e.collector != nil {
		e.collector.RecordFailed()
	}
	e.publish(models.EventJobFailed, job)
	e.notifySweep(ctx, job)
}

func (e *Executor) notifySweep(ctx context.Context, job *models.Job) {
	if job.SweepID == 0 || e.sweeps == nil {
		return
	}
	if err := e.sweeps.OnChildTerminal(ctx, job.SweepID, job.ID); err != nil {
		e.logger.Warn().
			Uint64("sweep_id", job.SweepID).
			Uint64("job_id", job.ID).
			Err(err).
			Msg("Failed to update sweep progress")
	}
}

func (e *Executor) publish(eventType string, job *models.Job) {
	if e.events == nil {
		return
	}
	depth, _ := e.storage.Queue().Len()
	snapshot := *job
	e.events.Publish(&models.JobEvent{
		Type:      eventType,
		Job:       &snapshot,
		SweepID:   job.SweepID,
		Timestamp: time.Now(),
		QueueSize: depth,
	})
}

func buildResultRow(jobID uint64, result *engine.Result, durationMS int64) (*models.BacktestResult, error) {
	trades, err := json.Marshal(result.Trades)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize trade log: %w", err)
	}
	curve, err := json.Marshal(result.EquityCurve)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize equity curve: %w", err)
	}

	return &models.BacktestResult{
		JobID:        jobID,
		TotalReturn:  result.TotalReturn,
		CAGR:         result.CAGR,
		Volatility:   result.Volatility,
		SharpeRatio:  result.SharpeRatio,
		SortinoRatio: result.SortinoRatio,
		MaxDrawdown:  result.MaxDrawdown,
		WinRate:      result.WinRate,
		ExecutionMS:  durationMS,
		Trades:       trades,
		EquityCurve:  curve,
	}, nil
}

// Compile-time check
var _ interfaces.Executor = (*Executor)(nil)
