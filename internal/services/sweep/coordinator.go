// Package sweep coordinates parameter sweeps: fan-out of child jobs over a
// strategy/parameter grid, terminal-state accounting, and best-child
// selection when every child has finished.
package sweep

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bobmcallan/strata/internal/common"
	"github.com/bobmcallan/strata/internal/interfaces"
	"github.com/bobmcallan/strata/internal/metrics"
	"github.com/bobmcallan/strata/internal/models"
)

// Coordinator implements interfaces.SweepService.
type Coordinator struct {
	storage   interfaces.StorageManager
	logger    *common.Logger
	collector *metrics.Collector
	events    interfaces.EventPublisher
}

// NewCoordinator creates the sweep coordinator. collector and events may
// be nil.
func NewCoordinator(storage interfaces.StorageManager, logger *common.Logger, collector *metrics.Collector, events interfaces.EventPublisher) *Coordinator {
	return &Coordinator{
		storage:   storage,
		logger:    logger,
		collector: collector,
		events:    events,
	}
}

// childSpec is one de-duplicated entry of the sweep expansion.
type childSpec struct {
	strategy string
	params   json.RawMessage
}

// Submit creates the sweep aggregate and one child job per strategy and
// parameter combination. Child dedup keys include the sweep id, so a new
// sweep over previously swept combinations still fans out fresh jobs.
// Duplicate combinations within one request are dropped during expansion,
// before the sweep row exists, so the stored total is never larger than
// the child set and completed+failed=total stays reachable.
func (c *Coordinator) Submit(ctx context.Context, req *models.SweepRequest) (*models.SweepResponse, error) {
	expansion, err := c.expand(req)
	if err != nil {
		return nil, err
	}
	if len(expansion) == 0 {
		return nil, fmt.Errorf("sweep expands to zero parameter combinations")
	}

	sweep := &models.Sweep{
		Name:        req.Name,
		Description: req.Description,
		Metric:      req.OptimizationMetric,
		Status:      models.JobStatusQueued,
		TotalJobs:   len(expansion),
	}
	if err := c.storage.Sweeps().Create(ctx, sweep); err != nil {
		return nil, fmt.Errorf("failed to create sweep: %w", err)
	}

	c.logger.Info().
		Uint64("sweep_id", sweep.ID).
		Str("name", sweep.Name).
		Int("total_jobs", sweep.TotalJobs).
		Msg("Created parameter sweep")

	childIDs := make([]uint64, 0, len(expansion))
	for _, spec := range expansion {
		childID, err := c.createChild(ctx, sweep, req, spec)
		if err != nil {
			return nil, err
		}
		childIDs = append(childIDs, childID)
	}

	if c.collector != nil {
		c.collector.RecordSweepSubmitted()
	}

	return &models.SweepResponse{
		SweepJobID:  sweep.ID,
		Status:      sweep.Status,
		Message:     "Parameter sweep submitted successfully",
		TotalJobs:   sweep.TotalJobs,
		ChildJobIDs: childIDs,
	}, nil
}

// expand flattens the strategy grid into canonical child specs, dropping
// combinations already seen in this request.
func (c *Coordinator) expand(req *models.SweepRequest) ([]childSpec, error) {
	var expansion []childSpec
	seen := make(map[string]struct{})
	for _, sc := range req.Strategies {
		for _, combo := range sc.ParameterCombinations {
			params, err := models.CanonicalParameters(combo)
			if err != nil {
				return nil, fmt.Errorf("failed to canonicalize sweep parameters: %w", err)
			}
			key := sc.Strategy + "|" + string(params)
			if _, dup := seen[key]; dup {
				c.logger.Warn().
					Str("strategy", sc.Strategy).
					Msg("Skipping duplicate parameter combination in sweep request")
				continue
			}
			seen[key] = struct{}{}
			expansion = append(expansion, childSpec{strategy: sc.Strategy, params: params})
		}
	}
	return expansion, nil
}

// createChild persists and queues one child job.
func (c *Coordinator) createChild(ctx context.Context, sweep *models.Sweep, req *models.SweepRequest, spec childSpec) (uint64, error) {
	job := &models.Job{
		DedupKey: models.SweepChildDedupKey(sweep.ID, spec.strategy, req.Symbol,
			req.StartDate, req.EndDate, spec.params, req.InitialCapital),
		Strategy:       spec.strategy,
		Symbol:         req.Symbol,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		Parameters:     spec.params,
		InitialCapital: req.InitialCapital,
		Status:         models.JobStatusQueued,
		SweepID:        sweep.ID,
	}

	if err := c.storage.Jobs().Create(ctx, job); err != nil {
		return 0, fmt.Errorf("failed to create sweep child: %w", err)
	}
	if err := c.storage.Queue().Push(ctx, job.ID); err != nil {
		return 0, fmt.Errorf("failed to queue sweep child %d: %w", job.ID, err)
	}

	c.logger.Debug().
		Uint64("sweep_id", sweep.ID).
		Uint64("job_id", job.ID).
		Str("strategy", spec.strategy).
		Msg("Queued sweep child job")
	return job.ID, nil
}

// OnChildTerminal updates the sweep after a child reaches COMPLETED or
// FAILED. Counters are recounted from the child set rather than
// incremented, so a lost notification is healed by the next one. The
// sweep row lock serializes concurrent child completions.
func (c *Coordinator) OnChildTerminal(ctx context.Context, sweepID, jobID uint64) error {
	sweep, release, err := c.storage.Sweeps().Lock(ctx, sweepID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.logger.Warn().Uint64("sweep_id", sweepID).Msg("Sweep not found for child notification")
			return nil
		}
		return err
	}
	defer release()

	completed, err := c.storage.Jobs().CountBySweepAndStatus(ctx, sweepID, models.JobStatusCompleted)
	if err != nil {
		return err
	}
	failed, err := c.storage.Jobs().CountBySweepAndStatus(ctx, sweepID, models.JobStatusFailed)
	if err != nil {
		return err
	}

	sweep.CompletedJobs = completed
	sweep.FailedJobs = failed

	if completed+failed < sweep.TotalJobs {
		sweep.Status = models.JobStatusRunning
		return c.storage.Sweeps().Save(ctx, sweep)
	}

	sweep.Status = models.JobStatusCompleted
	sweep.CompletedAt = time.Now()

	if err := c.selectBest(ctx, sweep); err != nil {
		return err
	}
	if err := c.storage.Sweeps().Save(ctx, sweep); err != nil {
		return err
	}

	c.logger.Info().
		Uint64("sweep_id", sweepID).
		Int("completed", completed).
		Int("failed", failed).
		Uint64("best_job_id", sweep.BestJobID).
		Msg("Sweep completed")

	if c.collector != nil {
		c.collector.RecordSweepCompleted()
	}
	if c.events != nil {
		depth, _ := c.storage.Queue().Len()
		c.events.Publish(&models.JobEvent{
			Type:      models.EventSweepCompleted,
			SweepID:   sweepID,
			Timestamp: time.Now(),
			QueueSize: depth,
		})
	}
	return nil
}

// selectBest ranks the completed children by the sweep's optimization
// metric with one bulk result read. Strictly greater wins; ties keep the
// smaller child id.
func (c *Coordinator) selectBest(ctx context.Context, sweep *models.Sweep) error {
	children, err := c.storage.Jobs().ListBySweep(ctx, sweep.ID)
	if err != nil {
		return err
	}

	completedIDs := make([]uint64, 0, len(children))
	for _, child := range children {
		if child.Status == models.JobStatusCompleted {
			completedIDs = append(completedIDs, child.ID)
		}
	}
	if len(completedIDs) == 0 {
		c.logger.Warn().Uint64("sweep_id", sweep.ID).Msg("Sweep finished with no completed children")
		return nil
	}

	results, err := c.storage.Results().LatestForJobs(ctx, completedIDs)
	if err != nil {
		return err
	}

	var bestID uint64
	var bestValue float64
	found := false
	// completedIDs is ascending, so strict comparison keeps the smallest
	// id on ties.
	for _, id := range completedIDs {
		result, ok := results[id]
		if !ok {
			c.logger.Warn().Uint64("job_id", id).Msg("Completed sweep child has no result row")
			continue
		}
		value := result.MetricValue(sweep.Metric)
		if !found || value > bestValue {
			bestID = id
			bestValue = value
			found = true
		}
	}

	if found {
		sweep.BestJobID = bestID
		sweep.BestMetricValue = &bestValue
	}
	return nil
}

// GetSweep returns sweep counters and, when selection has happened, the
// best child's identity, parameters, and metrics.
func (c *Coordinator) GetSweep(ctx context.Context, id uint64) (*models.SweepResponse, error) {
	sweep, err := c.storage.Sweeps().Get(ctx, id)
	if err != nil {
		return nil, err
	}

	resp := &models.SweepResponse{
		SweepJobID:    sweep.ID,
		Status:        sweep.Status,
		TotalJobs:     sweep.TotalJobs,
		CompletedJobs: sweep.CompletedJobs,
		FailedJobs:    sweep.FailedJobs,
	}

	if sweep.BestJobID != 0 && sweep.BestMetricValue != nil {
		best, err := c.buildBestResult(ctx, sweep)
		if err != nil {
			return nil, err
		}
		resp.BestResult = best
	}
	return resp, nil
}

func (c *Coordinator) buildBestResult(ctx context.Context, sweep *models.Sweep) (*models.BestJobResult, error) {
	job, err := c.storage.Jobs().Get(ctx, sweep.BestJobID)
	if err != nil {
		return nil, err
	}
	result, err := c.storage.Results().LatestForJob(ctx, sweep.BestJobID)
	if err != nil {
		return nil, err
	}

	return &models.BestJobResult{
		JobID:                   job.ID,
		Strategy:                job.Strategy,
		Parameters:              job.Parameters,
		TotalReturn:             result.TotalReturn,
		CAGR:                    result.CAGR,
		Volatility:              result.Volatility,
		SharpeRatio:             result.SharpeRatio,
		SortinoRatio:            result.SortinoRatio,
		MaxDrawdown:             result.MaxDrawdown,
		WinRate:                 result.WinRate,
		OptimizationMetricValue: *sweep.BestMetricValue,
	}, nil
}

// Compile-time check
var _ interfaces.SweepService = (*Coordinator)(nil)
