// Package backtest implements the submission service and the executor: the
// lifecycle core that takes a job from accepted request to terminal state.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bobmcallan/strata/internal/common"
	"github.com/bobmcallan/strata/internal/interfaces"
	"github.com/bobmcallan/strata/internal/metrics"
	"github.com/bobmcallan/strata/internal/models"
)

// Service accepts backtest submissions with idempotent deduplication.
type Service struct {
	storage   interfaces.StorageManager
	logger    *common.Logger
	collector *metrics.Collector
	events    interfaces.EventPublisher
}

// NewService creates the submission service. collector and events may be
// nil when the caller does not need metrics or event broadcasting.
func NewService(storage interfaces.StorageManager, logger *common.Logger, collector *metrics.Collector, events interfaces.EventPublisher) *Service {
	return &Service{
		storage:   storage,
		logger:    logger,
		collector: collector,
		events:    events,
	}
}

// Submit deduplicates, persists, and queues a backtest. An identical spec
// (same canonical bytes, so field order and whitespace are irrelevant)
// always resolves to the same job id no matter how many times or how
// concurrently it is submitted.
func (s *Service) Submit(ctx context.Context, req *models.BacktestRequest) (*models.SubmissionResult, error) {
	dedupKey, err := req.DedupKey()
	if err != nil {
		// Canonicalization only fails on unserializable parameters, which
		// validation has already rejected.
		return nil, fmt.Errorf("failed to compute dedup key: %w", err)
	}

	existing, err := s.storage.Jobs().GetByDedupKey(ctx, dedupKey)
	if err == nil {
		return s.existingResult(ctx, existing)
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	params, err := models.CanonicalParameters(req.Parameters)
	if err != nil {
		return nil, err
	}

	job := &models.Job{
		DedupKey:       dedupKey,
		Strategy:       req.Strategy,
		Symbol:         req.Symbol,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		Parameters:     params,
		InitialCapital: req.InitialCapital,
		Status:         models.JobStatusSubmitted,
	}

	if err := s.storage.Jobs().Create(ctx, job); err != nil {
		if errors.Is(err, models.ErrDuplicateKey) {
			// Lost the insert race; the winner's job is authoritative.
			winner, lookupErr := s.storage.Jobs().GetByDedupKey(ctx, dedupKey)
			if lookupErr != nil {
				return nil, fmt.Errorf("duplicate key but lookup failed: %w", lookupErr)
			}
			return s.existingResult(ctx, winner)
		}
		return nil, err
	}

	s.logger.Info().
		Uint64("job_id", job.ID).
		Str("strategy", job.Strategy).
		Str("symbol", job.Symbol).
		Msg("Created backtest job")
	if s.collector != nil {
		s.collector.RecordSubmitted()
	}

	if err := s.storage.Queue().Push(ctx, job.ID); err != nil {
		// The job stays SUBMITTED; the janitor or a resubmission after
		// purge is the recovery path.
		return nil, fmt.Errorf("failed to queue job %d: %w", job.ID, err)
	}

	s.markQueued(ctx, job)
	s.publish(models.EventJobQueued, job)

	return &models.SubmissionResult{
		JobID:      job.ID,
		Status:     job.Status,
		IsExisting: false,
		Message:    "Job queued successfully",
	}, nil
}

// markQueued transitions SUBMITTED → QUEUED under the row lock. Workers
// re-read state under lock and tolerate any non-terminal state, so a
// worker racing ahead of this transition is harmless.
func (s *Service) markQueued(ctx context.Context, job *models.Job) {
	locked, release, err := s.storage.Jobs().Lock(ctx, job.ID)
	if err != nil {
		s.logger.Warn().Uint64("job_id", job.ID).Err(err).Msg("Failed to lock job for QUEUED transition")
		return
	}
	defer release()

	if locked.Status != models.JobStatusSubmitted {
		// A worker already advanced it.
		*job = *locked
		return
	}

	locked.Status = models.JobStatusQueued
	if err := s.storage.Jobs().Save(ctx, locked); err != nil {
		if !errors.Is(err, models.ErrStaleVersion) {
			s.logger.Warn().Uint64("job_id", job.ID).Err(err).Msg("Failed to mark job QUEUED")
		}
		return
	}
	*job = *locked
}

// existingResult shapes the idempotent response for a dedup hit.
func (s *Service) existingResult(ctx context.Context, job *models.Job) (*models.SubmissionResult, error) {
	if s.collector != nil {
		s.collector.RecordDuplicate()
	}

	res := &models.SubmissionResult{
		JobID:      job.ID,
		Status:     job.Status,
		IsExisting: true,
	}

	switch job.Status {
	case models.JobStatusCompleted:
		res.Message = "Job already completed. Returning cached results."
		result, err := s.storage.Results().LatestForJob(ctx, job.ID)
		if err == nil {
			res.Result = result
		} else if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		} else {
			s.logger.Warn().Uint64("job_id", job.ID).Msg("Job marked COMPLETED but no result found")
			res.Message = "Job completed but results not found"
		}
	case models.JobStatusFailed:
		res.Message = fmt.Sprintf("Job previously failed after %d attempts", job.Attempts)
	case models.JobStatusRunning:
		res.Message = "Job is currently being processed"
	case models.JobStatusQueued:
		res.Message = "Job is queued and waiting for processing"
	default:
		res.Message = "Job submitted and awaiting queue placement"
	}

	s.logger.Info().
		Uint64("job_id", job.ID).
		Str("status", string(job.Status)).
		Msg("Idempotent resubmission resolved to existing job")

	return res, nil
}

// GetJob returns a job snapshot plus its latest result when completed.
func (s *Service) GetJob(ctx context.Context, id uint64) (*models.JobStatusResponse, error) {
	job, err := s.storage.Jobs().Get(ctx, id)
	if err != nil {
		return nil, err
	}

	resp := &models.JobStatusResponse{Job: job}
	if job.Status == models.JobStatusCompleted {
		result, err := s.storage.Results().LatestForJob(ctx, id)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		resp.Result = result
	}
	return resp, nil
}

func (s *Service) publish(eventType string, job *models.Job) {
	if s.events == nil {
		return
	}
	depth, _ := s.storage.Queue().Len()
	snapshot := *job
	s.events.Publish(&models.JobEvent{
		Type:      eventType,
		Job:       &snapshot,
		SweepID:   job.SweepID,
		Timestamp: time.Now(),
		QueueSize: depth,
	})
}

// Compile-time check
var _ interfaces.BacktestService = (*Service)(nil)
