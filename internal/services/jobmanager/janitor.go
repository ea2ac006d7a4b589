package jobmanager

import (
	"context"
	"errors"
	"time"

	"github.com/bobmcallan/strata/internal/common"
	"github.com/bobmcallan/strata/internal/interfaces"
	"github.com/bobmcallan/strata/internal/metrics"
	"github.com/bobmcallan/strata/internal/models"
	"github.com/robfig/cron/v3"
)

// Janitor runs the scheduled recovery sweeps: requeue RUNNING jobs whose
// execution was abandoned (worker crash, kill during shutdown grace),
// requeue SUBMITTED/QUEUED rows whose queue entry was lost (failed push,
// shutdown between pop and execute), and purge terminal jobs past the
// retention window along with their result rows.
type Janitor struct {
	storage     interfaces.StorageManager
	logger      *common.Logger
	collector   *metrics.Collector
	config      common.JanitorConfig
	maxAttempts int
	sweeps      interfaces.SweepService
	cron        *cron.Cron
}

// SetSweepService wires the sweep coordinator so terminal failures of sweep
// children still advance their sweep.
func (j *Janitor) SetSweepService(s interfaces.SweepService) {
	j.sweeps = s
}

// NewJanitor creates the janitor. collector may be nil.
func NewJanitor(storage interfaces.StorageManager, logger *common.Logger, collector *metrics.Collector, config common.JanitorConfig, maxAttempts int) *Janitor {
	return &Janitor{
		storage:     storage,
		logger:      logger,
		collector:   collector,
		config:      config,
		maxAttempts: maxAttempts,
	}
}

// Start schedules the sweeps. No-op when disabled.
func (j *Janitor) Start() {
	if !j.config.Enabled {
		j.logger.Info().Msg("Janitor disabled")
		return
	}

	j.cron = cron.New()

	schedule := j.config.Schedule
	if schedule == "" {
		schedule = "@every 1m"
	}
	if _, err := j.cron.AddFunc(schedule, func() {
		j.sweepStuck()
		j.requeueStalled()
	}); err != nil {
		j.logger.Error().Str("schedule", schedule).Err(err).Msg("Invalid janitor schedule")
	}

	purgeSchedule := j.config.PurgeSchedule
	if purgeSchedule == "" {
		purgeSchedule = "@every 1h"
	}
	if _, err := j.cron.AddFunc(purgeSchedule, j.purgeTerminal); err != nil {
		j.logger.Error().Str("schedule", purgeSchedule).Err(err).Msg("Invalid janitor purge schedule")
	}

	j.cron.Start()
	j.logger.Info().
		Str("schedule", schedule).
		Str("purge_schedule", purgeSchedule).
		Dur("stuck_threshold", j.config.GetStuckThreshold()).
		Msg("Janitor started")
}

// Stop halts the schedules and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
	j.cron = nil
}

// sweepStuck requeues RUNNING jobs older than the stuck threshold. The
// abandoned execution burns an attempt so a crash-looping job still
// converges to FAILED.
func (j *Janitor) sweepStuck() {
	ctx := context.Background()
	cutoff := time.Now().Add(-j.config.GetStuckThreshold())

	stuck, err := j.storage.Jobs().ListRunningBefore(ctx, cutoff)
	if err != nil {
		j.logger.Warn().Err(err).Msg("Janitor stuck sweep failed to list jobs")
		return
	}

	for _, candidate := range stuck {
		if err := j.recoverStuck(ctx, candidate.ID, cutoff); err != nil {
			j.logger.Warn().Uint64("job_id", candidate.ID).Err(err).Msg("Janitor failed to recover stuck job")
		}
	}
}

func (j *Janitor) recoverStuck(ctx context.Context, jobID uint64, cutoff time.Time) error {
	job, release, err := j.storage.Jobs().Lock(ctx, jobID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}
	defer release()

	// Re-check under the lock: the executor may have finished meanwhile.
	if job.Status != models.JobStatusRunning || job.StartedAt.After(cutoff) {
		return nil
	}

	job.Attempts++
	if job.Attempts >= j.maxAttempts {
		job.Status = models.JobStatusFailed
		job.Error = models.TruncateFailureReason("execution abandoned and attempt budget exhausted")
		job.CompletedAt = time.Now()
		if err := j.storage.Jobs().Save(ctx, job); err != nil {
			return err
		}
		if j.collector != nil {
			j.collector.RecordFailed()
		}
		j.logger.Warn().
			Uint64("job_id", job.ID).
			Int("attempts", job.Attempts).
			Msg("Janitor failed stuck job, attempt budget exhausted")
		if j.sweeps != nil && job.SweepID != 0 {
			if err := j.sweeps.OnChildTerminal(ctx, job.SweepID, job.ID); err != nil {
				j.logger.Warn().Uint64("sweep_id", job.SweepID).Err(err).Msg("Janitor failed to notify sweep")
			}
		}
		return nil
	}

	job.Status = models.JobStatusQueued
	if err := j.storage.Jobs().Save(ctx, job); err != nil {
		return err
	}
	if err := j.storage.Queue().Push(ctx, job.ID); err != nil {
		return err
	}
	if j.collector != nil {
		j.collector.RecordRetry()
	}
	j.logger.Info().
		Uint64("job_id", job.ID).
		Int("attempts", job.Attempts).
		Msg("Janitor requeued stuck job")
	return nil
}

// requeueStalled pushes SUBMITTED/QUEUED rows that have sat past the stuck
// threshold back onto the dispatch queue. A row in either state with no
// queue entry is otherwise unreachable: resubmission of the same spec is a
// dedup hit and never pushes. Duplicate queue entries are tolerated by the
// executor's state check, so the push needs no membership test.
func (j *Janitor) requeueStalled() {
	ctx := context.Background()
	cutoff := time.Now().Add(-j.config.GetStuckThreshold())

	stalled, err := j.storage.Jobs().ListPendingBefore(ctx, cutoff)
	if err != nil {
		j.logger.Warn().Err(err).Msg("Janitor stalled sweep failed to list jobs")
		return
	}

	for _, candidate := range stalled {
		if err := j.requeuePending(ctx, candidate.ID, cutoff); err != nil {
			j.logger.Warn().Uint64("job_id", candidate.ID).Err(err).Msg("Janitor failed to requeue stalled job")
		}
	}
}

func (j *Janitor) requeuePending(ctx context.Context, jobID uint64, cutoff time.Time) error {
	job, release, err := j.storage.Jobs().Lock(ctx, jobID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}
	defer release()

	// Re-check under the lock: a worker may have claimed it meanwhile.
	if job.Status != models.JobStatusSubmitted && job.Status != models.JobStatusQueued {
		return nil
	}
	if job.UpdatedAt.After(cutoff) {
		return nil
	}

	job.Status = models.JobStatusQueued
	if err := j.storage.Jobs().Save(ctx, job); err != nil {
		return err
	}
	if err := j.storage.Queue().Push(ctx, job.ID); err != nil {
		return err
	}
	j.logger.Info().
		Uint64("job_id", job.ID).
		Msg("Janitor requeued stalled job")
	return nil
}

// purgeTerminal deletes terminal jobs past retention and their result rows.
func (j *Janitor) purgeTerminal() {
	ctx := context.Background()
	cutoff := time.Now().Add(-j.config.GetPurgeAfter())

	ids, err := j.storage.Jobs().DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		j.logger.Warn().Err(err).Msg("Janitor purge failed")
		return
	}
	if len(ids) == 0 {
		return
	}

	removed, err := j.storage.Results().DeleteForJobs(ctx, ids)
	if err != nil {
		j.logger.Warn().Err(err).Msg("Janitor purge failed to delete result rows")
	}
	j.logger.Info().
		Int("jobs", len(ids)).
		Int("results", removed).
		Msg("Janitor purged terminal jobs")
}
