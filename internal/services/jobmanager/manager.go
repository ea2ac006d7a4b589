// Package jobmanager runs the worker pool that drains the dispatch queue,
// the WebSocket hub for job lifecycle events, and the janitor that requeues
// stuck executions and purges old terminal jobs.
package jobmanager

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bobmcallan/strata/internal/common"
	"github.com/bobmcallan/strata/internal/interfaces"
	"github.com/bobmcallan/strata/internal/metrics"
	"github.com/bobmcallan/strata/internal/models"
)

// Manager owns the processor goroutines. Each processor pops one job id at a
// time, applies the retry backoff, and hands the id to the executor. The
// queue entry is only a dispatch hint; the executor re-checks job state under
// the row lock, so duplicate or stale deliveries are harmless.
type Manager struct {
	storage   interfaces.StorageManager
	executor  interfaces.Executor
	logger    *common.Logger
	hub       *Hub
	collector *metrics.Collector
	workers   common.WorkersConfig
	janitor   *Janitor

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates the job manager. collector may be nil.
func NewManager(
	storage interfaces.StorageManager,
	executor interfaces.Executor,
	logger *common.Logger,
	collector *metrics.Collector,
	workers common.WorkersConfig,
	janitorCfg common.JanitorConfig,
) *Manager {
	m := &Manager{
		storage:   storage,
		executor:  executor,
		logger:    logger,
		hub:       NewHub(logger),
		collector: collector,
		workers:   workers,
	}
	m.janitor = NewJanitor(storage, logger, collector, janitorCfg, workers.GetMaxAttempts())
	return m
}

// Hub returns the WebSocket hub for handler registration and event publishing.
func (m *Manager) Hub() *Hub {
	return m.hub
}

// SetSweepService forwards the sweep coordinator to the janitor.
func (m *Manager) SetSweepService(s interfaces.SweepService) {
	m.janitor.SetSweepService(s)
}

// safeGo launches a goroutine with panic recovery and logging.
func (m *Manager) safeGo(name string, fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic in job manager goroutine")
			}
		}()
		fn()
	}()
}

// Start resets orphaned RUNNING jobs from a previous crash, then launches
// the hub, the processor pool, and the janitor. Safe to call again after
// Stop.
func (m *Manager) Start() {
	if m.cancel != nil {
		m.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	if count, err := m.resetOrphans(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to reset orphaned running jobs")
	} else if count > 0 {
		m.logger.Info().Int("count", count).Msg("Requeued orphaned running jobs from previous run")
	}

	m.safeGo("websocket-hub", func() { m.hub.Run() })

	if !m.workers.Enabled {
		m.logger.Info().Msg("Worker pool disabled, jobs will queue without executing")
		return
	}

	count := m.workers.Count
	if count <= 0 {
		count = 3
	}
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("processor-%d", i)
		m.safeGo(name, func() { m.processLoop(ctx) })
	}

	m.janitor.Start()

	m.logger.Info().
		Int("workers", count).
		Dur("poll_timeout", m.workers.GetPollTimeout()).
		Int("max_attempts", m.workers.GetMaxAttempts()).
		Msg("Job manager started")
}

// Stop cancels the loops and waits for in-flight work, bounded by the
// shutdown grace period. A job still executing past the grace window is
// abandoned as RUNNING and recovered by the next start's orphan reset.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.janitor.Stop()
	m.hub.Stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	grace := m.workers.GetShutdownGrace()
	select {
	case <-done:
		m.logger.Info().Msg("Job manager stopped")
	case <-time.After(grace):
		m.logger.Warn().
			Dur("grace", grace).
			Msg("Job manager shutdown grace expired with work still in flight")
	}
}

// resetOrphans flips RUNNING rows left behind by a crash back to QUEUED and
// pushes them onto the dispatch queue. Any StartedAt qualifies: nothing can
// legitimately be RUNNING before the pool starts.
func (m *Manager) resetOrphans(ctx context.Context) (int, error) {
	orphans, err := m.storage.Jobs().ListRunningBefore(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	count := 0
	for _, orphan := range orphans {
		job, release, err := m.storage.Jobs().Lock(ctx, orphan.ID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			return count, err
		}

		if job.Status != models.JobStatusRunning {
			release()
			continue
		}

		job.Status = models.JobStatusQueued
		err = m.storage.Jobs().Save(ctx, job)
		release()
		if err != nil {
			m.logger.Warn().Uint64("job_id", job.ID).Err(err).Msg("Failed to reset orphaned job")
			continue
		}
		if err := m.storage.Queue().Push(ctx, job.ID); err != nil {
			m.logger.Warn().Uint64("job_id", job.ID).Err(err).Msg("Failed to requeue orphaned job")
			continue
		}
		count++
	}
	return count, nil
}

// processLoop pops and executes jobs until ctx is cancelled.
func (m *Manager) processLoop(ctx context.Context) {
	pollTimeout := m.workers.GetPollTimeout()
	recoveryDelay := m.workers.GetRecoveryDelay()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobID, ok, err := m.storage.Queue().Pop(ctx, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn().Err(err).Msg("Queue pop failed, backing off")
			if !sleepCtx(ctx, recoveryDelay) {
				return
			}
			continue
		}
		if !ok {
			// Poll timeout, no work.
			continue
		}

		m.updateQueueDepth()

		if !m.awaitBackoff(ctx, jobID) {
			return
		}

		if err := m.executor.Execute(ctx, jobID); err != nil {
			m.logger.Warn().Uint64("job_id", jobID).Err(err).Msg("Executor fault, backing off")
			if !sleepCtx(ctx, recoveryDelay) {
				return
			}
		}
	}
}

// awaitBackoff sleeps the retry delay for jobs with prior failed attempts.
// The read is lock-free: the delay is a scheduling hint, and the executor
// validates actual state afterwards. Returns false when ctx ends first.
func (m *Manager) awaitBackoff(ctx context.Context, jobID uint64) bool {
	job, err := m.storage.Jobs().Get(ctx, jobID)
	if err != nil {
		// Missing row is handled by the executor.
		return true
	}
	delay := m.workers.BackoffFor(job.Attempts)
	if delay <= 0 {
		return true
	}
	m.logger.Debug().
		Uint64("job_id", jobID).
		Int("attempts", job.Attempts).
		Dur("delay", delay).
		Msg("Applying retry backoff")
	return sleepCtx(ctx, delay)
}

func (m *Manager) updateQueueDepth() {
	if m.collector == nil {
		return
	}
	if depth, err := m.storage.Queue().Len(); err == nil {
		m.collector.SetQueueDepth(depth)
	}
}

// sleepCtx sleeps d or until ctx is done; false means ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
