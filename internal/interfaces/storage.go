// Package interfaces defines service contracts for Strata
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/strata/internal/models"
)

// StorageManager coordinates all storage backends
type StorageManager interface {
	// Store accessors
	Jobs() JobStore
	Results() ResultStore
	Sweeps() SweepStore
	MarketData() MarketDataStore
	Queue() DispatchQueue

	// DataPath returns the base data directory path.
	DataPath() string

	// Lifecycle
	Close() error
}

// JobStore persists backtest jobs. Mutations go through Lock/Save: Lock
// serializes writers per row, Save enforces the optimistic version token on
// top of that so a stale read can never clobber a newer write.
type JobStore interface {
	// Create assigns an id, stamps timestamps, and inserts the job.
	// Returns models.ErrDuplicateKey when the dedup key already exists.
	Create(ctx context.Context, job *models.Job) error

	// Get reads a job without locking. Returns models.ErrNotFound when absent.
	Get(ctx context.Context, id uint64) (*models.Job, error)

	// GetByDedupKey reads a job by its deduplication key.
	GetByDedupKey(ctx context.Context, key string) (*models.Job, error)

	// Lock acquires the row lock for id and returns a fresh read of the
	// row. The release func must be called exactly once. Blocks until the
	// lock is free or ctx is done. Returns models.ErrNotFound (with a
	// no-op release) when the row is absent.
	Lock(ctx context.Context, id uint64) (*models.Job, func(), error)

	// Save writes a job previously read under the row lock, incrementing
	// its version. Returns models.ErrStaleVersion when the stored version
	// no longer matches the one carried by job.
	Save(ctx context.Context, job *models.Job) error

	// ListBySweep returns all children of a sweep ordered by id.
	ListBySweep(ctx context.Context, sweepID uint64) ([]*models.Job, error)

	// CountBySweepAndStatus counts a sweep's children in one state.
	CountBySweepAndStatus(ctx context.Context, sweepID uint64, status models.JobStatus) (int, error)

	// ListRecent returns the newest jobs, up to limit.
	ListRecent(ctx context.Context, limit int) ([]*models.Job, error)

	// ListRunningBefore returns RUNNING jobs whose StartedAt is older than
	// cutoff. Used by the janitor to find abandoned executions.
	ListRunningBefore(ctx context.Context, cutoff time.Time) ([]*models.Job, error)

	// ListPendingBefore returns SUBMITTED and QUEUED jobs last updated
	// before cutoff. Used by the janitor to find rows whose queue entry was
	// lost (failed push, shutdown between pop and execute).
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*models.Job, error)

	// DeleteTerminalBefore removes terminal jobs last updated before
	// cutoff, returning their ids.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) ([]uint64, error)
}

// ResultStore persists per-attempt backtest results. Rows are append-only;
// the newest row for a job is the authoritative one.
type ResultStore interface {
	// Create assigns an id and inserts the result row.
	Create(ctx context.Context, result *models.BacktestResult) error

	// LatestForJob returns the newest result for a job.
	// Returns models.ErrNotFound when the job has produced none.
	LatestForJob(ctx context.Context, jobID uint64) (*models.BacktestResult, error)

	// LatestForJobs bulk-loads the newest result for each job id. Jobs
	// without results are simply absent from the returned map.
	LatestForJobs(ctx context.Context, jobIDs []uint64) (map[uint64]*models.BacktestResult, error)

	// DeleteForJobs removes all result rows belonging to the given jobs,
	// returning the number removed.
	DeleteForJobs(ctx context.Context, jobIDs []uint64) (int, error)
}

// SweepStore persists sweep aggregates. Counter and best-child mutations go
// through Lock/Save exactly like jobs.
type SweepStore interface {
	Create(ctx context.Context, sweep *models.Sweep) error
	Get(ctx context.Context, id uint64) (*models.Sweep, error)

	// Lock acquires the sweep row lock; same contract as JobStore.Lock.
	Lock(ctx context.Context, id uint64) (*models.Sweep, func(), error)

	// Save writes a sweep read under the row lock; same contract as
	// JobStore.Save.
	Save(ctx context.Context, sweep *models.Sweep) error
}

// MarketDataStore persists daily bars keyed by (symbol, date).
type MarketDataStore interface {
	// PutBars upserts bars; existing (symbol, date) rows are overwritten.
	PutBars(ctx context.Context, bars []*models.MarketBar) error

	// GetRange returns bars for symbol within the closed interval
	// [start, end], ordered by date ascending.
	GetRange(ctx context.Context, symbol, start, end string) ([]*models.MarketBar, error)

	// CountForSymbol reports how many bars are stored for a symbol.
	CountForSymbol(ctx context.Context, symbol string) (int, error)
}

// DispatchQueue carries job ids from submission to the worker pool. It is a
// dispatch hint, not the source of truth: consumers must tolerate duplicate
// and stale deliveries and re-check job state under the row lock.
type DispatchQueue interface {
	// Push appends a job id. The entry is durable when Push returns.
	Push(ctx context.Context, jobID uint64) error

	// Pop blocks up to timeout for the next id; ok=false on timeout. No
	// two callers ever receive the same id from a single push.
	Pop(ctx context.Context, timeout time.Duration) (jobID uint64, ok bool, err error)

	// Len returns the number of ids currently queued.
	Len() (int, error)
}
