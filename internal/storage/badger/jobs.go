package badger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/bobmcallan/strata/internal/common"
	"github.com/bobmcallan/strata/internal/interfaces"
	"github.com/bobmcallan/strata/internal/models"
)

// jobStore persists backtest jobs with dedup-key uniqueness, per-row
// exclusive locks, and an optimistic version token on every save.
type jobStore struct {
	store  *Store
	logger *common.Logger
	locks  *lockTable

	// createMu serializes the dedup check-then-insert so the uniqueness
	// constraint cannot race between two concurrent creators.
	createMu sync.Mutex
}

// NewJobStore creates a JobStore backed by the shared badger store.
func NewJobStore(store *Store, logger *common.Logger) interfaces.JobStore {
	return &jobStore{store: store, logger: logger, locks: newLockTable()}
}

func jobLockKey(id uint64) string {
	return fmt.Sprintf("job:%d", id)
}

func (s *jobStore) Create(_ context.Context, job *models.Job) error {
	s.createMu.Lock()
	defer s.createMu.Unlock()

	if job.DedupKey != "" {
		var existing models.Job
		err := s.store.db.FindOne(&existing, badgerhold.Where("DedupKey").Eq(job.DedupKey))
		if err == nil {
			return models.ErrDuplicateKey
		}
		if err != badgerhold.ErrNotFound {
			return fmt.Errorf("failed to check dedup key: %w", err)
		}
	}

	id, err := s.store.NextID("jobs")
	if err != nil {
		return err
	}

	now := time.Now()
	job.ID = id
	job.Version = 1
	job.CreatedAt = now
	job.UpdatedAt = now

	if err := s.store.db.Insert(job.ID, job); err != nil {
		return fmt.Errorf("failed to insert job %d: %w", job.ID, err)
	}
	return nil
}

func (s *jobStore) Get(_ context.Context, id uint64) (*models.Job, error) {
	var job models.Job
	err := s.store.db.Get(id, &job)
	if err == badgerhold.ErrNotFound {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %d: %w", id, err)
	}
	return &job, nil
}

func (s *jobStore) GetByDedupKey(_ context.Context, key string) (*models.Job, error) {
	var job models.Job
	err := s.store.db.FindOne(&job, badgerhold.Where("DedupKey").Eq(key))
	if err == badgerhold.ErrNotFound {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find job by dedup key: %w", err)
	}
	return &job, nil
}

func (s *jobStore) Lock(ctx context.Context, id uint64) (*models.Job, func(), error) {
	key := jobLockKey(id)
	if err := s.locks.Acquire(ctx, key); err != nil {
		return nil, func() {}, err
	}

	job, err := s.Get(ctx, id)
	if err != nil {
		s.locks.Release(key)
		return nil, func() {}, err
	}
	return job, s.locks.releaser(key), nil
}

func (s *jobStore) Save(_ context.Context, job *models.Job) error {
	var current models.Job
	err := s.store.db.Get(job.ID, &current)
	if err == badgerhold.ErrNotFound {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read job %d for save: %w", job.ID, err)
	}

	if current.Version != job.Version {
		return models.ErrStaleVersion
	}

	job.Version++
	job.UpdatedAt = time.Now()

	if err := s.store.db.Update(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job %d: %w", job.ID, err)
	}
	return nil
}

func (s *jobStore) ListBySweep(_ context.Context, sweepID uint64) ([]*models.Job, error) {
	var jobs []*models.Job
	err := s.store.db.Find(&jobs, badgerhold.Where("SweepID").Eq(sweepID).Index("SweepID"))
	if err != nil {
		return nil, fmt.Errorf("failed to list sweep %d children: %w", sweepID, err)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}

func (s *jobStore) CountBySweepAndStatus(_ context.Context, sweepID uint64, status models.JobStatus) (int, error) {
	count, err := s.store.db.Count(&models.Job{},
		badgerhold.Where("SweepID").Eq(sweepID).Index("SweepID").And("Status").Eq(status))
	if err != nil {
		return 0, fmt.Errorf("failed to count sweep %d children: %w", sweepID, err)
	}
	return int(count), nil
}

func (s *jobStore) ListRecent(_ context.Context, limit int) ([]*models.Job, error) {
	var jobs []*models.Job
	if err := s.store.db.Find(&jobs, nil); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID > jobs[j].ID })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *jobStore) ListRunningBefore(_ context.Context, cutoff time.Time) ([]*models.Job, error) {
	var jobs []*models.Job
	err := s.store.db.Find(&jobs,
		badgerhold.Where("Status").Eq(models.JobStatusRunning).And("StartedAt").Lt(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to list running jobs: %w", err)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}

func (s *jobStore) ListPendingBefore(_ context.Context, cutoff time.Time) ([]*models.Job, error) {
	var jobs []*models.Job
	err := s.store.db.Find(&jobs,
		badgerhold.Where("Status").In(models.JobStatusSubmitted, models.JobStatusQueued).
			And("UpdatedAt").Lt(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}

func (s *jobStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) ([]uint64, error) {
	var jobs []*models.Job
	err := s.store.db.Find(&jobs,
		badgerhold.Where("Status").In(models.JobStatusCompleted, models.JobStatusFailed).
			And("UpdatedAt").Lt(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to find terminal jobs: %w", err)
	}

	ids := make([]uint64, 0, len(jobs))
	for _, job := range jobs {
		if err := s.store.db.Delete(job.ID, &models.Job{}); err != nil && err != badgerhold.ErrNotFound {
			return ids, fmt.Errorf("failed to delete job %d: %w", job.ID, err)
		}
		ids = append(ids, job.ID)
	}
	return ids, nil
}
