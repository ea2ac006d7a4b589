package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/bobmcallan/strata/internal/common"
	"github.com/bobmcallan/strata/internal/interfaces"
	"github.com/bobmcallan/strata/internal/models"
)

// resultStore persists per-attempt backtest results. Rows are append-only;
// a retried job accumulates one row per successful attempt and the newest
// row (highest id) is the authoritative one.
type resultStore struct {
	store  *Store
	logger *common.Logger
}

// NewResultStore creates a ResultStore backed by the shared badger store.
func NewResultStore(store *Store, logger *common.Logger) interfaces.ResultStore {
	return &resultStore{store: store, logger: logger}
}

func (s *resultStore) Create(_ context.Context, result *models.BacktestResult) error {
	id, err := s.store.NextID("results")
	if err != nil {
		return err
	}

	result.ID = id
	result.CreatedAt = time.Now()

	if err := s.store.db.Insert(result.ID, result); err != nil {
		return fmt.Errorf("failed to insert result for job %d: %w", result.JobID, err)
	}
	return nil
}

func (s *resultStore) LatestForJob(_ context.Context, jobID uint64) (*models.BacktestResult, error) {
	var results []*models.BacktestResult
	err := s.store.db.Find(&results, badgerhold.Where("JobID").Eq(jobID).Index("JobID"))
	if err != nil {
		return nil, fmt.Errorf("failed to find results for job %d: %w", jobID, err)
	}

	var latest *models.BacktestResult
	for _, r := range results {
		if latest == nil || r.ID > latest.ID {
			latest = r
		}
	}
	if latest == nil {
		return nil, models.ErrNotFound
	}
	return latest, nil
}

// LatestForJobs bulk-loads the newest result per job in a single scan,
// avoiding a per-child round-trip when a sweep aggregates its children.
func (s *resultStore) LatestForJobs(_ context.Context, jobIDs []uint64) (map[uint64]*models.BacktestResult, error) {
	if len(jobIDs) == 0 {
		return map[uint64]*models.BacktestResult{}, nil
	}

	ids := make([]interface{}, len(jobIDs))
	for i, id := range jobIDs {
		ids[i] = id
	}

	var results []*models.BacktestResult
	err := s.store.db.Find(&results, badgerhold.Where("JobID").In(ids...).Index("JobID"))
	if err != nil {
		return nil, fmt.Errorf("failed to bulk-load results: %w", err)
	}

	latest := make(map[uint64]*models.BacktestResult, len(jobIDs))
	for _, r := range results {
		if prev, ok := latest[r.JobID]; !ok || r.ID > prev.ID {
			latest[r.JobID] = r
		}
	}
	return latest, nil
}

func (s *resultStore) DeleteForJobs(_ context.Context, jobIDs []uint64) (int, error) {
	if len(jobIDs) == 0 {
		return 0, nil
	}

	ids := make([]interface{}, len(jobIDs))
	for i, id := range jobIDs {
		ids[i] = id
	}

	var results []*models.BacktestResult
	err := s.store.db.Find(&results, badgerhold.Where("JobID").In(ids...).Index("JobID"))
	if err != nil {
		return 0, fmt.Errorf("failed to find results for deletion: %w", err)
	}

	deleted := 0
	for _, r := range results {
		if err := s.store.db.Delete(r.ID, &models.BacktestResult{}); err != nil && err != badgerhold.ErrNotFound {
			return deleted, fmt.Errorf("failed to delete result %d: %w", r.ID, err)
		}
		deleted++
	}
	return deleted, nil
}
