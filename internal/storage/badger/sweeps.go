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

// sweepStore persists sweep aggregates with the same lock-and-version
// discipline as jobs: counter updates and best-child selection happen
// under the sweep's row lock.
type sweepStore struct {
	store  *Store
	logger *common.Logger
	locks  *lockTable
}

// NewSweepStore creates a SweepStore backed by the shared badger store.
func NewSweepStore(store *Store, logger *common.Logger) interfaces.SweepStore {
	return &sweepStore{store: store, logger: logger, locks: newLockTable()}
}

func sweepLockKey(id uint64) string {
	return fmt.Sprintf("sweep:%d", id)
}

func (s *sweepStore) Create(_ context.Context, sweep *models.Sweep) error {
	id, err := s.store.NextID("sweeps")
	if err != nil {
		return err
	}

	now := time.Now()
	sweep.ID = id
	sweep.Version = 1
	sweep.CreatedAt = now
	sweep.UpdatedAt = now

	if err := s.store.db.Insert(sweep.ID, sweep); err != nil {
		return fmt.Errorf("failed to insert sweep %d: %w", sweep.ID, err)
	}
	return nil
}

func (s *sweepStore) Get(_ context.Context, id uint64) (*models.Sweep, error) {
	var sweep models.Sweep
	err := s.store.db.Get(id, &sweep)
	if err == badgerhold.ErrNotFound {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sweep %d: %w", id, err)
	}
	return &sweep, nil
}

func (s *sweepStore) Lock(ctx context.Context, id uint64) (*models.Sweep, func(), error) {
	key := sweepLockKey(id)
	if err := s.locks.Acquire(ctx, key); err != nil {
		return nil, func() {}, err
	}

	sweep, err := s.Get(ctx, id)
	if err != nil {
		s.locks.Release(key)
		return nil, func() {}, err
	}
	return sweep, s.locks.releaser(key), nil
}

func (s *sweepStore) Save(_ context.Context, sweep *models.Sweep) error {
	var current models.Sweep
	err := s.store.db.Get(sweep.ID, &current)
	if err == badgerhold.ErrNotFound {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read sweep %d for save: %w", sweep.ID, err)
	}

	if current.Version != sweep.Version {
		return models.ErrStaleVersion
	}

	sweep.Version++
	sweep.UpdatedAt = time.Now()

	if err := s.store.db.Update(sweep.ID, sweep); err != nil {
		return fmt.Errorf("failed to save sweep %d: %w", sweep.ID, err)
	}
	return nil
}
