package badger

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/bobmcallan/strata/internal/common"
	"github.com/bobmcallan/strata/internal/interfaces"
)

// queuePrefix namespaces dispatch entries in the shared keyspace. Keys are
// zero-padded sequence numbers so iteration order is enqueue order.
const queuePrefix = "q:backtest:"

// dispatchQueue is a durable FIFO of job ids on the raw badger keyspace.
// Push appends under a monotonic sequence; Pop claims and deletes the head
// atomically. Badger's transaction conflict detection guarantees no two
// poppers ever claim the same entry.
type dispatchQueue struct {
	store  *Store
	logger *common.Logger

	// notify wakes at most one blocked Pop per Push. A missed wakeup is
	// harmless: Pop also polls on a short interval.
	notify chan struct{}
}

// NewDispatchQueue creates a DispatchQueue backed by the shared badger store.
func NewDispatchQueue(store *Store, logger *common.Logger) interfaces.DispatchQueue {
	return &dispatchQueue{
		store:  store,
		logger: logger,
		notify: make(chan struct{}, 1),
	}
}

func queueKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", queuePrefix, seq))
}

func (q *dispatchQueue) Push(_ context.Context, jobID uint64) error {
	seq, err := q.store.NextID("queue")
	if err != nil {
		return fmt.Errorf("failed to advance queue sequence: %w", err)
	}

	var value [8]byte
	binary.BigEndian.PutUint64(value[:], jobID)

	err = q.store.db.Badger().Update(func(txn *badgerdb.Txn) error {
		return txn.Set(queueKey(seq), value[:])
	})
	if err != nil {
		return fmt.Errorf("failed to push job %d: %w", jobID, err)
	}

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *dispatchQueue) Pop(ctx context.Context, timeout time.Duration) (uint64, bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		jobID, claimed, err := q.claim()
		if err != nil {
			return 0, false, err
		}
		if claimed {
			return jobID, true, nil
		}

		select {
		case <-ctx.Done():
			return 0, false, ctx.Err()
		case <-deadline.C:
			return 0, false, nil
		case <-q.notify:
		case <-time.After(100 * time.Millisecond):
			// Poll fallback for wakeups lost to a competing popper.
		}
	}
}

// claim atomically removes and returns the head entry. Concurrent claimers
// conflict on the same key; the loser retries against the new head.
func (q *dispatchQueue) claim() (uint64, bool, error) {
	for {
		var jobID uint64
		found := false

		err := q.store.db.Badger().Update(func(txn *badgerdb.Txn) error {
			opts := badgerdb.DefaultIteratorOptions
			opts.PrefetchValues = true
			opts.Prefix = []byte(queuePrefix)
			it := txn.NewIterator(opts)
			defer it.Close()

			it.Rewind()
			if !it.ValidForPrefix([]byte(queuePrefix)) {
				return nil
			}

			item := it.Item()
			key := item.KeyCopy(nil)
			err := item.Value(func(val []byte) error {
				if len(val) != 8 {
					return fmt.Errorf("malformed queue entry %s", key)
				}
				jobID = binary.BigEndian.Uint64(val)
				return nil
			})
			if err != nil {
				return err
			}

			if err := txn.Delete(key); err != nil {
				return err
			}
			found = true
			return nil
		})
		if err == badgerdb.ErrConflict {
			continue
		}
		if err != nil {
			return 0, false, fmt.Errorf("failed to claim queue head: %w", err)
		}
		return jobID, found, nil
	}
}

func (q *dispatchQueue) Len() (int, error) {
	count := 0
	err := q.store.db.Badger().View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(queuePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix([]byte(queuePrefix)); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to measure queue depth: %w", err)
	}
	return count, nil
}
