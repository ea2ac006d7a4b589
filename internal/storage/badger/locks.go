package badger

import (
	"context"
	"sync"
)

// lockTable provides per-key exclusive locks. It stands in for row-level
// SELECT FOR UPDATE: the process is the only writer to the embedded store,
// so an in-process keyed lock gives the same serialization guarantee. The
// optimistic version token on each row still guards against a competing
// code path mutating the row between two lock acquisitions.
type lockTable struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{held: make(map[string]chan struct{})}
}

// Acquire blocks until the lock for key is free or ctx is done.
func (t *lockTable) Acquire(ctx context.Context, key string) error {
	for {
		t.mu.Lock()
		ch, taken := t.held[key]
		if !taken {
			t.held[key] = make(chan struct{})
			t.mu.Unlock()
			return nil
		}
		t.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
			// Holder released; race for the lock again.
		}
	}
}

// Release frees the lock for key, waking all waiters.
func (t *lockTable) Release(key string) {
	t.mu.Lock()
	if ch, taken := t.held[key]; taken {
		delete(t.held, key)
		close(ch)
	}
	t.mu.Unlock()
}

// releaser wraps Release in a sync.Once so deferred double-release is safe.
func (t *lockTable) releaser(key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { t.Release(key) })
	}
}
