// Package badger provides BadgerHold-based storage for jobs, results,
// sweeps, and market data, plus the durable dispatch queue that feeds the
// worker pool. All stores share one Store wrapper and one underlying DB.
package badger

import (
	"fmt"
	"os"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/bobmcallan/strata/internal/common"
)

// Store wraps a BadgerHold database connection shared by all entity stores.
// It owns the id sequences and the background value-log GC loop.
type Store struct {
	db     *badgerhold.Store
	logger *common.Logger

	seqMu sync.Mutex
	seqs  map[string]*badgerdb.Sequence

	gcStop chan struct{}
	gcDone chan struct{}
}

// NewStore opens a BadgerHold store at the given directory path.
func NewStore(logger *common.Logger, path string) (*Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create badger directory %s: %w", path, err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil // Disable default badger logger

	db, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug().Str("path", path).Msg("BadgerHold store opened")

	s := &Store{
		db:     db,
		logger: logger,
		seqs:   make(map[string]*badgerdb.Sequence),
		gcStop: make(chan struct{}),
		gcDone: make(chan struct{}),
	}
	go s.gcLoop()

	return s, nil
}

// DB returns the underlying badgerhold store.
func (s *Store) DB() *badgerhold.Store {
	return s.db
}

// NextID returns the next id from the named monotonic sequence. Ids start
// at 1 so a zero value always means "unassigned".
func (s *Store) NextID(name string) (uint64, error) {
	s.seqMu.Lock()
	seq, ok := s.seqs[name]
	if !ok {
		var err error
		seq, err = s.db.Badger().GetSequence([]byte("seq:"+name), 64)
		if err != nil {
			s.seqMu.Unlock()
			return 0, fmt.Errorf("failed to open sequence %s: %w", name, err)
		}
		s.seqs[name] = seq
	}
	s.seqMu.Unlock()

	n, err := seq.Next()
	if err != nil {
		return 0, fmt.Errorf("failed to advance sequence %s: %w", name, err)
	}
	return n + 1, nil
}

// gcLoop runs badger value-log garbage collection periodically.
func (s *Store) gcLoop() {
	defer close(s.gcDone)
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			// ErrNoRewrite is the normal "nothing to collect" outcome.
			if err := s.db.Badger().RunValueLogGC(0.5); err != nil && err != badgerdb.ErrNoRewrite {
				s.logger.Debug().Err(err).Msg("Badger value log GC")
			}
		}
	}
}

// Close releases the sequences and closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}

	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
	}

	s.seqMu.Lock()
	for name, seq := range s.seqs {
		if err := seq.Release(); err != nil {
			s.logger.Warn().Str("sequence", name).Err(err).Msg("Failed to release sequence")
		}
	}
	s.seqs = nil
	s.seqMu.Unlock()

	return s.db.Close()
}
