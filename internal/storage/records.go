package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"
	retry "github.com/sethvargo/go-retry"

	"github.com/myuser/xctstore/internal/metrics"
	"github.com/myuser/xctstore/internal/storage/log"
	"github.com/myuser/xctstore/internal/thread"
	"github.com/myuser/xctstore/internal/xct"
)

var (
	// ErrNotFound: no valid version of the key exists.
	ErrNotFound = errors.New("key not found")
	// ErrLockBusy: the record lock stayed unavailable through the whole
	// backoff budget. The transaction typically aborts and retries.
	ErrLockBusy = errors.New("record lock busy")

	errTryAgain = errors.New("lock unavailable")
)

// Record is one key slot: the lock-carrying header plus the current value.
// The header's lock serializes all access to Value and to the version word.
type Record struct {
	Key    []byte
	Header xct.RwLockableXctID
	Value  []byte
}

type item struct {
	rec *Record
}

func (i *item) Less(than btree.Item) bool {
	return bytes.Compare(i.rec.Key, than.(*item).rec.Key) < 0
}

// Store implements Engine over a btree of records. The tree mutex only
// guards tree structure (slot creation and iteration order); record contents
// are guarded by each record's own try-lock, acquired through the calling
// worker's block pool.
type Store struct {
	mu    sync.RWMutex
	tree  *btree.BTree
	epoch xct.EpochCounter

	clog *log.Log // nil: no durability

	// Backoff budget around try-acquire. Retry policy lives here, in the
	// caller, never inside the lock.
	lockRetries uint64
	lockBackoff time.Duration
}

func NewStore() *Store {
	return &Store{
		tree:        btree.New(32),
		lockRetries: 100,
		lockBackoff: 10 * time.Microsecond,
	}
}

// NewStoreWithLog opens a store backed by a commit log, replaying any
// existing entries. Replay runs before workers exist, so no locks are taken.
func NewStoreWithLog(path string) (*Store, error) {
	clog, err := log.Open(path)
	if err != nil {
		return nil, err
	}
	s := NewStore()
	s.clog = clog
	err = clog.Replay(func(e log.Entry) error {
		rec := s.slot(e.Key)
		rec.Value = append(rec.Value[:0], e.Value...)
		rec.Header.ID.Store(e.Epoch, e.Ordinal)
		if e.Deleted {
			rec.Header.ID.SetDeleted()
		} else {
			rec.Header.ID.ClearDeleted()
		}
		return nil
	})
	if err != nil {
		clog.Close()
		return nil, fmt.Errorf("commit log replay: %w", err)
	}
	return s, nil
}

// slot returns the record for key, creating the empty slot if absent.
func (s *Store) slot(key []byte) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	probe := &item{rec: &Record{Key: key}}
	if got := s.tree.Get(probe); got != nil {
		return got.(*item).rec
	}
	rec := &Record{Key: append([]byte(nil), key...)}
	rec.Header.Reset()
	s.tree.ReplaceOrInsert(&item{rec: rec})
	return rec
}

// lookup returns the record for key without creating it.
func (s *Store) lookup(key []byte) *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	probe := &item{rec: &Record{Key: key}}
	if got := s.tree.Get(probe); got != nil {
		return got.(*item).rec
	}
	return nil
}

// withBackoff drives one try-acquire attempt through the bounded fibonacci
// backoff budget.
func (s *Store) withBackoff(ctx context.Context, attempt func() bool) error {
	b := retry.WithMaxRetries(s.lockRetries, retry.NewFibonacci(s.lockBackoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if attempt() {
			return nil
		}
		return retry.RetryableError(errTryAgain)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, errTryAgain) {
		metrics.Inc("store.lock.busy")
		return ErrLockBusy
	}
	return err // context cancellation
}

// Get reads the current version of key under a reader grant.
func (s *Store) Get(ctx context.Context, tc *thread.Context, key []byte) ([]byte, error) {
	rec := s.lookup(key)
	if rec == nil {
		return nil, ErrNotFound
	}

	var block xct.BlockIndex
	lock := rec.Header.KeyLock()
	if err := s.withBackoff(ctx, func() bool {
		block = tc.TryAcquireReaderLock(lock)
		return block != 0
	}); err != nil {
		return nil, err
	}
	defer tc.ReleaseReaderLock(lock, block)

	if !rec.Header.ID.IsValid() || rec.Header.ID.IsDeleted() {
		return nil, ErrNotFound
	}
	metrics.Inc("store.get.ok")
	return append([]byte(nil), rec.Value...), nil
}

// Put installs a new version of key under the writer grant: new epoch,
// next ordinal, valid bit set, then the commit log entry.
func (s *Store) Put(ctx context.Context, tc *thread.Context, key, value []byte) error {
	rec := s.slot(key)

	var block xct.BlockIndex
	lock := rec.Header.KeyLock()
	if err := s.withBackoff(ctx, func() bool {
		block = tc.TryAcquireWriterLock(lock)
		return block != 0
	}); err != nil {
		return err
	}
	defer tc.ReleaseWriterLock(lock, block)

	epoch := s.epoch.Advance()
	ordinal := rec.Header.ID.Ordinal() + 1
	rec.Value = append(rec.Value[:0], value...)
	rec.Header.ID.ClearDeleted()
	rec.Header.ID.Store(epoch, ordinal)

	if s.clog != nil {
		e := log.Entry{Epoch: epoch, Ordinal: ordinal, Key: rec.Key, Value: value}
		if err := s.clog.Append(e); err != nil {
			return fmt.Errorf("commit log append: %w", err)
		}
	}
	metrics.Inc("store.put.ok")
	return nil
}

// Delete marks key deleted under the writer grant. The slot and its lock
// stay; deletion is a status bit, not removal.
func (s *Store) Delete(ctx context.Context, tc *thread.Context, key []byte) error {
	rec := s.lookup(key)
	if rec == nil {
		return ErrNotFound
	}

	var block xct.BlockIndex
	lock := rec.Header.KeyLock()
	if err := s.withBackoff(ctx, func() bool {
		block = tc.TryAcquireWriterLock(lock)
		return block != 0
	}); err != nil {
		return err
	}
	defer tc.ReleaseWriterLock(lock, block)

	if !rec.Header.ID.IsValid() || rec.Header.ID.IsDeleted() {
		return ErrNotFound
	}
	epoch := s.epoch.Advance()
	ordinal := rec.Header.ID.Ordinal() + 1
	rec.Header.ID.SetDeleted()
	rec.Header.ID.Store(epoch, ordinal)

	if s.clog != nil {
		e := log.Entry{Epoch: epoch, Ordinal: ordinal, Deleted: true, Key: rec.Key}
		if err := s.clog.Append(e); err != nil {
			return fmt.Errorf("commit log append: %w", err)
		}
	}
	metrics.Inc("store.delete.ok")
	return nil
}

// Scan iterates slots in key order without taking record locks.
func (s *Store) Scan(start, end []byte, handler func(key []byte, header *xct.RwLockableXctID, value []byte) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	iter := func(i btree.Item) bool {
		rec := i.(*item).rec
		if end != nil && bytes.Compare(rec.Key, end) >= 0 {
			return false
		}
		return handler(rec.Key, &rec.Header, rec.Value)
	}
	if start == nil {
		s.tree.Ascend(iter)
	} else {
		s.tree.AscendGreaterOrEqual(&item{rec: &Record{Key: start}}, iter)
	}
	return nil
}

// Len returns the slot count, deleted slots included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

func (s *Store) Close() error {
	if s.clog != nil {
		return s.clog.Close()
	}
	return nil
}
