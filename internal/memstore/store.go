// Package memstore is an in-process ledger store with per-account row locks
// and all-or-nothing commits. It backs STORE_DRIVER=memory and the tests of
// the packages above it.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/domain"
)

// DefaultLockTimeout bounds how long a transaction waits for a row lock.
const DefaultLockTimeout = 5 * time.Second

type txKey struct{}

// Store holds committed state. Row locks are one-slot channels so a waiter
// can give up on timeout or cancellation.
type Store struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]domain.Account
	locks    map[uuid.UUID]chan struct{}
	records  []*domain.TransactionRecord
	users    map[uuid.UUID]domain.User
	emails   map[string]uuid.UUID
	cards    map[uuid.UUID]domain.Card
	pans     map[string]uuid.UUID

	seq         atomic.Int64
	lockTimeout time.Duration
}

// New creates an empty store. A non-positive lockTimeout uses DefaultLockTimeout.
func New(lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Store{
		accounts:    make(map[uuid.UUID]domain.Account),
		locks:       make(map[uuid.UUID]chan struct{}),
		users:       make(map[uuid.UUID]domain.User),
		emails:      make(map[string]uuid.UUID),
		cards:       make(map[uuid.UUID]domain.Card),
		pans:        make(map[string]uuid.UUID),
		lockTimeout: lockTimeout,
	}
}

// tx is the state of one open transaction.
type tx struct {
	store    *Store
	readOnly bool

	// read-write: locked rows and their staged copies
	held    map[uuid.UUID]*domain.Account
	order   []uuid.UUID
	pending []*domain.TransactionRecord

	// read-only: frozen view of committed state
	accounts map[uuid.UUID]domain.Account
	records  []*domain.TransactionRecord
}

func getTx(ctx context.Context) *tx {
	if t, ok := ctx.Value(txKey{}).(*tx); ok {
		return t
	}
	return nil
}

// WithTransaction executes fn within a transaction. Staged balance changes
// and records become visible together at commit, or not at all.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	t := &tx{store: s, held: make(map[uuid.UUID]*domain.Account)}
	defer t.release()

	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: transaction aborted: %v", domain.ErrTimeout, err)
	}
	t.commit()
	return nil
}

// ReadSnapshot executes fn against a copy of the committed state.
func (s *Store) ReadSnapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.RLock()
	t := &tx{
		store:    s,
		readOnly: true,
		accounts: make(map[uuid.UUID]domain.Account, len(s.accounts)),
		records:  s.records[:len(s.records):len(s.records)],
	}
	for id, a := range s.accounts {
		t.accounts[id] = a
	}
	s.mu.RUnlock()

	return fn(context.WithValue(ctx, txKey{}, t))
}

func (t *tx) commit() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range t.order {
		s.accounts[id] = *t.held[id]
	}
	s.records = append(s.records, t.pending...)
}

func (t *tx) release() {
	for i := len(t.order) - 1; i >= 0; i-- {
		<-t.store.lockFor(t.order[i])
	}
	t.order = nil
}

// lock acquires the row lock of id for t, waiting at most lockTimeout.
func (t *tx) lock(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	if staged, ok := t.held[id]; ok {
		return staged, nil
	}
	s := t.store
	ch := s.lockFor(id)
	if ch == nil {
		return nil, domain.ErrAccountNotFound
	}

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for account %s: %v", domain.ErrTimeout, id, ctx.Err())
	case <-timer.C:
		return nil, fmt.Errorf("%w: lock on account %s not acquired within %s", domain.ErrBusy, id, s.lockTimeout)
	}

	s.mu.RLock()
	committed := s.accounts[id]
	s.mu.RUnlock()

	staged := committed
	t.held[id] = &staged
	t.order = append(t.order, id)
	return &staged, nil
}

func (s *Store) lockFor(id uuid.UUID) chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locks[id]
}

// sortBySequence orders records in commit order.
func sortBySequence(rs []*domain.TransactionRecord) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Sequence < rs[j].Sequence })
}
