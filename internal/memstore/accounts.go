package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/domain"
)

// AccountRepository implements domain.AccountRepository on a Store.
type AccountRepository struct {
	store *Store
}

// Accounts returns the account repository of s.
func (s *Store) Accounts() *AccountRepository {
	return &AccountRepository{store: s}
}

// Create commits the account immediately.
func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account.ID]; ok {
		return fmt.Errorf("%w: account %s already exists", domain.ErrInvalidInput, account.ID)
	}
	s.accounts[account.ID] = *account
	s.locks[account.ID] = make(chan struct{}, 1)
	return nil
}

// GetByID sees staged changes of the current transaction, the snapshot of a
// read-only transaction, or committed state otherwise.
func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	if t := getTx(ctx); t != nil {
		if t.readOnly {
			a, ok := t.accounts[id]
			if !ok {
				return nil, domain.ErrAccountNotFound
			}
			return &a, nil
		}
		if staged, ok := t.held[id]; ok {
			a := *staged
			return &a, nil
		}
	}
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return &a, nil
}

func (r *AccountRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.Account, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Account
	for _, a := range s.accounts {
		if a.OwnerID == ownerID {
			a := a
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Number < out[j].Number
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *AccountRepository) Lock(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	t, err := writable(ctx)
	if err != nil {
		return nil, err
	}
	staged, err := t.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	a := *staged
	return &a, nil
}

func (r *AccountRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	a, err := r.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := a.EnsureActive(); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *AccountRepository) ApplyDelta(ctx context.Context, id uuid.UUID, delta, floor decimal.Decimal) (decimal.Decimal, error) {
	staged, err := held(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	next := staged.Balance.Add(delta)
	if delta.IsNegative() && next.LessThan(floor) {
		return decimal.Zero, fmt.Errorf("%w: balance %s, requested %s", domain.ErrInsufficientFunds,
			domain.FormatAmount(staged.Balance), domain.FormatAmount(delta.Neg()))
	}
	if next.GreaterThan(domain.MaxAmount) {
		return decimal.Zero, fmt.Errorf("%w: balance would exceed %s", domain.ErrInvalidAmount, domain.FormatAmount(domain.MaxAmount))
	}
	staged.Balance = next
	staged.UpdatedAt = time.Now().UTC()
	return next, nil
}

func (r *AccountRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus) error {
	staged, err := held(ctx, id)
	if err != nil {
		return err
	}
	staged.Status = status
	staged.UpdatedAt = time.Now().UTC()
	return nil
}

func writable(ctx context.Context) (*tx, error) {
	t := getTx(ctx)
	if t == nil || t.readOnly {
		return nil, domain.ErrNoTransaction
	}
	return t, nil
}

// held returns the staged row of id, which must be locked by the current transaction.
func held(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	t, err := writable(ctx)
	if err != nil {
		return nil, err
	}
	staged, ok := t.held[id]
	if !ok {
		return nil, fmt.Errorf("%w: account %s is not locked", domain.ErrStoreFailure, id)
	}
	return staged, nil
}
