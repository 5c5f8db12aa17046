package memstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/domain"
	"github.com/spbu-ds-practicum-2025/ledger-service/internal/memstore"
)

func newAccount(t *testing.T, s *memstore.Store, balance string) *domain.Account {
	t.Helper()
	acc := domain.NewAccount(uuid.New(), domain.AccountTypeChecking, "RUB", decimal.RequireFromString(balance))
	if err := s.Accounts().Create(context.Background(), acc); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
	return acc
}

func TestWithTransaction_RollbackDiscardsStagedChanges(t *testing.T) {
	s := memstore.New(time.Second)
	acc := newAccount(t, s, "100.00")
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.Accounts().GetForUpdate(ctx, acc.ID); err != nil {
			return err
		}
		balance, err := s.Accounts().ApplyDelta(ctx, acc.ID, decimal.RequireFromString("50"), decimal.Zero)
		if err != nil {
			return err
		}
		rec := domain.NewRecord(acc.ID, domain.RecordKindDeposit, decimal.RequireFromString("50"), balance, "", nil)
		rec.MarkCompleted()
		if err := s.Records().Record(ctx, rec); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, err := s.Accounts().GetByID(ctx, acc.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !got.Balance.Equal(decimal.RequireFromString("100")) {
		t.Errorf("expected balance 100.00 after rollback, got %s", got.Balance)
	}
	history, err := s.Records().ListByAccount(ctx, acc.ID, domain.RecordFilter{})
	if err != nil {
		t.Fatalf("ListByAccount failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("expected no records after rollback, got %d", len(history))
	}
}

func TestApplyDelta_RespectsFloor(t *testing.T) {
	s := memstore.New(time.Second)
	acc := newAccount(t, s, "10.00")

	tests := []struct {
		name    string
		delta   string
		floor   string
		wantErr error
		want    string
	}{
		{name: "debit within balance", delta: "-10.00", floor: "0", want: "0"},
		{name: "debit past zero", delta: "-10.01", floor: "0", wantErr: domain.ErrInsufficientFunds},
		{name: "debit into overdraft", delta: "-60.00", floor: "-50", want: "-50"},
		{name: "debit past overdraft", delta: "-60.01", floor: "-50", wantErr: domain.ErrInsufficientFunds},
		{name: "credit ignores floor", delta: "5.00", floor: "100", want: "15"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got decimal.Decimal
			err := s.WithTransaction(context.Background(), func(ctx context.Context) error {
				if _, err := s.Accounts().GetForUpdate(ctx, acc.ID); err != nil {
					return err
				}
				var err error
				got, err = s.Accounts().ApplyDelta(ctx, acc.ID, decimal.RequireFromString(tt.delta), decimal.RequireFromString(tt.floor))
				if err != nil {
					return err
				}
				// keep the account at 10.00 for the next case
				return errors.New("rollback")
			})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestMutationsOutsideTransaction(t *testing.T) {
	s := memstore.New(time.Second)
	acc := newAccount(t, s, "10.00")
	ctx := context.Background()

	if _, err := s.Accounts().GetForUpdate(ctx, acc.ID); !errors.Is(err, domain.ErrNoTransaction) {
		t.Errorf("GetForUpdate: expected ErrNoTransaction, got %v", err)
	}
	if _, err := s.Accounts().ApplyDelta(ctx, acc.ID, decimal.NewFromInt(1), decimal.Zero); !errors.Is(err, domain.ErrNoTransaction) {
		t.Errorf("ApplyDelta: expected ErrNoTransaction, got %v", err)
	}
	rec := domain.NewRecord(acc.ID, domain.RecordKindDeposit, decimal.NewFromInt(1), decimal.NewFromInt(11), "", nil)
	if err := s.Records().Record(ctx, rec); !errors.Is(err, domain.ErrStoreFailure) {
		t.Errorf("Record: expected store failure, got %v", err)
	}
}

func TestGetForUpdate_Status(t *testing.T) {
	s := memstore.New(time.Second)
	ctx := context.Background()

	tests := []struct {
		status  domain.AccountStatus
		wantErr error
	}{
		{domain.AccountStatusActive, nil},
		{domain.AccountStatusFrozen, domain.ErrAccountFrozen},
		{domain.AccountStatusClosed, domain.ErrAccountClosed},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			acc := domain.NewAccount(uuid.New(), domain.AccountTypeSavings, "RUB", decimal.Zero)
			acc.Status = tt.status
			if err := s.Accounts().Create(ctx, acc); err != nil {
				t.Fatalf("create: %v", err)
			}
			err := s.WithTransaction(ctx, func(ctx context.Context) error {
				_, err := s.Accounts().GetForUpdate(ctx, acc.ID)
				return err
			})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr != nil && !errors.Is(err, domain.ErrAccountNotActive) {
				t.Errorf("expected error to be ErrAccountNotActive, got %v", err)
			}
		})
	}

	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		_, err := s.Accounts().GetForUpdate(ctx, uuid.New())
		return err
	})
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestLock_TimesOutAsBusy(t *testing.T) {
	s := memstore.New(50 * time.Millisecond)
	acc := newAccount(t, s, "10.00")

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.WithTransaction(context.Background(), func(ctx context.Context) error {
			if _, err := s.Accounts().Lock(ctx, acc.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	err := s.WithTransaction(context.Background(), func(ctx context.Context) error {
		_, err := s.Accounts().Lock(ctx, acc.ID)
		return err
	})
	if !errors.Is(err, domain.ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("holder transaction failed: %v", err)
	}

	// the lock is free again
	err = s.WithTransaction(context.Background(), func(ctx context.Context) error {
		_, err := s.Accounts().Lock(ctx, acc.ID)
		return err
	})
	if err != nil {
		t.Errorf("expected lock to be released, got %v", err)
	}
}

func TestWithTransaction_CancelledBeforeCommit(t *testing.T) {
	s := memstore.New(time.Second)
	acc := newAccount(t, s, "10.00")

	ctx, cancel := context.WithCancel(context.Background())
	err := s.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := s.Accounts().GetForUpdate(txCtx, acc.ID); err != nil {
			return err
		}
		if _, err := s.Accounts().ApplyDelta(txCtx, acc.ID, decimal.NewFromInt(5), decimal.Zero); err != nil {
			return err
		}
		cancel()
		return nil
	})
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	got, _ := s.Accounts().GetByID(context.Background(), acc.ID)
	if !got.Balance.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected balance unchanged at 10, got %s", got.Balance)
	}
}

func TestReadSnapshot_IgnoresLaterCommits(t *testing.T) {
	s := memstore.New(time.Second)
	acc := newAccount(t, s, "10.00")
	ctx := context.Background()

	err := s.ReadSnapshot(ctx, func(snap context.Context) error {
		err := s.WithTransaction(ctx, func(ctx context.Context) error {
			if _, err := s.Accounts().GetForUpdate(ctx, acc.ID); err != nil {
				return err
			}
			balance, err := s.Accounts().ApplyDelta(ctx, acc.ID, decimal.NewFromInt(5), decimal.Zero)
			if err != nil {
				return err
			}
			rec := domain.NewRecord(acc.ID, domain.RecordKindDeposit, decimal.NewFromInt(5), balance, "", nil)
			rec.MarkCompleted()
			return s.Records().Record(ctx, rec)
		})
		if err != nil {
			return err
		}

		got, err := s.Accounts().GetByID(snap, acc.ID)
		if err != nil {
			return err
		}
		if !got.Balance.Equal(decimal.NewFromInt(10)) {
			t.Errorf("snapshot balance: expected 10, got %s", got.Balance)
		}
		recs, err := s.Records().ListInRange(snap, acc.ID, time.Time{}, time.Now().Add(time.Hour))
		if err != nil {
			return err
		}
		if len(recs) != 0 {
			t.Errorf("snapshot records: expected none, got %d", len(recs))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ReadSnapshot failed: %v", err)
	}
}

func TestUsers_EmailUniqueCaseInsensitive(t *testing.T) {
	s := memstore.New(time.Second)
	ctx := context.Background()

	if err := s.Users().Create(ctx, domain.NewUser("Alice@Example.com", "hash", "Alice", "Smith")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Users().Create(ctx, domain.NewUser("alice@example.com", "hash", "A", "S")); !errors.Is(err, domain.ErrEmailTaken) {
		t.Errorf("expected ErrEmailTaken, got %v", err)
	}
	u, err := s.Users().GetByEmail(ctx, " ALICE@example.com ")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if u.FirstName != "Alice" {
		t.Errorf("unexpected user %+v", u)
	}
	if _, err := s.Users().GetByID(ctx, uuid.New()); !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}
