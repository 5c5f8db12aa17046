package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/domain"
)

const accountColumns = `id, number, owner_id, account_type, currency, balance, initial_balance, status, created_at, updated_at`

// AccountRepository implements domain.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{
		pool: pool,
	}
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	var accountType, status string
	err := row.Scan(
		&a.ID,
		&a.Number,
		&a.OwnerID,
		&accountType,
		&a.Currency,
		&a.Balance,
		&a.InitialBalance,
		&status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Type = domain.AccountType(accountType)
	a.Status = domain.AccountStatus(status)
	return &a, nil
}

// Create inserts a new account.
func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := conn(ctx, r.pool).Exec(ctx, query,
		account.ID,
		account.Number,
		account.OwnerID,
		string(account.Type),
		account.Currency,
		account.Balance,
		account.InitialBalance,
		string(account.Status),
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		return classifyError(fmt.Errorf("failed to create account: %w", err))
	}
	return nil
}

// GetByID retrieves an account by its unique identifier.
func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	account, err := scanAccount(conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, classifyError(fmt.Errorf("failed to get account: %w", err))
	}
	return account, nil
}

// ListByOwner returns the accounts of a user, oldest first.
func (r *AccountRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE owner_id = $1 ORDER BY created_at, number`

	rows, err := conn(ctx, r.pool).Query(ctx, query, ownerID)
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to list accounts: %w", err))
	}
	defer rows.Close()

	accounts := []*domain.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, classifyError(fmt.Errorf("failed to scan account: %w", err))
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(err)
	}
	return accounts, nil
}

// Lock acquires a pessimistic lock on the account for the duration of the transaction.
// This method MUST be called within a transaction context.
// Uses SELECT ... FOR UPDATE to lock the row.
func (r *AccountRepository) Lock(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	tx := getTx(ctx)
	if tx == nil {
		return nil, domain.ErrNoTransaction
	}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`

	account, err := scanAccount(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, classifyError(fmt.Errorf("failed to lock account: %w", err))
	}
	return account, nil
}

// GetForUpdate locks the account and rejects frozen or closed ones.
func (r *AccountRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	account, err := r.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := account.EnsureActive(); err != nil {
		return nil, err
	}
	return account, nil
}

// ApplyDelta adds delta to the balance in one guarded UPDATE. The guard only
// applies to debits. A credit past the column precision fails with
// ErrInvalidAmount (SQLSTATE 22003).
func (r *AccountRepository) ApplyDelta(ctx context.Context, id uuid.UUID, delta, floor decimal.Decimal) (decimal.Decimal, error) {
	tx := getTx(ctx)
	if tx == nil {
		return decimal.Zero, domain.ErrNoTransaction
	}
	query := `
		UPDATE accounts
		SET balance = balance + $2,
		    updated_at = $4
		WHERE id = $1
		  AND ($2 >= 0 OR balance + $2 >= $3)
		RETURNING balance
	`

	var balance decimal.Decimal
	err := tx.QueryRow(ctx, query, id, delta, floor, time.Now().UTC()).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// the row is locked by us, so a miss means the guard failed
			return decimal.Zero, fmt.Errorf("%w: requested %s", domain.ErrInsufficientFunds, domain.FormatAmount(delta.Neg()))
		}
		return decimal.Zero, classifyError(fmt.Errorf("failed to apply delta: %w", err))
	}
	return balance, nil
}

// UpdateStatus changes the status of a locked account.
func (r *AccountRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus) error {
	tx := getTx(ctx)
	if tx == nil {
		return domain.ErrNoTransaction
	}
	tag, err := tx.Exec(ctx,
		`UPDATE accounts SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(status), time.Now().UTC())
	if err != nil {
		return classifyError(fmt.Errorf("failed to update account status: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}
