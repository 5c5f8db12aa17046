package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/domain"
)

const cardColumns = `id, card_number, last_four, card_type, status, holder_id, account_id, expiry_date, created_at, updated_at`

// CardRepository implements domain.CardRepository using PostgreSQL.
type CardRepository struct {
	pool *pgxpool.Pool
}

func NewCardRepository(pool *pgxpool.Pool) *CardRepository {
	return &CardRepository{pool: pool}
}

func (r *CardRepository) Create(ctx context.Context, card *domain.Card) error {
	query := `INSERT INTO cards (` + cardColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := conn(ctx, r.pool).Exec(ctx, query,
		card.ID,
		card.Number,
		card.LastFour,
		string(card.Type),
		string(card.Status),
		card.HolderID,
		card.AccountID,
		card.ExpiryDate,
		card.CreatedAt,
		card.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case codeUniqueViolation:
				return domain.ErrCardNumberTaken
			case codeForeignKeyViolation:
				return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, pgErr.ConstraintName)
			}
		}
		return classifyError(fmt.Errorf("failed to create card: %w", err))
	}
	return nil
}

func (r *CardRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Card, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = $1`, id)
	card, err := scanCard(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCardNotFound
		}
		return nil, classifyError(fmt.Errorf("failed to get card: %w", err))
	}
	return card, nil
}

func (r *CardRepository) ListByHolder(ctx context.Context, holderID uuid.UUID, status domain.CardStatus) ([]*domain.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards
		WHERE holder_id = $1 AND status = $2
		ORDER BY created_at, id`
	rows, err := conn(ctx, r.pool).Query(ctx, query, holderID, string(status))
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to list cards: %w", err))
	}
	defer rows.Close()

	var cards []*domain.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, classifyError(fmt.Errorf("failed to scan card: %w", err))
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(err)
	}
	return cards, nil
}

func (r *CardRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CardStatus) (*domain.Card, error) {
	query := `UPDATE cards SET status = $2, updated_at = NOW() WHERE id = $1 RETURNING ` + cardColumns
	card, err := scanCard(conn(ctx, r.pool).QueryRow(ctx, query, id, string(status)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCardNotFound
		}
		return nil, classifyError(fmt.Errorf("failed to update card status: %w", err))
	}
	return card, nil
}

func scanCard(row pgx.Row) (*domain.Card, error) {
	var (
		c              domain.Card
		cardType, stat string
	)
	err := row.Scan(
		&c.ID,
		&c.Number,
		&c.LastFour,
		&cardType,
		&stat,
		&c.HolderID,
		&c.AccountID,
		&c.ExpiryDate,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Type = domain.CardType(cardType)
	c.Status = domain.CardStatus(stat)
	return &c, nil
}
