package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CardType is the kind of payment card.
type CardType string

const (
	CardTypeDebit  CardType = "DEBIT"
	CardTypeCredit CardType = "CREDIT"
)

// ParseCardType validates a case-insensitive card type name.
func ParseCardType(s string) (CardType, error) {
	switch t := CardType(strings.ToUpper(strings.TrimSpace(s))); t {
	case CardTypeDebit, CardTypeCredit:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown card type %q", ErrInvalidInput, s)
	}
}

// CardStatus is the lifecycle state of a card.
type CardStatus string

const (
	CardStatusActive    CardStatus = "ACTIVE"
	CardStatusBlocked   CardStatus = "BLOCKED"
	CardStatusExpired   CardStatus = "EXPIRED"
	CardStatusCancelled CardStatus = "CANCELLED"
)

// CardValidity is how long a newly issued card stays valid.
const CardValidity = 5 * 365 * 24 * time.Hour

// Card is a payment card bound to one account of its holder.
type Card struct {
	ID         uuid.UUID
	Number     string // full PAN, unique
	LastFour   string
	Type       CardType
	Status     CardStatus
	HolderID   uuid.UUID
	AccountID  uuid.UUID
	ExpiryDate string // MM/YYYY
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewCard creates an active card expiring CardValidity after now.
func NewCard(number string, cardType CardType, holderID, accountID uuid.UUID, now time.Time) *Card {
	now = now.UTC()
	return &Card{
		ID:         uuid.New(),
		Number:     number,
		LastFour:   number[len(number)-4:],
		Type:       cardType,
		Status:     CardStatusActive,
		HolderID:   holderID,
		AccountID:  accountID,
		ExpiryDate: now.Add(CardValidity).Format("01/2006"),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// MaskedNumber hides every digit but the last four.
func (c *Card) MaskedNumber() string {
	return "**** **** **** " + c.LastFour
}

// CardNumberGenerator issues card numbers. Implementations talk to the card
// processor or generate locally; numbers must have at least four digits.
type CardNumberGenerator interface {
	Generate(ctx context.Context, cardType CardType) (string, error)
}
