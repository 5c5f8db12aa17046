package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// maxIssueAttempts bounds retries on card number collisions.
const maxIssueAttempts = 3

// IssueCardRequest asks for a new card on one of the caller's accounts.
type IssueCardRequest struct {
	AccountID uuid.UUID
	Type      CardType
}

// CardService issues, lists and blocks payment cards.
type CardService struct {
	cards    CardRepository
	accounts AccountRepository
	numbers  CardNumberGenerator
	observer OperationObserver
	logger   *zap.Logger
	now      func() time.Time
}

func NewCardService(cards CardRepository, accounts AccountRepository, numbers CardNumberGenerator, observer OperationObserver, logger *zap.Logger) *CardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CardService{
		cards:    cards,
		accounts: accounts,
		numbers:  numbers,
		observer: observer,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *CardService) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "CardService."+op)
	span.SetAttributes(attrs...)
	return ctx, func(errp *error) {
		*errp = normalizeError(*errp)
		if err := *errp; err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, ErrorKind(err))
		}
		span.End()
		if s.observer != nil {
			s.observer.ObserveOperation(op, ErrorKind(*errp), time.Since(start))
		}
	}
}

// IssueCard creates an active card for an active account the caller owns.
func (s *CardService) IssueCard(ctx context.Context, callerID uuid.UUID, req IssueCardRequest) (_ *Card, err error) {
	ctx, end := s.begin(ctx, "IssueCard", attribute.String("account_id", req.AccountID.String()))
	defer end(&err)

	if _, err := ParseCardType(string(req.Type)); err != nil {
		return nil, err
	}
	account, err := s.accounts.GetByID(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if account.OwnerID != callerID {
		return nil, ErrForbidden
	}
	if err := account.EnsureActive(); err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		number, err := s.numbers.Generate(ctx, req.Type)
		if err != nil {
			return nil, fmt.Errorf("failed to generate card number: %w", err)
		}
		if len(number) < 4 {
			return nil, fmt.Errorf("card number generator returned %d digits", len(number))
		}
		card := NewCard(number, req.Type, callerID, account.ID, s.now())
		err = s.cards.Create(ctx, card)
		if err == nil {
			s.logger.Info("card issued",
				zap.String("card_id", card.ID.String()),
				zap.String("account_id", account.ID.String()),
				zap.String("last_four", card.LastFour))
			return card, nil
		}
		if !errors.Is(err, ErrCardNumberTaken) || attempt == maxIssueAttempts {
			return nil, fmt.Errorf("failed to create card: %w", err)
		}
	}
}

// ListCards returns the caller's active cards.
func (s *CardService) ListCards(ctx context.Context, callerID uuid.UUID) (_ []*Card, err error) {
	ctx, end := s.begin(ctx, "ListCards")
	defer end(&err)
	return s.cards.ListByHolder(ctx, callerID, CardStatusActive)
}

// BlockCard blocks one of the caller's cards. Blocking a blocked card is a
// no-op; expired and cancelled cards cannot be blocked.
func (s *CardService) BlockCard(ctx context.Context, callerID, cardID uuid.UUID) (_ *Card, err error) {
	ctx, end := s.begin(ctx, "BlockCard", attribute.String("card_id", cardID.String()))
	defer end(&err)

	card, err := s.cards.GetByID(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if card.HolderID != callerID {
		return nil, ErrForbidden
	}
	switch card.Status {
	case CardStatusBlocked:
		return card, nil
	case CardStatusActive:
	default:
		return nil, fmt.Errorf("%w: card is %s", ErrCardNotActive, card.Status)
	}

	blocked, err := s.cards.UpdateStatus(ctx, cardID, CardStatusBlocked)
	if err != nil {
		return nil, fmt.Errorf("failed to block card: %w", err)
	}
	s.logger.Info("card blocked", zap.String("card_id", cardID.String()))
	return blocked, nil
}
