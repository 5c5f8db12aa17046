package domain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/domain"
	"github.com/spbu-ds-practicum-2025/ledger-service/internal/memstore"
)

// sequenceNumbers hands out the given numbers in order.
type sequenceNumbers struct {
	numbers []string
	calls   int
}

func (g *sequenceNumbers) Generate(context.Context, domain.CardType) (string, error) {
	if g.calls >= len(g.numbers) {
		return "", errors.New("exhausted")
	}
	n := g.numbers[g.calls]
	g.calls++
	return n, nil
}

func newCardFixture(t *testing.T, numbers ...string) (*fixture, *domain.CardService, *sequenceNumbers) {
	t.Helper()
	f := newFixture(t, domain.OverdraftPolicy{})
	gen := &sequenceNumbers{numbers: numbers}
	return f, domain.NewCardService(f.store.Cards(), f.store.Accounts(), gen, nil, nil), gen
}

func TestIssueCard(t *testing.T) {
	f, cards, _ := newCardFixture(t, "4000001234567899")
	ctx := context.Background()
	acc := f.open(t, domain.AccountTypeChecking, "RUB", "0.00")

	card, err := cards.IssueCard(ctx, f.owner, domain.IssueCardRequest{AccountID: acc.ID, Type: domain.CardTypeDebit})
	if err != nil {
		t.Fatalf("IssueCard failed: %v", err)
	}
	if card.LastFour != "7899" || card.Status != domain.CardStatusActive || card.HolderID != f.owner {
		t.Errorf("unexpected card %+v", card)
	}
	if want := time.Now().UTC().Add(domain.CardValidity).Format("01/2006"); card.ExpiryDate != want {
		t.Errorf("expected expiry %s, got %s", want, card.ExpiryDate)
	}
	if card.MaskedNumber() != "**** **** **** 7899" {
		t.Errorf("unexpected mask %s", card.MaskedNumber())
	}

	list, err := cards.ListCards(ctx, f.owner)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != card.ID {
		t.Errorf("unexpected list %+v", list)
	}
}

func TestIssueCard_RetriesNumberCollision(t *testing.T) {
	f, cards, gen := newCardFixture(t, "4000001111111111", "4000001111111111", "4000002222222222")
	ctx := context.Background()
	acc := f.open(t, domain.AccountTypeChecking, "RUB", "0.00")

	if _, err := cards.IssueCard(ctx, f.owner, domain.IssueCardRequest{AccountID: acc.ID, Type: domain.CardTypeDebit}); err != nil {
		t.Fatal(err)
	}
	second, err := cards.IssueCard(ctx, f.owner, domain.IssueCardRequest{AccountID: acc.ID, Type: domain.CardTypeCredit})
	if err != nil {
		t.Fatalf("IssueCard failed: %v", err)
	}
	if second.Number != "4000002222222222" || gen.calls != 3 {
		t.Errorf("expected retry to a fresh number, got %s after %d calls", second.Number, gen.calls)
	}
}

func TestIssueCard_Rejections(t *testing.T) {
	f, cards, _ := newCardFixture(t, "4000001234567899")
	ctx := context.Background()
	acc := f.open(t, domain.AccountTypeChecking, "RUB", "0.00")
	frozen := f.open(t, domain.AccountTypeChecking, "RUB", "0.00")
	if _, err := f.svc.UpdateStatus(ctx, f.owner, frozen.ID, domain.AccountStatusFrozen); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		caller  uuid.UUID
		req     domain.IssueCardRequest
		wantErr error
	}{
		{"foreign account", uuid.New(), domain.IssueCardRequest{AccountID: acc.ID, Type: domain.CardTypeDebit}, domain.ErrForbidden},
		{"missing account", f.owner, domain.IssueCardRequest{AccountID: uuid.New(), Type: domain.CardTypeDebit}, domain.ErrAccountNotFound},
		{"frozen account", f.owner, domain.IssueCardRequest{AccountID: frozen.ID, Type: domain.CardTypeDebit}, domain.ErrAccountNotActive},
		{"unknown type", f.owner, domain.IssueCardRequest{AccountID: acc.ID, Type: "PREPAID"}, domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := cards.IssueCard(ctx, tt.caller, tt.req); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestBlockCard(t *testing.T) {
	f, cards, _ := newCardFixture(t, "4000001234567899")
	ctx := context.Background()
	acc := f.open(t, domain.AccountTypeChecking, "RUB", "0.00")
	card, err := cards.IssueCard(ctx, f.owner, domain.IssueCardRequest{AccountID: acc.ID, Type: domain.CardTypeDebit})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := cards.BlockCard(ctx, uuid.New(), card.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if _, err := cards.BlockCard(ctx, f.owner, uuid.New()); !errors.Is(err, domain.ErrCardNotFound) {
		t.Errorf("expected ErrCardNotFound, got %v", err)
	}

	blocked, err := cards.BlockCard(ctx, f.owner, card.ID)
	if err != nil {
		t.Fatalf("BlockCard failed: %v", err)
	}
	if blocked.Status != domain.CardStatusBlocked {
		t.Errorf("expected BLOCKED, got %s", blocked.Status)
	}
	if _, err := cards.BlockCard(ctx, f.owner, card.ID); err != nil {
		t.Errorf("blocking twice should succeed, got %v", err)
	}
	if list, _ := cards.ListCards(ctx, f.owner); len(list) != 0 {
		t.Errorf("blocked card still active: %+v", list)
	}

	// expired cards cannot be blocked
	store := memstore.New(time.Second)
	expiredCards := domain.NewCardService(store.Cards(), store.Accounts(), &sequenceNumbers{numbers: []string{"5100001234567890"}}, nil, nil)
	owner := uuid.New()
	account := domain.NewAccount(owner, domain.AccountTypeCredit, "RUB", dec("0"))
	if err := store.Accounts().Create(ctx, account); err != nil {
		t.Fatal(err)
	}
	c, err := expiredCards.IssueCard(ctx, owner, domain.IssueCardRequest{AccountID: account.ID, Type: domain.CardTypeCredit})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Cards().UpdateStatus(ctx, c.ID, domain.CardStatusExpired); err != nil {
		t.Fatal(err)
	}
	if _, err := expiredCards.BlockCard(ctx, owner, c.ID); !errors.Is(err, domain.ErrCardNotActive) {
		t.Errorf("expected ErrCardNotActive, got %v", err)
	}
}
