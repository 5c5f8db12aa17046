package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/domain"
)

// CardRepository implements domain.CardRepository on a Store.
type CardRepository struct {
	store *Store
}

func (s *Store) Cards() *CardRepository {
	return &CardRepository{store: s}
}

func (r *CardRepository) Create(ctx context.Context, card *domain.Card) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.pans[card.Number]; taken {
		return domain.ErrCardNumberTaken
	}
	if _, ok := s.accounts[card.AccountID]; !ok {
		return domain.ErrAccountNotFound
	}
	s.cards[card.ID] = *card
	s.pans[card.Number] = card.ID
	return nil
}

func (r *CardRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Card, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cards[id]
	if !ok {
		return nil, domain.ErrCardNotFound
	}
	return &c, nil
}

func (r *CardRepository) ListByHolder(ctx context.Context, holderID uuid.UUID, status domain.CardStatus) ([]*domain.Card, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Card
	for _, c := range s.cards {
		if c.HolderID == holderID && c.Status == status {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *CardRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CardStatus) (*domain.Card, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[id]
	if !ok {
		return nil, domain.ErrCardNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	s.cards[id] = c
	return &c, nil
}
