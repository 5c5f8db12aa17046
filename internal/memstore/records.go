package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/domain"
)

// RecordRepository implements domain.RecordRepository on a Store.
type RecordRepository struct {
	store *Store
}

// Records returns the transaction recorder of s.
func (s *Store) Records() *RecordRepository {
	return &RecordRepository{store: s}
}

// Record stages the record; it becomes visible when the transaction commits.
func (r *RecordRepository) Record(ctx context.Context, record *domain.TransactionRecord) error {
	t, err := writable(ctx)
	if err != nil {
		return err
	}
	if _, ok := t.held[record.AccountID]; !ok {
		return fmt.Errorf("%w: account %s is not locked", domain.ErrStoreFailure, record.AccountID)
	}
	record.Sequence = r.store.seq.Add(1)
	stored := *record
	t.pending = append(t.pending, &stored)
	return nil
}

// committed returns the records visible to ctx.
func (r *RecordRepository) committed(ctx context.Context) []*domain.TransactionRecord {
	if t := getTx(ctx); t != nil && t.readOnly {
		return t.records
	}
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[:len(s.records):len(s.records)]
}

func (r *RecordRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, filter domain.RecordFilter) ([]*domain.TransactionRecord, error) {
	var matched []*domain.TransactionRecord
	for _, rec := range r.committed(ctx) {
		if rec.AccountID != accountID {
			continue
		}
		if filter.Kind != "" && rec.Kind != filter.Kind {
			continue
		}
		matched = append(matched, rec)
	}
	sortBySequence(matched)

	// newest first
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	if filter.Offset >= len(matched) {
		return []*domain.TransactionRecord{}, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return copyRecords(matched), nil
}

func (r *RecordRepository) ListInRange(ctx context.Context, accountID uuid.UUID, from, until time.Time) ([]*domain.TransactionRecord, error) {
	var matched []*domain.TransactionRecord
	for _, rec := range r.committed(ctx) {
		if rec.AccountID == accountID && !rec.CreatedAt.Before(from) && rec.CreatedAt.Before(until) {
			matched = append(matched, rec)
		}
	}
	sortBySequence(matched)
	return copyRecords(matched), nil
}

func (r *RecordRepository) LastBefore(ctx context.Context, accountID uuid.UUID, t time.Time) (*domain.TransactionRecord, error) {
	var last *domain.TransactionRecord
	for _, rec := range r.committed(ctx) {
		if rec.AccountID != accountID || !rec.CreatedAt.Before(t) {
			continue
		}
		if last == nil || rec.Sequence > last.Sequence {
			last = rec
		}
	}
	if last == nil {
		return nil, nil
	}
	c := *last
	return &c, nil
}

func (r *RecordRepository) ListByCorrelation(ctx context.Context, correlationID uuid.UUID) ([]*domain.TransactionRecord, error) {
	var matched []*domain.TransactionRecord
	for _, rec := range r.committed(ctx) {
		if rec.CorrelationID != nil && *rec.CorrelationID == correlationID {
			matched = append(matched, rec)
		}
	}
	sortBySequence(matched)
	return copyRecords(matched), nil
}

func copyRecords(rs []*domain.TransactionRecord) []*domain.TransactionRecord {
	out := make([]*domain.TransactionRecord, len(rs))
	for i, rec := range rs {
		c := *rec
		out[i] = &c
	}
	return out
}
