package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"mpesa-stk-mediator/internal/domain"
	"mpesa-stk-mediator/internal/domain/model"
	"mpesa-stk-mediator/internal/domain/ports/repository"
)

var (
	_ repository.PaymentStore = (*PaymentStore)(nil)
	_ repository.Evictor      = (*PaymentStore)(nil)
)

// PaymentStore keeps records in a process-local map. Records are copied on the way in
// and out so callers never share memory with the store.
type PaymentStore struct {
	mu      sync.RWMutex
	records map[string]*model.PaymentRecord
	now     func() time.Time
}

func NewPaymentStore() *PaymentStore {
	return &PaymentStore{
		records: make(map[string]*model.PaymentRecord),
		now:     time.Now,
	}
}

func (s *PaymentStore) Create(ctx context.Context, rec *model.PaymentRecord) error {
	if rec == nil || rec.CheckoutRequestID == "" {
		return domain.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.CheckoutRequestID]; exists {
		return domain.ErrAlreadyExists
	}
	s.records[rec.CheckoutRequestID] = clone(rec)
	return nil
}

func (s *PaymentStore) Finalize(ctx context.Context, rec *model.PaymentRecord) (*model.PaymentRecord, error) {
	if rec == nil || rec.CheckoutRequestID == "" || !rec.Status.IsTerminal() {
		return nil, domain.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := clone(rec)
	if cur, ok := s.records[rec.CheckoutRequestID]; ok {
		if !cur.AcceptsFinal(rec) {
			return clone(cur), domain.ErrAlreadyFinal
		}
		out = clone(cur.MergeFinal(rec))
	}
	out.UpdatedAt = s.now()
	s.records[out.CheckoutRequestID] = out
	return clone(out), nil
}

func (s *PaymentStore) Get(ctx context.Context, checkoutRequestID string) (*model.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[checkoutRequestID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(rec), nil
}

func (s *PaymentStore) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.PaymentRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	var out []*model.PaymentRecord
	for _, rec := range s.records {
		if rec.Status == model.PaymentStatusPending && rec.CreatedAt.Before(cutoff) {
			out = append(out, clone(rec))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// EvictOlderThan drops records whose last update is before cutoff.
func (s *PaymentStore) EvictOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, rec := range s.records {
		if rec.UpdatedAt.Before(cutoff) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

func clone(rec *model.PaymentRecord) *model.PaymentRecord {
	cp := *rec
	if rec.ResultCode != nil {
		code := *rec.ResultCode
		cp.ResultCode = &code
	}
	return &cp
}
