// Package storetest holds the behaviour every repository.PaymentStore must share.
// Each backend's tests call Run with a constructor for a fresh, empty store.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"mpesa-stk-mediator/internal/domain"
	"mpesa-stk-mediator/internal/domain/model"
	"mpesa-stk-mediator/internal/domain/ports/repository"
)

// Factory returns an empty store; cleanup is registered on t.
type Factory func(t *testing.T) repository.PaymentStore

func Run(t *testing.T, newStore Factory) {
	t.Run("create then get returns pending", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := model.NewPendingRecord("ws_1", "mr_1", time.Now().UTC())

		if err := s.Create(ctx, rec); err != nil {
			t.Fatalf("create: %v", err)
		}
		got, err := s.Get(ctx, "ws_1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != model.PaymentStatusPending || got.MerchantRequestID != "mr_1" {
			t.Errorf("unexpected record %+v", got)
		}
	})

	t.Run("create twice fails", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := model.NewPendingRecord("ws_dup", "", time.Now().UTC())
		if err := s.Create(ctx, rec); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := s.Create(ctx, rec); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("get unknown is not found", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("finalize pending keeps identity", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		created := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)
		if err := s.Create(ctx, model.NewPendingRecord("ws_2", "mr_2", created)); err != nil {
			t.Fatalf("create: %v", err)
		}

		final := model.NewTerminalRecord(model.Outcome{
			CheckoutRequestID: "ws_2",
			ResultCode:        0,
			Amount:            11,
			Receipt:           "ABC123",
			PayerPhone:        "254700000000",
			SettledAt:         "20240101120000",
		}, time.Now().UTC())
		got, err := s.Finalize(ctx, final)
		if err != nil {
			t.Fatalf("finalize: %v", err)
		}
		if got.Status != model.PaymentStatusSuccess || got.Receipt != "ABC123" || got.Amount != 11 {
			t.Errorf("unexpected finalized record %+v", got)
		}
		if got.MerchantRequestID != "mr_2" {
			t.Errorf("expected merchant id from pending record, got %q", got.MerchantRequestID)
		}

		stored, err := s.Get(ctx, "ws_2")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if stored.Status != model.PaymentStatusSuccess || stored.PayerPhone != "254700000000" {
			t.Errorf("unexpected stored record %+v", stored)
		}
		if !stored.CreatedAt.Equal(created) {
			t.Errorf("expected creation time %v, got %v", created, stored.CreatedAt)
		}
	})

	t.Run("finalize unknown creates terminal record", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		final := model.NewTerminalRecord(model.Outcome{CheckoutRequestID: "ws_3", ResultCode: 1032, ResultDesc: "Request cancelled by user"}, time.Now().UTC())
		if _, err := s.Finalize(ctx, final); err != nil {
			t.Fatalf("finalize: %v", err)
		}
		got, err := s.Get(ctx, "ws_3")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != model.PaymentStatusCancelled || got.Message != "Request cancelled by user" {
			t.Errorf("unexpected record %+v", got)
		}
	})

	t.Run("second finalize is rejected and first outcome kept", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		first := model.NewTerminalRecord(model.Outcome{CheckoutRequestID: "ws_4", ResultCode: 1, ResultDesc: "insufficient funds"}, time.Now().UTC())
		second := model.NewTerminalRecord(model.Outcome{CheckoutRequestID: "ws_4", ResultCode: 0, Receipt: "LATE"}, time.Now().UTC())

		if _, err := s.Finalize(ctx, first); err != nil {
			t.Fatalf("finalize: %v", err)
		}
		if _, err := s.Finalize(ctx, second); !errors.Is(err, domain.ErrAlreadyFinal) {
			t.Fatalf("expected ErrAlreadyFinal, got %v", err)
		}
		got, _ := s.Get(ctx, "ws_4")
		if got == nil || got.Status != model.PaymentStatusFailed || got.Receipt != "" {
			t.Errorf("terminal record was overwritten: %+v", got)
		}
	})

	t.Run("success without receipt is filled in by a settled success", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		created := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)
		if err := s.Create(ctx, model.NewPendingRecord("ws_q", "mr_q", created)); err != nil {
			t.Fatalf("create: %v", err)
		}
		queried := model.NewTerminalRecord(model.Outcome{CheckoutRequestID: "ws_q", ResultCode: 0}, time.Now().UTC())
		if _, err := s.Finalize(ctx, queried); err != nil {
			t.Fatalf("finalize from query: %v", err)
		}

		settled := model.NewTerminalRecord(model.Outcome{
			CheckoutRequestID: "ws_q",
			ResultCode:        0,
			Amount:            11,
			Receipt:           "ABC123",
			PayerPhone:        "254700000000",
			SettledAt:         "20240101120000",
		}, time.Now().UTC())
		if _, err := s.Finalize(ctx, settled); err != nil {
			t.Fatalf("finalize from callback: %v", err)
		}

		got, err := s.Get(ctx, "ws_q")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != model.PaymentStatusSuccess || got.Receipt != "ABC123" || got.Amount != 11 ||
			got.PayerPhone != "254700000000" || got.SettledAt != "20240101120000" {
			t.Errorf("expected settlement details filled in, got %+v", got)
		}
		if got.MerchantRequestID != "mr_q" || !got.CreatedAt.Equal(created) {
			t.Errorf("identity not kept: %+v", got)
		}

		if _, err := s.Finalize(ctx, settled); !errors.Is(err, domain.ErrAlreadyFinal) {
			t.Fatalf("expected ErrAlreadyFinal once settled, got %v", err)
		}
	})

	t.Run("list pending older than cutoff", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()
		_ = s.Create(ctx, model.NewPendingRecord("old_b", "", now.Add(-10*time.Minute)))
		_ = s.Create(ctx, model.NewPendingRecord("old_a", "", now.Add(-20*time.Minute)))
		_ = s.Create(ctx, model.NewPendingRecord("fresh", "", now))
		_ = s.Create(ctx, model.NewPendingRecord("old_done", "", now.Add(-30*time.Minute)))
		_, _ = s.Finalize(ctx, model.NewTerminalRecord(model.Outcome{CheckoutRequestID: "old_done", ResultCode: 1}, now))

		got, err := s.ListPendingOlderThan(ctx, now.Add(-5*time.Minute), 10)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(got) != 2 || got[0].CheckoutRequestID != "old_a" || got[1].CheckoutRequestID != "old_b" {
			ids := make([]string, len(got))
			for i, r := range got {
				ids[i] = r.CheckoutRequestID
			}
			t.Fatalf("expected [old_a old_b], got %v", ids)
		}

		got, _ = s.ListPendingOlderThan(ctx, now.Add(-5*time.Minute), 1)
		if len(got) != 1 {
			t.Fatalf("expected limit to apply, got %d", len(got))
		}
	})

	t.Run("concurrent finalize has a single winner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Create(ctx, model.NewPendingRecord("ws_race", "", time.Now().UTC())); err != nil {
			t.Fatalf("create: %v", err)
		}

		const n = 8
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rec := model.NewTerminalRecord(model.Outcome{
					CheckoutRequestID: "ws_race",
					ResultCode:        0,
					Receipt:           fmt.Sprintf("R%d", i),
				}, time.Now().UTC())
				_, err := s.Finalize(ctx, rec)
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)

		wins := 0
		for err := range errs {
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrAlreadyFinal):
			default:
				t.Errorf("unexpected error %v", err)
			}
		}
		if wins != 1 {
			t.Fatalf("expected exactly one successful finalize, got %d", wins)
		}
	})
}

// RunEviction checks stores that implement repository.Evictor.
func RunEviction(t *testing.T, newStore Factory) {
	s := newStore(t)
	ev, ok := s.(repository.Evictor)
	if !ok {
		t.Fatalf("%T does not implement repository.Evictor", s)
	}
	ctx := context.Background()
	now := time.Now().UTC()

	old := model.NewPendingRecord("old", "", now.Add(-2*time.Hour))
	if err := s.Create(ctx, old); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, model.NewPendingRecord("new", "", now)); err != nil {
		t.Fatalf("create: %v", err)
	}

	n, err := ev.EvictOlderThan(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if _, err := s.Get(ctx, "old"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected old record to be gone, got %v", err)
	}
	if _, err := s.Get(ctx, "new"); err != nil {
		t.Errorf("expected new record to stay, got %v", err)
	}
}
