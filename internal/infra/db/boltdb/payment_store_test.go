//go:build !integration

package boltdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"mpesa-stk-mediator/internal/domain/model"
	"mpesa-stk-mediator/internal/domain/ports/repository"
	"mpesa-stk-mediator/internal/infra/db/storetest"
)

func newTestStore(t *testing.T) *PaymentStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPaymentStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.PaymentStore { return newTestStore(t) })
}

func TestPaymentStore_Eviction(t *testing.T) {
	storetest.RunEviction(t, func(t *testing.T) repository.PaymentStore { return newTestStore(t) })
}

func TestPaymentStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, model.NewPendingRecord("ws_1", "", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Get(ctx, "ws_1")
	if err != nil {
		t.Fatalf("expected record after reopen, got %v", err)
	}
	if got.Status != model.PaymentStatusPending {
		t.Errorf("unexpected status %s", got.Status)
	}
}
