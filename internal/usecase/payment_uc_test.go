//go:build !integration

package usecase_test

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mpesa-stk-mediator/internal/domain"
	"mpesa-stk-mediator/internal/domain/model"
	"mpesa-stk-mediator/internal/domain/ports/adapter"
	"mpesa-stk-mediator/internal/infra/db/memory"
	"mpesa-stk-mediator/internal/usecase"
)

type paymentUCTestDeps struct {
	store   *memory.PaymentStore
	tokens  *MockTokenProvider
	gateway *MockPaymentGateway
}

func newPaymentUCDeps() *paymentUCTestDeps {
	return &paymentUCTestDeps{
		store:   memory.NewPaymentStore(),
		tokens:  &MockTokenProvider{},
		gateway: &MockPaymentGateway{},
	}
}

func (d *paymentUCTestDeps) uc() usecase.PaymentUseCase {
	return usecase.NewPaymentUseCase(d.store, d.tokens, MockEnvelopeBuilder{}, d.gateway, newTestLogger())
}

func TestPaymentUseCase_Initiate(t *testing.T) {
	ctx := context.Background()

	t.Run("should round the amount up and register a pending record", func(t *testing.T) {
		deps := newPaymentUCDeps()

		res, err := deps.uc().Initiate(ctx, usecase.InitiateRequest{PayerPhone: "254700000000", Amount: floatPtr(10.4)})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(deps.gateway.Submitted) != 1 || deps.gateway.Submitted[0].Amount != 11 {
			t.Fatalf("expected one submission of amount 11, got %+v", deps.gateway.Submitted)
		}
		if !res.Recorded || string(res.Ack.Raw) != string(ackFor("ws_1").Raw) {
			t.Errorf("expected recorded result with raw ack, got %+v", res)
		}

		rec, err := deps.store.Get(ctx, "ws_1")
		if err != nil {
			t.Fatalf("expected pending record, got %v", err)
		}
		if rec.Status != model.PaymentStatusPending || rec.MerchantRequestID != "mr_ws_1" {
			t.Errorf("unexpected record %+v", rec)
		}
	})

	t.Run("should use payer phone for both parties and keep description", func(t *testing.T) {
		deps := newPaymentUCDeps()
		_, err := deps.uc().Initiate(ctx, usecase.InitiateRequest{PayerPhone: "0712345678", Amount: floatPtr(5), Description: " Order 42 "})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		env := deps.gateway.Submitted[0]
		if env.PartyA != "254712345678" || env.PhoneNumber != "254712345678" {
			t.Errorf("expected normalized phone on PartyA and PhoneNumber, got %+v", env)
		}
		if env.TransactionDesc != "Order 42" {
			t.Errorf("expected trimmed description, got %q", env.TransactionDesc)
		}
	})

	t.Run("should reject missing input without calling the gateway", func(t *testing.T) {
		cases := map[string]usecase.InitiateRequest{
			"missing amount": {PayerPhone: "254700000000"},
			"zero amount":    {PayerPhone: "254700000000", Amount: floatPtr(0)},
			"missing phone":  {Amount: floatPtr(10)},
			"blank phone":    {PayerPhone: "   ", Amount: floatPtr(10)},
			"huge amount":    {PayerPhone: "254700000000", Amount: floatPtr(1e20)},
			"huge negative":  {PayerPhone: "254700000000", Amount: floatPtr(-1e20)},
			"infinite":       {PayerPhone: "254700000000", Amount: floatPtr(math.Inf(1))},
		}
		for name, req := range cases {
			t.Run(name, func(t *testing.T) {
				deps := newPaymentUCDeps()
				_, err := deps.uc().Initiate(ctx, req)
				if !errors.Is(err, domain.ErrValidation) {
					t.Fatalf("expected ErrValidation, got %v", err)
				}
				if deps.tokens.Calls != 0 || len(deps.gateway.Submitted) != 0 {
					t.Errorf("expected no token or gateway call")
				}
			})
		}
	})

	t.Run("should not record when token acquisition fails", func(t *testing.T) {
		deps := newPaymentUCDeps()
		deps.tokens.Err = &domain.UpstreamError{Kind: domain.ErrUpstreamAuth, Message: "Invalid Authentication passed"}

		_, err := deps.uc().Initiate(ctx, usecase.InitiateRequest{PayerPhone: "254700000000", Amount: floatPtr(1)})
		if !errors.Is(err, domain.ErrUpstreamAuth) {
			t.Fatalf("expected ErrUpstreamAuth, got %v", err)
		}
		if len(deps.gateway.Submitted) != 0 {
			t.Error("expected no submission without a token")
		}
	})

	t.Run("should not record when the gateway rejects the push", func(t *testing.T) {
		deps := newPaymentUCDeps()
		deps.gateway.SubmitFunc = func(ctx context.Context, _ adapter.AccessToken, _ adapter.Envelope) (adapter.Ack, error) {
			return adapter.Ack{}, &domain.UpstreamError{Kind: domain.ErrUpstreamSubmission, Message: "Bad Request - Invalid PhoneNumber"}
		}

		_, err := deps.uc().Initiate(ctx, usecase.InitiateRequest{PayerPhone: "2547", Amount: floatPtr(1)})
		var ue *domain.UpstreamError
		if !errors.As(err, &ue) || ue.ClientMessage() != "Bad Request - Invalid PhoneNumber" {
			t.Fatalf("expected upstream error with gateway message, got %v", err)
		}
		pending, _ := deps.store.ListPendingOlderThan(ctx, time.Now().Add(time.Hour), 10)
		if len(pending) != 0 {
			t.Errorf("expected nothing recorded, got %d", len(pending))
		}
	})

	t.Run("should forward an ack without checkout id but not record it", func(t *testing.T) {
		deps := newPaymentUCDeps()
		deps.gateway.SubmitFunc = func(ctx context.Context, _ adapter.AccessToken, _ adapter.Envelope) (adapter.Ack, error) {
			return adapter.Ack{ResponseCode: "1", Raw: []byte(`{"ResponseCode":"1"}`)}, nil
		}
		res, err := deps.uc().Initiate(ctx, usecase.InitiateRequest{PayerPhone: "254700000000", Amount: floatPtr(1)})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.Recorded || string(res.Ack.Raw) != `{"ResponseCode":"1"}` {
			t.Errorf("unexpected result %+v", res)
		}
	})

	t.Run("should cap prompts per phone when a limiter is set", func(t *testing.T) {
		deps := newPaymentUCDeps()
		n := 0
		deps.gateway.SubmitFunc = func(ctx context.Context, _ adapter.AccessToken, _ adapter.Envelope) (adapter.Ack, error) {
			n++
			return ackFor("ws_rl_" + string(rune('a'+n))), nil
		}
		uc := usecase.NewPaymentUseCase(deps.store, deps.tokens, MockEnvelopeBuilder{}, deps.gateway, newTestLogger()).
			WithRateLimit(&MockLimiter{}, 2, time.Minute)

		req := usecase.InitiateRequest{PayerPhone: "254700000000", Amount: floatPtr(1)}
		for i := 0; i < 2; i++ {
			if _, err := uc.Initiate(ctx, req); err != nil {
				t.Fatalf("attempt %d: expected no error, got %v", i+1, err)
			}
		}
		if _, err := uc.Initiate(ctx, req); !errors.Is(err, domain.ErrRateLimited) {
			t.Fatalf("expected ErrRateLimited, got %v", err)
		}
		if len(deps.gateway.Submitted) != 2 {
			t.Errorf("expected the third prompt to be blocked, got %d submissions", len(deps.gateway.Submitted))
		}
	})

	t.Run("should redact the payer phone in logs outside dev mode", func(t *testing.T) {
		for _, dev := range []bool{false, true} {
			deps := newPaymentUCDeps()
			deps.gateway.SubmitFunc = func(ctx context.Context, _ adapter.AccessToken, _ adapter.Envelope) (adapter.Ack, error) {
				return adapter.Ack{}, &domain.UpstreamError{Kind: domain.ErrUpstreamSubmission, Message: "rejected"}
			}
			var buf bytes.Buffer
			logger := zerolog.New(&buf)
			uc := usecase.NewPaymentUseCase(deps.store, deps.tokens, MockEnvelopeBuilder{}, deps.gateway, &logger).WithDevMode(dev)

			_, _ = uc.Initiate(ctx, usecase.InitiateRequest{PayerPhone: "254712345678", Amount: floatPtr(1)})
			if got := strings.Contains(buf.String(), "254712345678"); got != dev {
				t.Errorf("dev=%v: expected full phone in logs=%v, got log %s", dev, dev, buf.String())
			}
		}
	})

	t.Run("should fail open when the limiter errors", func(t *testing.T) {
		deps := newPaymentUCDeps()
		uc := usecase.NewPaymentUseCase(deps.store, deps.tokens, MockEnvelopeBuilder{}, deps.gateway, newTestLogger()).
			WithRateLimit(&MockLimiter{Err: errBoom}, 1, time.Minute)
		if _, err := uc.Initiate(ctx, usecase.InitiateRequest{PayerPhone: "254700000000", Amount: floatPtr(1)}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})
}

func TestPaymentUseCase_Status(t *testing.T) {
	ctx := context.Background()

	t.Run("should report pending for an unknown id", func(t *testing.T) {
		deps := newPaymentUCDeps()
		rec, err := deps.uc().Status(ctx, "ws_unknown")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if rec.Status != model.PaymentStatusPending {
			t.Errorf("expected pending, got %s", rec.Status)
		}
		if _, err := deps.store.Get(ctx, "ws_unknown"); !errors.Is(err, domain.ErrNotFound) {
			t.Error("status lookup must not create a record")
		}
	})

	t.Run("should return the same record on repeated polls", func(t *testing.T) {
		deps := newPaymentUCDeps()
		_, _ = deps.store.Finalize(ctx, model.NewTerminalRecord(model.Outcome{CheckoutRequestID: "ws_9", ResultCode: 1, ResultDesc: "DS timeout"}, now()))
		uc := deps.uc()

		first, err := uc.Status(ctx, "ws_9")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		second, _ := uc.Status(ctx, "ws_9")
		if first.Status != model.PaymentStatusFailed || first.Message != "DS timeout" {
			t.Errorf("unexpected record %+v", first)
		}
		if *first.ResultCode != *second.ResultCode || first.Status != second.Status || !first.UpdatedAt.Equal(second.UpdatedAt) {
			t.Errorf("repeated polls differ: %+v vs %+v", first, second)
		}
	})

	t.Run("should require an id", func(t *testing.T) {
		deps := newPaymentUCDeps()
		if _, err := deps.uc().Status(ctx, " "); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	})
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"254712345678":   "254712345678",
		"+254712345678":  "254712345678",
		"0712345678":     "254712345678",
		"0112 345 678":   "254112345678",
		" 254-712345678": "254712345678",
		"12345":          "12345",
		"":               "",
	}
	for in, want := range cases {
		if got := usecase.NormalizePhone(in); got != want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
}
