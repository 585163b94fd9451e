//go:build !integration

package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mpesa-stk-mediator/internal/domain/model"
	"mpesa-stk-mediator/internal/domain/ports/adapter"
	"mpesa-stk-mediator/internal/infra/worker"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func now() time.Time { return time.Now().UTC() }

func floatPtr(f float64) *float64 { return &f }

// --- Mock TokenProvider

type MockTokenProvider struct {
	Err   error
	Calls int
}

func (m *MockTokenProvider) Token(ctx context.Context) (adapter.AccessToken, error) {
	m.Calls++
	if m.Err != nil {
		return adapter.AccessToken{}, m.Err
	}
	return adapter.AccessToken{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

// --- Mock EnvelopeBuilder

type MockEnvelopeBuilder struct{}

func (MockEnvelopeBuilder) Build(req adapter.PushRequest, at time.Time) adapter.Envelope {
	desc := req.Description
	if desc == "" {
		desc = "Payment"
	}
	return adapter.Envelope{
		BusinessShortCode: "174379",
		Password:          "pw",
		Timestamp:         at.Format("20060102150405"),
		Amount:            req.Amount,
		PartyA:            req.PayerPhone,
		PartyB:            "174379",
		PhoneNumber:       req.PayerPhone,
		TransactionDesc:   desc,
	}
}

// --- Mock PaymentGateway

type MockPaymentGateway struct {
	mu         sync.Mutex
	SubmitFunc func(ctx context.Context, token adapter.AccessToken, env adapter.Envelope) (adapter.Ack, error)
	QueryFunc  func(ctx context.Context, token adapter.AccessToken, env adapter.Envelope, id string) (adapter.QueryResult, error)
	Submitted  []adapter.Envelope
	Queried    []string
}

func (m *MockPaymentGateway) Name() string { return "mock" }

func (m *MockPaymentGateway) Submit(ctx context.Context, token adapter.AccessToken, env adapter.Envelope) (adapter.Ack, error) {
	m.mu.Lock()
	m.Submitted = append(m.Submitted, env)
	m.mu.Unlock()
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, token, env)
	}
	return ackFor("ws_1"), nil
}

func (m *MockPaymentGateway) Query(ctx context.Context, token adapter.AccessToken, env adapter.Envelope, id string) (adapter.QueryResult, error) {
	m.mu.Lock()
	m.Queried = append(m.Queried, id)
	m.mu.Unlock()
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, token, env, id)
	}
	return adapter.QueryResult{}, nil
}

func ackFor(id string) adapter.Ack {
	raw, _ := json.Marshal(map[string]string{
		"MerchantRequestID":   "mr_" + id,
		"CheckoutRequestID":   id,
		"ResponseCode":        "0",
		"ResponseDescription": "Success. Request accepted for processing",
	})
	return adapter.Ack{MerchantRequestID: "mr_" + id, CheckoutRequestID: id, ResponseCode: "0", Raw: raw}
}

// --- Mock PaymentEventPublisher

type MockPublisher struct {
	mu        sync.Mutex
	Err       error
	Published []*model.PaymentRecord
}

func (m *MockPublisher) PublishFinalized(ctx context.Context, rec *model.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Published = append(m.Published, rec)
	return m.Err
}

func (m *MockPublisher) Close() error { return nil }

func (m *MockPublisher) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Published)
}

// --- Mock TaskRunner; runs tasks inline so tests stay deterministic

type MockRunner struct {
	Err   error
	Tasks int
}

func (m *MockRunner) Submit(task worker.Task) error {
	if m.Err != nil {
		return m.Err
	}
	m.Tasks++
	return task(context.Background())
}

// --- Mock Limiter

type MockLimiter struct {
	Err     error
	hits    map[string]int
}

func (m *MockLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if m.Err != nil {
		return false, m.Err
	}
	if m.hits == nil {
		m.hits = map[string]int{}
	}
	m.hits[key]++
	return m.hits[key] <= limit, nil
}

var errBoom = errors.New("boom")
