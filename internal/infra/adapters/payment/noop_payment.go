package payment

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"mpesa-stk-mediator/internal/domain/ports/adapter"
)

var (
	_ adapter.PaymentGateway = (*NoopPaymentGateway)(nil)
	_ adapter.TokenProvider  = (*NoopTokenProvider)(nil)
)

// noopRemembered bounds how many envelopes the noop gateway keeps; oldest go first.
const noopRemembered = 1024

// NoopPaymentGateway acknowledges every push without contacting anyone. Used for local
// runs and tests; outcomes are delivered by posting a callback by hand.
type NoopPaymentGateway struct {
	mu        sync.Mutex
	limit     int
	order     []string
	submitted map[string]adapter.Envelope // checkout id -> envelope
}

func NewNoopPaymentGateway() *NoopPaymentGateway {
	return &NoopPaymentGateway{limit: noopRemembered, submitted: make(map[string]adapter.Envelope)}
}

func (g *NoopPaymentGateway) Name() string { return "noop" }

func (g *NoopPaymentGateway) Submit(ctx context.Context, token adapter.AccessToken, env adapter.Envelope) (adapter.Ack, error) {
	id := ulid.Make().String()
	ack := adapter.Ack{
		MerchantRequestID: "noop-" + id,
		CheckoutRequestID: "ws_CO_" + id,
		ResponseCode:      "0",
	}
	raw, _ := json.Marshal(map[string]string{
		"MerchantRequestID":   ack.MerchantRequestID,
		"CheckoutRequestID":   ack.CheckoutRequestID,
		"ResponseCode":        ack.ResponseCode,
		"ResponseDescription": "Success. Request accepted for processing",
		"CustomerMessage":     "Success. Request accepted for processing",
	})
	ack.Raw = raw

	g.remember(ack.CheckoutRequestID, env)
	return ack, nil
}

// Query never reports a final outcome; the noop gateway only learns results via callbacks.
func (g *NoopPaymentGateway) Query(ctx context.Context, token adapter.AccessToken, env adapter.Envelope, checkoutRequestID string) (adapter.QueryResult, error) {
	return adapter.QueryResult{Final: false}, nil
}

func (g *NoopPaymentGateway) remember(id string, env adapter.Envelope) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.order) >= g.limit {
		delete(g.submitted, g.order[0])
		g.order = g.order[1:]
	}
	g.order = append(g.order, id)
	g.submitted[id] = env
}

// Submitted returns the envelope sent for a checkout id, if it is still remembered.
func (g *NoopPaymentGateway) Submitted(checkoutRequestID string) (adapter.Envelope, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	env, ok := g.submitted[checkoutRequestID]
	return env, ok
}

type NoopTokenProvider struct{}

func (NoopTokenProvider) Token(ctx context.Context) (adapter.AccessToken, error) {
	return adapter.AccessToken{Value: "noop", ExpiresAt: time.Now().Add(time.Hour)}, nil
}
