package adapter

import (
	"context"
	"time"

	"mpesa-stk-mediator/internal/domain/model"
)

// AccessToken is a bearer token issued by the gateway's OAuth endpoint.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// TokenProvider obtains gateway access tokens.
type TokenProvider interface {
	Token(ctx context.Context) (AccessToken, error)
}

// PushRequest is what the caller asks the payer to authorize.
type PushRequest struct {
	PayerPhone  string
	Amount      int64 // whole currency units
	Description string
}

// Envelope is the signed STK push body expected by the gateway.
type Envelope struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// EnvelopeBuilder fills merchant identity, password and timestamp around a push request.
type EnvelopeBuilder interface {
	Build(req PushRequest, at time.Time) Envelope
}

// Ack is the gateway's answer to a push submission. Raw is forwarded to clients verbatim.
type Ack struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResponseCode      string
	Raw               []byte
}

// QueryResult is the gateway's answer to a status query for one checkout request.
// Final is false while the payer has not yet acted on the prompt.
type QueryResult struct {
	Final   bool
	Outcome model.Outcome
}

// PaymentGateway is the port for the STK push provider.
type PaymentGateway interface {
	Name() string
	// Submit sends the envelope. Errors are *domain.UpstreamError.
	Submit(ctx context.Context, token AccessToken, env Envelope) (Ack, error)
	// Query asks the gateway for the outcome of an earlier submission. Only the merchant
	// identity, password and timestamp of env are used.
	Query(ctx context.Context, token AccessToken, env Envelope, checkoutRequestID string) (QueryResult, error)
}

// PaymentEventPublisher announces terminal payment outcomes to downstream systems.
type PaymentEventPublisher interface {
	PublishFinalized(ctx context.Context, rec *model.PaymentRecord) error
	Close() error
}
