package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mpesa-stk-mediator/internal/domain"
	"mpesa-stk-mediator/internal/domain/model"
	"mpesa-stk-mediator/internal/domain/ports/adapter"
	"mpesa-stk-mediator/internal/domain/ports/repository"
	"mpesa-stk-mediator/internal/infra/logging"
	"mpesa-stk-mediator/internal/infra/metrics"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

type InitiateRequest struct {
	PayerPhone  string
	Amount      *float64 // nil when the caller left it out
	Description string
}

type InitiateResult struct {
	Ack      adapter.Ack
	Recorded bool // false when the ack carried no CheckoutRequestID
}

type PaymentUseCase interface {
	// Initiate sends an STK push and registers a pending record once the gateway acknowledges it.
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	// Status returns the record for id, or a pending placeholder when id is unknown.
	Status(ctx context.Context, checkoutRequestID string) (*model.PaymentRecord, error)
}

// Limiter caps how often a key may be used inside a window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type paymentUC struct {
	store   repository.PaymentStore
	tokens  adapter.TokenProvider
	builder adapter.EnvelopeBuilder
	gateway adapter.PaymentGateway
	log     *zerolog.Logger
	now     func() time.Time

	limiter  Limiter
	perPhone int
	window   time.Duration

	dev bool // log payer phones unredacted
}

func NewPaymentUseCase(
	store repository.PaymentStore,
	tokens adapter.TokenProvider,
	builder adapter.EnvelopeBuilder,
	gateway adapter.PaymentGateway,
	logger *zerolog.Logger,
) *paymentUC {
	return &paymentUC{
		store:   store,
		tokens:  tokens,
		builder: builder,
		gateway: gateway,
		log:     logger,
		now:     time.Now,
	}
}

// WithRateLimit caps STK prompts per payer phone. perPhone <= 0 disables the cap.
func (u *paymentUC) WithRateLimit(l Limiter, perPhone int, window time.Duration) *paymentUC {
	u.limiter = l
	u.perPhone = perPhone
	u.window = window
	return u
}

// WithDevMode turns off phone redaction in logs.
func (u *paymentUC) WithDevMode(dev bool) *paymentUC {
	u.dev = dev
	return u
}

func (u *paymentUC) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	log := logging.With(ctx, u.log)
	defer logging.TraceDuration(log, "PaymentUC.Initiate")()

	phone := NormalizePhone(req.PayerPhone)
	if phone == "" {
		metrics.IncInitiated("validation")
		return nil, fmt.Errorf("%w: payerPhone is required", domain.ErrValidation)
	}
	if req.Amount == nil || *req.Amount == 0 || math.IsNaN(*req.Amount) {
		metrics.IncInitiated("validation")
		return nil, fmt.Errorf("%w: amount is required", domain.ErrValidation)
	}
	rounded := math.Ceil(*req.Amount)
	if math.IsInf(rounded, 0) || rounded >= math.MaxInt64 || rounded < math.MinInt64 {
		metrics.IncInitiated("validation")
		return nil, fmt.Errorf("%w: amount is out of range", domain.ErrValidation)
	}
	amount := int64(rounded)

	if err := u.checkRate(ctx, phone); err != nil {
		metrics.IncInitiated("rate_limited")
		return nil, err
	}

	token, err := u.tokens.Token(ctx)
	if err != nil {
		metrics.IncInitiated("auth_error")
		log.Error().Err(err).Msg("gateway token request failed")
		return nil, err
	}

	env := u.builder.Build(adapter.PushRequest{
		PayerPhone:  phone,
		Amount:      amount,
		Description: strings.TrimSpace(req.Description),
	}, u.now())

	ack, err := u.gateway.Submit(ctx, token, env)
	if err != nil {
		metrics.IncInitiated("submit_error")
		log.Error().Err(err).Str("phone", logging.Redact(phone, u.dev)).Int64("amount", amount).Msg("stk push rejected")
		return nil, err
	}

	res := &InitiateResult{Ack: ack}
	if ack.CheckoutRequestID == "" || (ack.ResponseCode != "" && ack.ResponseCode != "0") {
		metrics.IncInitiated("unrecorded")
		log.Warn().Str("response_code", ack.ResponseCode).Msg("gateway ack without checkout request id; not recorded")
		return res, nil
	}

	rec := model.NewPendingRecord(ack.CheckoutRequestID, ack.MerchantRequestID, u.now().UTC())
	if err := u.store.Create(ctx, rec); err != nil {
		// The payer already has the prompt; the ack is still forwarded.
		metrics.IncInitiated("store_error")
		log.Error().Err(err).Str("checkout_request_id", ack.CheckoutRequestID).Msg("failed to register pending payment")
		return res, nil
	}
	res.Recorded = true
	metrics.IncInitiated("recorded")
	log.Info().
		Str("checkout_request_id", ack.CheckoutRequestID).
		Str("merchant_request_id", ack.MerchantRequestID).
		Str("gateway", u.gateway.Name()).
		Int64("amount", amount).
		Msg("stk push accepted")
	return res, nil
}

func (u *paymentUC) checkRate(ctx context.Context, phone string) error {
	if u.limiter == nil || u.perPhone <= 0 {
		return nil
	}
	ok, err := u.limiter.Allow(ctx, "stk:"+phone, u.perPhone, u.window)
	if err != nil {
		// fail open: a limiter outage must not block payments
		logging.With(ctx, u.log).Warn().Err(err).Msg("rate limiter unavailable")
		return nil
	}
	if !ok {
		return domain.ErrRateLimited
	}
	return nil
}

func (u *paymentUC) Status(ctx context.Context, checkoutRequestID string) (*model.PaymentRecord, error) {
	id := strings.TrimSpace(checkoutRequestID)
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", domain.ErrValidation)
	}
	rec, err := u.store.Get(ctx, id)
	switch {
	case err == nil:
		metrics.IncStatusPoll(true)
		return rec, nil
	case errors.Is(err, domain.ErrNotFound):
	default:
		logging.With(ctx, u.log).Error().Err(err).Str("checkout_request_id", id).Msg("status lookup failed; reporting pending")
	}
	metrics.IncStatusPoll(false)
	return &model.PaymentRecord{Status: model.PaymentStatusPending}, nil
}

// NormalizePhone rewrites local (07xx, 01xx) and +254 numbers to the 2547xx MSISDN form the
// gateway expects. Other input is returned trimmed but otherwise untouched.
func NormalizePhone(raw string) string {
	p := strings.TrimSpace(raw)
	p = strings.NewReplacer(" ", "", "-", "").Replace(p)
	switch {
	case strings.HasPrefix(p, "+254"):
		return p[1:]
	case len(p) == 10 && strings.HasPrefix(p, "0") && isDigits(p):
		return "254" + p[1:]
	}
	return p
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
