package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mpesa-stk-mediator/internal/domain"
	"mpesa-stk-mediator/internal/domain/model"
	"mpesa-stk-mediator/internal/domain/ports/adapter"
	"mpesa-stk-mediator/internal/domain/ports/repository"
	"mpesa-stk-mediator/internal/infra/logging"
	"mpesa-stk-mediator/internal/infra/metrics"
	"mpesa-stk-mediator/internal/infra/worker"
)

var _ CallbackUseCase = (*callbackUC)(nil)

// Where a terminal outcome came from.
const (
	SourceCallback = "callback"
	SourceQuery    = "query"
)

type CallbackUseCase interface {
	// Reconcile applies a raw gateway callback. The caller acknowledges the gateway no
	// matter what is returned.
	Reconcile(ctx context.Context, body []byte) error
	// Apply finalizes the record for o. A duplicate returns the stored record and
	// domain.ErrAlreadyFinal.
	Apply(ctx context.Context, o model.Outcome, source string) (*model.PaymentRecord, error)
}

// TaskRunner runs work off the request path.
type TaskRunner interface {
	Submit(task worker.Task) error
}

type callbackUC struct {
	store     repository.PaymentStore
	publisher adapter.PaymentEventPublisher
	runner    TaskRunner
	log       *zerolog.Logger
	now       func() time.Time
}

// NewCallbackUseCase wires the reconciler. runner may be nil, in which case events are
// published inline.
func NewCallbackUseCase(store repository.PaymentStore, publisher adapter.PaymentEventPublisher, runner TaskRunner, logger *zerolog.Logger) *callbackUC {
	return &callbackUC{store: store, publisher: publisher, runner: runner, log: logger, now: time.Now}
}

// wire shape of the STK result notification
type stkCallbackEnvelope struct {
	Body *struct {
		StkCallback *stkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type stkCallback struct {
	MerchantRequestID string          `json:"MerchantRequestID"`
	CheckoutRequestID string          `json:"CheckoutRequestID"`
	ResultCode        json.RawMessage `json:"ResultCode"`
	ResultDesc        string          `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []callbackItem `json:"Item"`
	} `json:"CallbackMetadata"`
}

type callbackItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value"`
}

func (u *callbackUC) Reconcile(ctx context.Context, body []byte) error {
	o, err := ParseCallback(body)
	if err != nil {
		metrics.IncCallback("malformed")
		logging.With(ctx, u.log).Warn().Err(err).Int("bytes", len(body)).Msg("ignoring malformed stk callback")
		return err
	}
	ctx = logging.WithCheckoutID(ctx, o.CheckoutRequestID)

	_, err = u.Apply(ctx, o, SourceCallback)
	switch {
	case err == nil:
		metrics.IncCallback("finalized")
		return nil
	case errors.Is(err, domain.ErrAlreadyFinal):
		metrics.IncCallback("duplicate")
		return nil
	default:
		metrics.IncCallback("store_error")
		return err
	}
}

func (u *callbackUC) Apply(ctx context.Context, o model.Outcome, source string) (*model.PaymentRecord, error) {
	log := logging.With(ctx, u.log)

	rec, err := u.store.Finalize(ctx, model.NewTerminalRecord(o, u.now().UTC()))
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyFinal) {
			l := log.Info().Str("checkout_request_id", o.CheckoutRequestID).Int("result_code", o.ResultCode).Str("source", source)
			if rec != nil {
				l = l.Str("kept_status", string(rec.Status))
			}
			l.Msg("duplicate terminal notification ignored")
			return rec, err
		}
		log.Error().Err(err).Str("checkout_request_id", o.CheckoutRequestID).Msg("failed to finalize payment")
		return nil, err
	}

	metrics.IncFinalized(string(rec.Status), source)
	log.Info().
		Str("checkout_request_id", rec.CheckoutRequestID).
		Str("status", string(rec.Status)).
		Int("result_code", o.ResultCode).
		Str("source", source).
		Msg("payment finalized")

	u.publish(ctx, rec)
	return rec, nil
}

func (u *callbackUC) publish(ctx context.Context, rec *model.PaymentRecord) {
	if u.publisher == nil {
		return
	}
	traceID := logging.TraceID(ctx)
	task := func(ctx context.Context) error {
		if traceID != "" {
			ctx = logging.WithTraceID(ctx, traceID)
		}
		return u.publisher.PublishFinalized(ctx, rec)
	}
	if u.runner == nil {
		if err := task(context.WithoutCancel(ctx)); err != nil {
			logging.With(ctx, u.log).Error().Err(err).Msg("failed to publish payment event")
		}
		return
	}
	if err := u.runner.Submit(task); err != nil {
		logging.With(ctx, u.log).Error().Err(err).Str("checkout_request_id", rec.CheckoutRequestID).Msg("payment event dropped")
	}
}

// ParseCallback extracts the outcome from a raw STK callback body. It returns
// domain.ErrMalformedNotification when the nested structure, the CheckoutRequestID or a
// numeric ResultCode is missing.
func ParseCallback(body []byte) (model.Outcome, error) {
	var env stkCallbackEnvelope
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return model.Outcome{}, fmt.Errorf("%w: %v", domain.ErrMalformedNotification, err)
	}
	if env.Body == nil || env.Body.StkCallback == nil {
		return model.Outcome{}, fmt.Errorf("%w: missing Body.stkCallback", domain.ErrMalformedNotification)
	}
	cb := env.Body.StkCallback
	id := strings.TrimSpace(cb.CheckoutRequestID)
	if id == "" {
		return model.Outcome{}, fmt.Errorf("%w: missing CheckoutRequestID", domain.ErrMalformedNotification)
	}
	code, ok := model.ParseResultCode(cb.ResultCode)
	if !ok {
		return model.Outcome{}, fmt.Errorf("%w: missing or non-numeric ResultCode", domain.ErrMalformedNotification)
	}

	o := model.Outcome{
		CheckoutRequestID: id,
		MerchantRequestID: cb.MerchantRequestID,
		ResultCode:        code,
		ResultDesc:        cb.ResultDesc,
	}
	if code != model.ResultCodeSuccess || cb.CallbackMetadata == nil {
		return o, nil
	}
	for _, it := range cb.CallbackMetadata.Item {
		switch it.Name {
		case "Amount":
			o.Amount = itemFloat(it.Value)
		case "MpesaReceiptNumber":
			o.Receipt = itemString(it.Value)
		case "PhoneNumber":
			o.PayerPhone = itemString(it.Value)
		case "TransactionDate":
			o.SettledAt = itemString(it.Value)
		}
	}
	return o, nil
}

func itemString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func itemFloat(v interface{}) float64 {
	switch x := v.(type) {
	case json.Number:
		f, _ := x.Float64()
		return f
	case string:
		f, _ := json.Number(strings.TrimSpace(x)).Float64()
		return f
	}
	return 0
}
