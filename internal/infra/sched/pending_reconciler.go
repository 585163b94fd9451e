package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"mpesa-stk-mediator/internal/domain"
	"mpesa-stk-mediator/internal/domain/model"
	"mpesa-stk-mediator/internal/domain/ports/adapter"
	"mpesa-stk-mediator/internal/domain/ports/repository"
	"mpesa-stk-mediator/internal/usecase"
)

// PendingReconciler periodically scans for stale pending payments and asks the gateway for
// their outcome. This covers callbacks that never arrived or could not be delivered.
type PendingReconciler struct {
	store      repository.PaymentStore
	tokens     adapter.TokenProvider
	builder    adapter.EnvelopeBuilder
	gateway    adapter.PaymentGateway
	results    usecase.CallbackUseCase
	interval   time.Duration // how often to scan
	staleAfter time.Duration // how old a pending payment must be to query
	batch      int
	log        *zerolog.Logger
	now        func() time.Time
}

func NewPendingReconciler(
	store repository.PaymentStore,
	tokens adapter.TokenProvider,
	builder adapter.EnvelopeBuilder,
	gateway adapter.PaymentGateway,
	results usecase.CallbackUseCase,
	interval, staleAfter time.Duration,
	batch int,
	logger *zerolog.Logger,
) *PendingReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	if batch <= 0 {
		batch = 50
	}
	return &PendingReconciler{
		store:      store,
		tokens:     tokens,
		builder:    builder,
		gateway:    gateway,
		results:    results,
		interval:   interval,
		staleAfter: staleAfter,
		batch:      batch,
		log:        logger,
		now:        time.Now,
	}
}

func (w *PendingReconciler) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Dur("stale_after", w.staleAfter).Msg("pending reconciler started")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("pending reconciler stopping")
			return
		case <-t.C:
			w.tick(ctx)
		}
	}
}

// tick returns how many records it finalized.
func (w *PendingReconciler) tick(ctx context.Context) int {
	cutoff := w.now().Add(-w.staleAfter)
	pending, err := w.store.ListPendingOlderThan(ctx, cutoff, w.batch)
	if err != nil {
		w.log.Error().Err(err).Msg("pending-reconciler: list pending error")
		return 0
	}
	if len(pending) == 0 {
		return 0
	}

	token, err := w.tokens.Token(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("pending-reconciler: token error")
		return 0
	}
	env := w.builder.Build(adapter.PushRequest{}, w.now())

	done := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			break
		}
		if w.reconcileOne(ctx, token, env, p) {
			done++
		}
	}
	if done > 0 {
		w.log.Info().Int("reconciled", done).Int("scanned", len(pending)).Msg("pending-reconciler: pass complete")
	}
	return done
}

func (w *PendingReconciler) reconcileOne(ctx context.Context, token adapter.AccessToken, env adapter.Envelope, p *model.PaymentRecord) bool {
	res, err := w.gateway.Query(ctx, token, env, p.CheckoutRequestID)
	if err != nil {
		w.log.Warn().Err(err).Str("checkout_request_id", p.CheckoutRequestID).Msg("pending-reconciler: query failed")
		return false
	}
	if !res.Final {
		return false
	}
	o := res.Outcome
	o.CheckoutRequestID = p.CheckoutRequestID
	if o.MerchantRequestID == "" {
		o.MerchantRequestID = p.MerchantRequestID
	}
	if _, err := w.results.Apply(ctx, o, usecase.SourceQuery); err != nil {
		if !errors.Is(err, domain.ErrAlreadyFinal) {
			w.log.Error().Err(err).Str("checkout_request_id", p.CheckoutRequestID).Msg("pending-reconciler: finalize failed")
		}
		return false
	}
	return true
}
