package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mpesa-stk-mediator/internal/domain/ports/repository"
	"mpesa-stk-mediator/internal/infra/metrics"
)

// EvictionWorker drops records older than the retention window. Stores with native expiry
// (redis) do not need it.
type EvictionWorker struct {
	evictor   repository.Evictor
	retention time.Duration
	interval  time.Duration
	log       *zerolog.Logger
	now       func() time.Time
}

func NewEvictionWorker(evictor repository.Evictor, retention, interval time.Duration, logger *zerolog.Logger) *EvictionWorker {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &EvictionWorker{evictor: evictor, retention: retention, interval: interval, log: logger, now: time.Now}
}

func (w *EvictionWorker) Start(ctx context.Context) {
	if w.retention <= 0 {
		return
	}
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.tick(ctx)
		}
	}
}

func (w *EvictionWorker) tick(ctx context.Context) int {
	n, err := w.evictor.EvictOlderThan(ctx, w.now().Add(-w.retention))
	if err != nil {
		w.log.Error().Err(err).Msg("eviction: sweep failed")
		return 0
	}
	if n > 0 {
		metrics.AddEvicted(n)
		w.log.Info().Int("evicted", n).Dur("retention", w.retention).Msg("eviction: old payment records removed")
	}
	return n
}
