package repository

import (
	"context"
	"time"

	"mpesa-stk-mediator/internal/domain/model"
)

// -----------------------------
// Payment records
// -----------------------------

// PaymentStore holds one record per checkout request. Implementations must be safe for
// concurrent use.
type PaymentStore interface {
	// Create registers a new record. Returns domain.ErrAlreadyExists if the id is taken.
	Create(ctx context.Context, rec *model.PaymentRecord) error
	// Finalize writes a terminal record. A missing record is created directly in the
	// terminal state; an already-terminal one is left untouched and domain.ErrAlreadyFinal
	// is returned.
	Finalize(ctx context.Context, rec *model.PaymentRecord) (*model.PaymentRecord, error)
	// Get returns domain.ErrNotFound for unknown ids.
	Get(ctx context.Context, checkoutRequestID string) (*model.PaymentRecord, error)
	// ListPendingOlderThan returns up to limit pending records created before cutoff,
	// oldest first.
	ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.PaymentRecord, error)
}

// Evictor is implemented by stores that need an explicit sweep to drop old records.
type Evictor interface {
	EvictOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
