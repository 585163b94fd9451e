package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"mpesa-stk-mediator/internal/domain"
	"mpesa-stk-mediator/internal/domain/model"
	"mpesa-stk-mediator/internal/domain/ports/repository"
)

var (
	_ repository.PaymentStore = (*paymentStore)(nil)
	_ repository.Evictor      = (*paymentStore)(nil)
)

const uniqueViolation = "23505"

const recordColumns = `checkout_request_id, merchant_request_id, status, amount, receipt, payer_phone, settled_at, message, result_code, created_at, updated_at`

type paymentStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPaymentStore(pool *pgxpool.Pool) *paymentStore {
	return &paymentStore{pool: pool, now: time.Now}
}

func (r *paymentStore) Create(ctx context.Context, rec *model.PaymentRecord) error {
	if rec == nil || rec.CheckoutRequestID == "" {
		return domain.ErrInvalidArgument
	}
	const q = `INSERT INTO payment_records (` + recordColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11);`
	_, err := r.pool.Exec(ctx, q, recordArgs(rec)...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrAlreadyExists
		}
		return domain.ErrOperationFailed
	}
	return nil
}

// Finalize upserts the terminal record; the WHERE clause on the conflict branch makes the
// pending -> terminal transition happen at most once. A receipt-less success may still be
// filled in by a success that carries one.
func (r *paymentStore) Finalize(ctx context.Context, rec *model.PaymentRecord) (*model.PaymentRecord, error) {
	if rec == nil || rec.CheckoutRequestID == "" || !rec.Status.IsTerminal() {
		return nil, domain.ErrInvalidArgument
	}
	in := *rec
	in.UpdatedAt = r.now().UTC()

	const q = `
INSERT INTO payment_records (` + recordColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (checkout_request_id) DO UPDATE SET
  merchant_request_id = COALESCE(NULLIF(EXCLUDED.merchant_request_id, ''), payment_records.merchant_request_id),
  status      = EXCLUDED.status,
  amount      = EXCLUDED.amount,
  receipt     = EXCLUDED.receipt,
  payer_phone = EXCLUDED.payer_phone,
  settled_at  = EXCLUDED.settled_at,
  message     = EXCLUDED.message,
  result_code = EXCLUDED.result_code,
  updated_at  = EXCLUDED.updated_at
WHERE payment_records.status = 'pending'
   OR (payment_records.status = 'success' AND payment_records.receipt = ''
       AND EXCLUDED.status = 'success' AND EXCLUDED.receipt <> '')
RETURNING ` + recordColumns + `;`

	out, err := scanRecord(r.pool.QueryRow(ctx, q, recordArgs(&in)...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// the conflict branch was skipped: the record is already terminal
			cur, getErr := r.Get(ctx, rec.CheckoutRequestID)
			if getErr != nil {
				return nil, getErr
			}
			return cur, domain.ErrAlreadyFinal
		}
		return nil, domain.ErrOperationFailed
	}
	return out, nil
}

func (r *paymentStore) Get(ctx context.Context, checkoutRequestID string) (*model.PaymentRecord, error) {
	const q = `SELECT ` + recordColumns + ` FROM payment_records WHERE checkout_request_id=$1;`
	rec, err := scanRecord(r.pool.QueryRow(ctx, q, checkoutRequestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrOperationFailed
	}
	return rec, nil
}

func (r *paymentStore) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.PaymentRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + recordColumns + ` FROM payment_records WHERE status='pending' AND created_at < $1 ORDER BY created_at ASC LIMIT $2;`
	rows, err := r.pool.Query(ctx, q, cutoff, limit)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.PaymentRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, domain.ErrOperationFailed
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, domain.ErrOperationFailed
	}
	return out, nil
}

func (r *paymentStore) EvictOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM payment_records WHERE updated_at < $1;`, cutoff)
	if err != nil {
		return 0, domain.ErrOperationFailed
	}
	return int(tag.RowsAffected()), nil
}

func recordArgs(rec *model.PaymentRecord) []any {
	return []any{
		rec.CheckoutRequestID, rec.MerchantRequestID, string(rec.Status), rec.Amount, rec.Receipt,
		rec.PayerPhone, rec.SettledAt, rec.Message, rec.ResultCode, rec.CreatedAt, rec.UpdatedAt,
	}
}

func scanRecord(row pgx.Row) (*model.PaymentRecord, error) {
	rec := &model.PaymentRecord{}
	var status string
	if err := row.Scan(&rec.CheckoutRequestID, &rec.MerchantRequestID, &status, &rec.Amount, &rec.Receipt,
		&rec.PayerPhone, &rec.SettledAt, &rec.Message, &rec.ResultCode, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Status = model.PaymentStatus(status)
	return rec, nil
}
