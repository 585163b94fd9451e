package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"mpesa-stk-mediator/internal/domain"
	"mpesa-stk-mediator/internal/domain/model"
	"mpesa-stk-mediator/internal/domain/ports/repository"
)

var _ repository.PaymentStore = (*PaymentStore)(nil)

const maxFinalizeAttempts = 5

// PaymentStore keeps each record as a JSON string under <prefix>:payment:<id> and indexes
// pending ids in the <prefix>:pending sorted set (score = creation time in ms).
// Retention is enforced by key TTL, so no sweep is needed.
type PaymentStore struct {
	client *Client
	ttl    time.Duration // 0 keeps keys forever
	now    func() time.Time
}

func NewPaymentStore(client *Client, retention time.Duration) *PaymentStore {
	return &PaymentStore{client: client, ttl: retention, now: time.Now}
}

func (s *PaymentStore) recordKey(id string) string { return s.client.key("payment", id) }
func (s *PaymentStore) pendingKey() string         { return s.client.key("pending") }

// KEYS[1] record key, KEYS[2] pending index; ARGV[1] json, ARGV[2] score, ARGV[3] ttl ms, ARGV[4] id
var luaCreate = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
else
	redis.call("SET", KEYS[1], ARGV[1])
end
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[4])
return 1`)

func (s *PaymentStore) Create(ctx context.Context, rec *model.PaymentRecord) error {
	if rec == nil || rec.CheckoutRequestID == "" {
		return domain.ErrInvalidArgument
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	created, err := luaCreate.Run(ctx, s.client.cli,
		[]string{s.recordKey(rec.CheckoutRequestID), s.pendingKey()},
		string(data), rec.CreatedAt.UnixMilli(), s.ttl.Milliseconds(), rec.CheckoutRequestID,
	).Int()
	if err != nil {
		return fmt.Errorf("redis create: %w", err)
	}
	if created == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// Finalize uses WATCH on the record key so a concurrent finalize makes this one retry and
// then observe the terminal record.
func (s *PaymentStore) Finalize(ctx context.Context, rec *model.PaymentRecord) (*model.PaymentRecord, error) {
	if rec == nil || rec.CheckoutRequestID == "" || !rec.Status.IsTerminal() {
		return nil, domain.ErrInvalidArgument
	}
	key := s.recordKey(rec.CheckoutRequestID)

	var result *model.PaymentRecord
	txf := func(tx *redis.Tx) error {
		out := *rec
		result = &out
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var cur model.PaymentRecord
			if err := json.Unmarshal(raw, &cur); err != nil {
				return err
			}
			if !cur.AcceptsFinal(rec) {
				result = &cur
				return domain.ErrAlreadyFinal
			}
			result = cur.MergeFinal(rec)
		}
		result.UpdatedAt = s.now().UTC()
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, s.ttl)
			p.ZRem(ctx, s.pendingKey(), rec.CheckoutRequestID)
			return nil
		})
		return err
	}

	for i := 0; i < maxFinalizeAttempts; i++ {
		err := s.client.cli.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return result, nil
		case errors.Is(err, domain.ErrAlreadyFinal):
			return result, err
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return nil, fmt.Errorf("redis finalize: %w", err)
		}
	}
	return nil, fmt.Errorf("redis finalize: %w", redis.TxFailedErr)
}

func (s *PaymentStore) Get(ctx context.Context, checkoutRequestID string) (*model.PaymentRecord, error) {
	raw, err := s.client.cli.Get(ctx, s.recordKey(checkoutRequestID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var rec model.PaymentRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

// ListPendingOlderThan reads the pending index. Ids whose record expired are pruned.
func (s *PaymentStore) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.PaymentRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.client.cli.ZRangeByScore(ctx, s.pendingKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis pending index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	vals, err := s.client.cli.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	var out []*model.PaymentRecord
	var gone []interface{}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			gone = append(gone, ids[i])
			continue
		}
		var rec model.PaymentRecord
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		if rec.Status == model.PaymentStatusPending {
			out = append(out, &rec)
		}
	}
	if len(gone) > 0 {
		_ = s.client.cli.ZRem(ctx, s.pendingKey(), gone...).Err()
	}
	return out, nil
}
