// Package boltdb stores payment records in a single BoltDB file, for deployments that
// want records to survive a restart without running a database server.
package boltdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"

	"mpesa-stk-mediator/internal/domain"
	"mpesa-stk-mediator/internal/domain/model"
	"mpesa-stk-mediator/internal/domain/ports/repository"
)

const bucketName = "payments"

var (
	_ repository.PaymentStore = (*PaymentStore)(nil)
	_ repository.Evictor      = (*PaymentStore)(nil)
)

type PaymentStore struct {
	db  *bolt.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and ensures the bucket exists.
func Open(path string) (*PaymentStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &PaymentStore{db: db, now: time.Now}, nil
}

// Close releases the database file lock.
func (s *PaymentStore) Close() error {
	return s.db.Close()
}

func (s *PaymentStore) Create(ctx context.Context, rec *model.PaymentRecord) error {
	if rec == nil || rec.CheckoutRequestID == "" {
		return domain.ErrInvalidArgument
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b.Get([]byte(rec.CheckoutRequestID)) != nil {
			return domain.ErrAlreadyExists
		}
		return put(b, rec)
	})
}

func (s *PaymentStore) Finalize(ctx context.Context, rec *model.PaymentRecord) (*model.PaymentRecord, error) {
	if rec == nil || rec.CheckoutRequestID == "" || !rec.Status.IsTerminal() {
		return nil, domain.ErrInvalidArgument
	}
	var result *model.PaymentRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		out := *rec
		result = &out
		if v := b.Get([]byte(rec.CheckoutRequestID)); v != nil {
			var cur model.PaymentRecord
			if err := json.Unmarshal(v, &cur); err != nil {
				return err
			}
			if !cur.AcceptsFinal(rec) {
				result = &cur
				return domain.ErrAlreadyFinal
			}
			result = cur.MergeFinal(rec)
		}
		result.UpdatedAt = s.now().UTC()
		return put(b, result)
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyFinal) {
			return result, err
		}
		return nil, err
	}
	return result, nil
}

func (s *PaymentStore) Get(ctx context.Context, checkoutRequestID string) (*model.PaymentRecord, error) {
	var rec model.PaymentRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketName)).Get([]byte(checkoutRequestID))
		if v == nil {
			return domain.ErrNotFound
		}
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PaymentStore) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.PaymentRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*model.PaymentRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(k, v []byte) error {
			var rec model.PaymentRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.Status == model.PaymentStatusPending && rec.CreatedAt.Before(cutoff) {
				out = append(out, &rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *PaymentStore) EvictOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	n := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var rec model.PaymentRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.UpdatedAt.Before(cutoff) {
				// keys are only valid for the life of the transaction; copy before deleting
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		n = len(stale)
		return nil
	})
	return n, err
}

func put(b *bolt.Bucket, rec *model.PaymentRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.Put([]byte(rec.CheckoutRequestID), data)
}
