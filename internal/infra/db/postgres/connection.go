package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
)

// NewPgxPool parses dsn, applies the connection cap and verifies the pool with a ping.
func NewPgxPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.Connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Schema creates the payment_records table. Safe to run on every start.
const Schema = `
CREATE TABLE IF NOT EXISTS payment_records (
  checkout_request_id TEXT PRIMARY KEY,
  merchant_request_id TEXT NOT NULL DEFAULT '',
  status              TEXT NOT NULL,
  amount              DOUBLE PRECISION NOT NULL DEFAULT 0,
  receipt             TEXT NOT NULL DEFAULT '',
  payer_phone         TEXT NOT NULL DEFAULT '',
  settled_at          TEXT NOT NULL DEFAULT '',
  message             TEXT NOT NULL DEFAULT '',
  result_code         INTEGER,
  created_at          TIMESTAMPTZ NOT NULL,
  updated_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS payment_records_pending_idx ON payment_records (created_at) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS payment_records_updated_idx ON payment_records (updated_at);
`

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
