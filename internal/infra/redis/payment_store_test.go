//go:build integration

package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"mpesa-stk-mediator/internal/config"
	"mpesa-stk-mediator/internal/domain/ports/repository"
	"mpesa-stk-mediator/internal/infra/db/storetest"
)

// newTestClient connects to TEST_REDIS_ADDR with a unique key prefix per test.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	c, err := NewClient(context.Background(), &config.RedisConfig{URL: addr, KeyPrefix: "test-" + uuid.NewString()})
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPaymentStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.PaymentStore {
		return NewPaymentStore(newTestClient(t), 0)
	})
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(newTestClient(t))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "254700000000", 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("hit %d should be allowed: ok=%v err=%v", i+1, ok, err)
		}
	}
	ok, err := rl.Allow(ctx, "254700000000", 3, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("fourth hit in the window should be rejected")
	}
}
