package redis

import (
	"context"
	"time"
)

// RateLimiter is a fixed-window counter: the first hit in a window sets its expiry.
type RateLimiter struct {
	client *Client
}

func NewRateLimiter(client *Client) *RateLimiter {
	return &RateLimiter{client: client}
}

func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	k := r.client.key("rate_limit", key)
	count, err := r.client.Incr(ctx, k)
	if err != nil {
		return false, err
	}

	if count == 1 {
		if err := r.client.Expire(ctx, k, window); err != nil {
			return false, err
		}
	}

	return count <= int64(limit), nil
}
