package cache

import (
	"context"
	"time"
)

// Store represents a shared cache interface used by the rate limiter and the
// one-time code resend throttle.
type Store interface {
	// IncrementWithTTL increments key within a fixed window that starts on the
	// first increment. It returns the new count and the time left in the window.
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}

const keyPrefix = "passgate:"
