// Package cache provides the byte cache used for rendered template
// output, with in-memory and Redis implementations.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss reports a key that is absent or expired. Implementations
// wrap it so callers can classify misses with errors.Is.
var ErrMiss = errors.New("cache miss")

// Cache stores opaque byte values under string keys with a TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores the value. A non-positive TTL means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	Close() error
}
