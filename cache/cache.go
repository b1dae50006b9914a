package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key is absent or its TTL has elapsed.
	ErrNotFound = errors.New("cache key not found")
	// ErrUnavailable wraps every backend failure (network, timeout, script error).
	ErrUnavailable = errors.New("cache unavailable")
)

// Cache is the shared key-value port every stateful component is built on.
//
// Implementations must make CompareAndSwap and Increment atomic with respect
// to every other caller of the same backend, across processes.
type Cache interface {
	// Get returns the stored value or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A ttl <= 0 stores without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetIfAbsent stores value only when key does not exist and reports
	// whether it did.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// CompareAndSwap replaces the value only when the stored bytes equal
	// expected. It returns false when they differ and ErrNotFound when the
	// key is absent. A ttl <= 0 keeps the key's remaining TTL.
	CompareAndSwap(ctx context.Context, key string, expected, next []byte, ttl time.Duration) (bool, error)

	// Increment adds one to the counter at key and returns the new value.
	// The ttl is applied only when the increment creates the key.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

// Pinger is implemented by adapters that can report backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
