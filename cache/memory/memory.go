// Package memory provides an in-process implementation of cache.Cache.
//
// It honours the same atomicity contract as the Redis adapter within a single
// process and takes an injectable clock so expiry can be driven by tests.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/MrEthical07/trustgate/cache"
)

type item struct {
	value     []byte
	expiresAt time.Time
}

func (it item) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && !now.Before(it.expiresAt)
}

// Cache is a mutex-guarded map with per-key expiry.
type Cache struct {
	mu      sync.Mutex
	items   map[string]item
	now     func() time.Time
	failure error
}

var _ cache.Cache = (*Cache)(nil)

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New returns an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		items: make(map[string]item),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetFailure makes every subsequent operation fail with cache.ErrUnavailable
// wrapping err. Passing nil restores normal operation.
func (c *Cache) SetFailure(err error) {
	c.mu.Lock()
	c.failure = err
	c.mu.Unlock()
}

func (c *Cache) failed() error {
	if c.failure == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", cache.ErrUnavailable, c.failure)
}

func (c *Cache) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

// lookup returns the live item for key, evicting it when expired. Caller holds mu.
func (c *Cache) lookup(key string) (item, bool) {
	it, ok := c.items[key]
	if !ok {
		return item{}, false
	}
	if it.expired(c.now()) {
		delete(c.items, key)
		return item{}, false
	}
	return it, true
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.failed(); err != nil {
		return nil, err
	}
	it, ok := c.lookup(key)
	if !ok {
		return nil, cache.ErrNotFound
	}
	return bytes.Clone(it.value), nil
}

func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.failed(); err != nil {
		return err
	}
	c.items[key] = item{value: bytes.Clone(value), expiresAt: c.expiry(ttl)}
	return nil
}

func (c *Cache) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.failed(); err != nil {
		return false, err
	}
	if _, ok := c.lookup(key); ok {
		return false, nil
	}
	c.items[key] = item{value: bytes.Clone(value), expiresAt: c.expiry(ttl)}
	return true, nil
}

func (c *Cache) CompareAndSwap(_ context.Context, key string, expected, next []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.failed(); err != nil {
		return false, err
	}
	it, ok := c.lookup(key)
	if !ok {
		return false, cache.ErrNotFound
	}
	if !bytes.Equal(it.value, expected) {
		return false, nil
	}

	expiresAt := it.expiresAt
	if ttl > 0 {
		expiresAt = c.expiry(ttl)
	}
	c.items[key] = item{value: bytes.Clone(next), expiresAt: expiresAt}
	return true, nil
}

func (c *Cache) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.failed(); err != nil {
		return 0, err
	}

	it, ok := c.lookup(key)
	if !ok {
		c.items[key] = item{value: []byte("1"), expiresAt: c.expiry(ttl)}
		return 1, nil
	}

	n, err := strconv.ParseInt(string(it.value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: value at %q is not a counter", cache.ErrUnavailable, key)
	}
	n++
	it.value = []byte(strconv.FormatInt(n, 10))
	c.items[key] = it
	return n, nil
}

func (c *Cache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.failed(); err != nil {
		return err
	}
	for _, key := range keys {
		delete(c.items, key)
	}
	return nil
}

// Ping reports the configured failure, if any.
func (c *Cache) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed()
}

// Len returns the number of live keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for key, it := range c.items {
		if it.expired(now) {
			delete(c.items, key)
			continue
		}
		n++
	}
	return n
}
