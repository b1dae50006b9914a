package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/trustgate/cache"
)

const (
	casStatusNotFound int64 = 0
	casStatusMismatch int64 = 1
	casStatusSwapped  int64 = 2
)

const compareAndSwapScript = `
local current = redis.call("GET", KEYS[1])
if not current then
  return 0
end
if current ~= ARGV[1] then
  return 1
end

local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call("SET", KEYS[1], ARGV[2], "PX", ttl)
  return 2
end

local remaining = redis.call("PTTL", KEYS[1])
if remaining > 0 then
  redis.call("SET", KEYS[1], ARGV[2], "PX", remaining)
else
  redis.call("SET", KEYS[1], ARGV[2])
end
return 2
`

const incrementScript = `
local count = redis.call("INCR", KEYS[1])
local ttl = tonumber(ARGV[1])
if count == 1 and ttl > 0 then
  redis.call("PEXPIRE", KEYS[1], ttl)
end
return count
`

var (
	compareAndSwapLua = redis.NewScript(compareAndSwapScript)
	incrementLua      = redis.NewScript(incrementScript)
)

// Cache implements cache.Cache over a go-redis universal client. Every key is
// namespaced with the configured prefix.
type Cache struct {
	redis  redis.UniversalClient
	prefix string
	logger zerolog.Logger
}

var (
	_ cache.Cache  = (*Cache)(nil)
	_ cache.Pinger = (*Cache)(nil)
)

// Option configures a Cache.
type Option func(*Cache)

// WithPrefix namespaces every key as "<prefix>:<key>".
func WithPrefix(prefix string) Option {
	return func(c *Cache) {
		c.prefix = prefix
	}
}

// WithLogger sets the logger used for script failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New wraps client. The client is not closed by the Cache.
func New(client redis.UniversalClient, opts ...Option) *Cache {
	c := &Cache{
		redis:  client,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) key(key string) string {
	if c.prefix == "" {
		return key
	}
	return c.prefix + ":" + key
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.redis.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, cache.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return data, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := c.redis.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return nil
}

func (c *Cache) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	stored, err := c.redis.SetNX(ctx, c.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return stored, nil
}

func (c *Cache) CompareAndSwap(ctx context.Context, key string, expected, next []byte, ttl time.Duration) (bool, error) {
	status, err := compareAndSwapLua.Run(
		ctx,
		c.redis,
		[]string{c.key(key)},
		expected,
		next,
		ttlMillis(ttl),
	).Int64()
	if err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("compare-and-swap script failed")
		return false, fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}

	switch status {
	case casStatusSwapped:
		return true, nil
	case casStatusMismatch:
		return false, nil
	case casStatusNotFound:
		return false, cache.ErrNotFound
	default:
		return false, fmt.Errorf("%w: unexpected compare-and-swap status %d", cache.ErrUnavailable, status)
	}
}

func (c *Cache) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := incrementLua.Run(ctx, c.redis, []string{c.key(key)}, ttlMillis(ttl)).Int64()
	if err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("increment script failed")
		return 0, fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return count, nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = c.key(key)
	}
	if err := c.redis.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return nil
}

// Ping checks that the backend answers.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return nil
}

func ttlMillis(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	ms := ttl.Milliseconds()
	if ms == 0 {
		ms = 1
	}
	return ms
}
