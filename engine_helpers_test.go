package trustgate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/trustgate/cache/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const testCookieSecret = "0123456789abcdef0123456789abcdef"

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.Cookie.Secret = testCookieSecret
	cfg.Metrics.Enabled = true
	cfg.Rate.Limit = 5
	cfg.Quota.Limit = 1000
	return cfg
}

type memoryEngine struct {
	*Engine
	cache *memory.Cache
	clock *testClock
}

// newMemoryEngine builds an engine over the in-memory cache with a fake
// clock, so expiry can be driven by Advance.
func newMemoryEngine(t *testing.T, mutate func(*Config), extra ...func(*Builder)) *memoryEngine {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	clock := newTestClock()
	c := memory.New(memory.WithClock(clock.Now))
	b := New().
		WithConfig(cfg).
		WithCache(c).
		WithClock(clock.Now).
		WithLogger(zerolog.Nop())
	for _, fn := range extra {
		fn(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(engine.Close)

	return &memoryEngine{Engine: engine, cache: c, clock: clock}
}

// newRedisEngine builds an engine over miniredis through the Redis adapter.
func newRedisEngine(t *testing.T, mutate func(*Config)) (*Engine, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithLogger(zerolog.Nop()).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine, mr
}

func mustStart(t *testing.T, e *Engine, account string) *SessionGrant {
	t.Helper()
	grant, err := e.StartSession(context.Background(), account)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	return grant
}
