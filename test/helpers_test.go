//go:build integration
// +build integration

package test

import (
	"context"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/MrEthical07/trustgate"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const testSecret = "integration-secret-integration-00"

// cmdCounter is a go-redis Hook that counts Redis commands and remembers
// their names.
type cmdCounter struct {
	commands  atomic.Int64
	pipelines atomic.Int64

	mu    sync.Mutex
	names []string
}

func (h *cmdCounter) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *cmdCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.commands.Add(1)
		h.record(cmd)
		return next(ctx, cmd)
	}
}

func (h *cmdCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		h.pipelines.Add(1)
		h.commands.Add(int64(len(cmds)))
		for _, cmd := range cmds {
			h.record(cmd)
		}
		return next(ctx, cmds)
	}
}

func (h *cmdCounter) record(cmd redis.Cmder) {
	h.mu.Lock()
	h.names = append(h.names, strings.ToLower(cmd.Name()))
	h.mu.Unlock()
}

func (h *cmdCounter) Reset() {
	h.commands.Store(0)
	h.pipelines.Store(0)
	h.mu.Lock()
	h.names = nil
	h.mu.Unlock()
}

func (h *cmdCounter) Commands() int64 { return h.commands.Load() }

func (h *cmdCounter) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.names...)
}

// redisMode describes which Redis backend a suite runs against.
type redisMode struct {
	name  string
	setup func(t *testing.T) (redis.UniversalClient, func())
}

// redisModes always includes miniredis. A real standalone Redis is added
// when REDIS_ADDR is set (e.g. "127.0.0.1:6379").
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{{name: "miniredis", setup: newMiniredis}}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone:" + addr,
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				if err := rdb.Ping(context.Background()).Err(); err != nil {
					t.Skipf("redis at %s unreachable: %v", addr, err)
				}
				prefix := "tgit:" + strings.ReplaceAll(t.Name(), "/", ":")
				return rdb, func() {
					flushPrefix(rdb, prefix)
					_ = rdb.Close()
				}
			},
		})
	}
	return modes
}

func newMiniredis(t *testing.T) (redis.UniversalClient, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return rdb, func() {
		_ = rdb.Close()
		mr.Close()
	}
}

func flushPrefix(rdb redis.UniversalClient, prefix string) {
	ctx := context.Background()
	iter := rdb.Scan(ctx, 0, prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		_ = rdb.Del(ctx, iter.Val()).Err()
	}
}

// newEngine builds an engine over client. Keys live under a per-test prefix
// so runs against a shared Redis do not collide.
func newEngine(t *testing.T, client redis.UniversalClient, mutate func(*trustgate.Config)) *trustgate.Engine {
	t.Helper()

	cfg := trustgate.DefaultConfig()
	cfg.Cookie.Secret = testSecret
	cfg.Cache.Prefix = "tgit:" + strings.ReplaceAll(t.Name(), "/", ":")
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := trustgate.New().
		WithConfig(cfg).
		WithRedis(client).
		WithLogger(zerolog.Nop()).
		WithMetricsEnabled(true).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

// newCountedEngine returns an engine over miniredis with a cmdCounter
// installed. The connection is warmed with a PING and the counter reset, so
// callers only need to Reset before each measured operation.
func newCountedEngine(t *testing.T, mutate func(*trustgate.Config)) (*trustgate.Engine, *cmdCounter) {
	t.Helper()

	client, cleanup := newMiniredis(t)
	t.Cleanup(cleanup)

	counter := &cmdCounter{}
	client.AddHook(counter)
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("warmup ping: %v", err)
	}

	engine := newEngine(t, client, mutate)
	counter.Reset()
	return engine, counter
}
