package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/trustgate"
	"github.com/MrEthical07/trustgate/credential"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// sessionState holds the latest cookie of one seeded session. Workers holding
// mu present it and store the replacement when the engine rotates.
type sessionState struct {
	mu     sync.Mutex
	cookie credential.Cookie
}

func main() {
	var (
		sessions    = flag.Int("sessions", 10000, "number of sessions to seed")
		tenants     = flag.Int("tenants", 64, "number of API key issuers")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		configPath  = flag.String("config", "", "optional trustgate config file")
	)
	flag.Parse()

	if *sessions <= 0 || *tenants <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, tenants, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	engine, err := buildEngine(*configPath, client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	keys := make([]credential.APIKey, *tenants)
	for i := range keys {
		key, err := engine.IssueAPIKey(ctx, fmt.Sprintf("tenant-%d", i))
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue api key: %v\n", err)
			os.Exit(1)
		}
		keys[i] = key
	}

	states := make([]sessionState, *sessions)
	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	for i := range states {
		grant, err := engine.StartSession(ctx, fmt.Sprintf("acct-%d", i))
		if err != nil {
			fmt.Fprintf(os.Stderr, "start session failed: %v\n", err)
			os.Exit(1)
		}
		states[i].cookie = grant.Cookie
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	admitStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		_, err := engine.Admit(ctx, trustgate.Request{APIKey: keys[r.Intn(len(keys))]})
		return err
	})

	authStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		state := &states[r.Intn(len(states))]
		state.mu.Lock()
		defer state.mu.Unlock()
		sess, err := engine.Authenticate(ctx, state.cookie)
		if err == nil && sess.Rotated {
			state.cookie = *sess.Cookie
		}
		return err
	})

	rotateStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		state := &states[r.Intn(len(states))]
		state.mu.Lock()
		defer state.mu.Unlock()
		sess, err := engine.RotateSeries(ctx, state.cookie)
		if err == nil {
			state.cookie = *sess.Cookie
		}
		return err
	})

	fmt.Println("---- results ----")
	printStats("admit", admitStats)
	printStats("authenticate", authStats)
	printStats("rotate", rotateStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("rate_limited=%d quota_exceeded=%d theft=%d concurrent_rotation=%d\n",
		snap.Counters[trustgate.MetricRateLimited],
		snap.Counters[trustgate.MetricQuotaExceeded],
		snap.Counters[trustgate.MetricSessionTheftDetected],
		snap.Counters[trustgate.MetricConcurrentRotation],
	)
}

func buildEngine(path string, client redis.UniversalClient) (*trustgate.Engine, error) {
	var (
		cfg trustgate.Config
		err error
	)
	if path != "" {
		cfg, err = trustgate.LoadConfig(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = trustgate.DefaultConfig()
		cfg.Cookie.Secret = "loadtest-secret-loadtest-secret-0"
		// Counters are exercised, not enforced.
		cfg.Rate.Limit = 1 << 40
		cfg.Quota.Limit = 1 << 40
	}

	return trustgate.New().
		WithConfig(cfg).
		WithRedis(client).
		WithLogger(zerolog.New(os.Stderr).Level(zerolog.WarnLevel)).
		WithMetricsEnabled(true).
		Build()
}

func runPhase(ops, concurrency int, op func(*rand.Rand) error) phaseStats {
	var (
		g         errgroup.Group
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		worker := w
		g.Go(func() error {
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			local := make([]time.Duration, 0, ops/concurrency+1)
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					break
				}
				t0 := time.Now()
				if err := op(r); err != nil {
					atomic.AddInt64(&failures, 1)
				}
				local = append(local, time.Since(t0))
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
