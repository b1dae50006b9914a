package trustgate

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricSessionStarted)

	if got := m.Value(MetricSessionStarted); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("expected empty snapshot, got %v", snap.Counters)
	}
}

func TestMetricsNilIsSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricLogout)
	m.Observe(MetricHandleLatency, time.Millisecond)
	if m.Value(MetricLogout) != 0 || m.Enabled() {
		t.Fatalf("nil metrics must report nothing")
	}
}

func TestMetricsEnabledIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricSessionRotated)
	m.Inc(MetricSessionRotated)
	m.Inc(MetricSessionRotated)

	if got := m.Value(MetricSessionRotated); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricAdmissionAllowed)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricAdmissionAllowed); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		500 * time.Microsecond,
		2 * time.Millisecond,
		3 * time.Millisecond,
		10 * time.Millisecond,
		20 * time.Millisecond,
		50 * time.Millisecond,
		75 * time.Millisecond,
		250 * time.Millisecond,
	}

	for _, d := range observations {
		m.Observe(MetricHandleLatency, d)
	}

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricHandleLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}
	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
}

func TestMetricsObserveIgnoresCounters(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})
	m.Observe(MetricSessionStarted, time.Millisecond)

	snap := m.Snapshot()
	if _, ok := snap.Histograms[MetricSessionStarted]; ok {
		t.Fatalf("counter metric must not carry a histogram")
	}
}

func TestMetricNamesAreUnique(t *testing.T) {
	seen := map[string]MetricID{}
	for _, id := range MetricIDs() {
		name := id.String()
		if name == "" || name == "unknown" {
			t.Fatalf("metric %d has no name", id)
		}
		if prev, ok := seen[name]; ok {
			t.Fatalf("metric %d and %d share name %q", prev, id, name)
		}
		seen[name] = id
	}
}

func TestEngineMetricsFollowRequests(t *testing.T) {
	e := newMemoryEngine(t, nil, func(b *Builder) { b.WithLatencyHistograms(true) })
	ctx := context.Background()

	key, err := e.IssueAPIKey(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	grant := mustStart(t, e.Engine, "acct-1")

	if _, err := e.Handle(ctx, Request{APIKey: key, Cookie: grant.Encoded}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, err := e.Handle(ctx, Request{APIKey: "tg_unknown"}); err == nil {
		t.Fatalf("expected unknown key to fail")
	}

	snap := e.MetricsSnapshot()
	if snap.Counters[MetricSessionStarted] != 1 {
		t.Fatalf("expected 1 started session, got %d", snap.Counters[MetricSessionStarted])
	}
	if snap.Counters[MetricSessionAuthenticated] != 1 {
		t.Fatalf("expected 1 authentication, got %d", snap.Counters[MetricSessionAuthenticated])
	}
	if snap.Counters[MetricAdmissionAllowed] != 1 || snap.Counters[MetricAPIKeyInvalid] != 1 {
		t.Fatalf("unexpected admission counters: %v", snap.Counters)
	}

	var total uint64
	for _, v := range snap.Histograms[MetricHandleLatency] {
		total += v
	}
	if total != 2 {
		t.Fatalf("expected 2 latency observations, got %d", total)
	}
}

func BenchmarkMetricsInc(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Inc(MetricAdmissionAllowed)
		}
	})
}
