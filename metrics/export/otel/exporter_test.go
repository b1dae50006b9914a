package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/MrEthical07/trustgate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot trustgate.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() trustgate.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := trustgate.MetricsSnapshot{
		Counters:   make(map[trustgate.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[trustgate.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newReader()
	meter := provider.Meter("trustgate-test")

	src := &fakeSource{
		snapshot: trustgate.MetricsSnapshot{
			Counters: map[trustgate.MetricID]uint64{
				trustgate.MetricSessionRotated: 3,
			},
			Histograms: map[trustgate.MetricID][]uint64{
				trustgate.MetricHandleLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, exp.Close()) })

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	rotated, ok := findMetric(rm, "trustgate_session_rotated_total")
	require.True(t, ok, "rotated counter missing")
	sum, ok := rotated.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(3), sum.DataPoints[0].Value)
	assert.True(t, sum.IsMonotonic)

	buckets, ok := findMetric(rm, "trustgate_handle_latency_seconds_bucket")
	require.True(t, ok, "bucket gauge missing")
	gauge, ok := buckets.Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 8)

	byBound := map[string]int64{}
	for _, dp := range gauge.DataPoints {
		le, _ := dp.Attributes.Value(attribute.Key("le"))
		byBound[le.AsString()] = dp.Value
	}
	assert.Equal(t, int64(1), byBound["0.001"])
	assert.Equal(t, int64(7), byBound["0.1"])
	assert.Equal(t, int64(8), byBound["+Inf"])

	dropped, ok := findMetric(rm, "trustgate_audit_dropped_total")
	require.True(t, ok)
	assert.Equal(t, int64(1), dropped.Data.(metricdata.Sum[int64]).DataPoints[0].Value)
}

func TestExporterRejectsNilInputs(t *testing.T) {
	_, provider := newReader()

	_, err := NewOTelExporterFromSource(provider.Meter("trustgate-test"), nil)
	assert.ErrorIs(t, err, ErrNilSource)

	_, err = NewOTelExporterFromSource(nil, &fakeSource{})
	assert.ErrorIs(t, err, ErrNilMeter)
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newReader()
	meter := provider.Meter("trustgate-test")

	src := &fakeSource{
		snapshot: trustgate.MetricsSnapshot{
			Counters: map[trustgate.MetricID]uint64{
				trustgate.MetricAdmissionAllowed: 1,
			},
			Histograms: map[trustgate.MetricID][]uint64{
				trustgate.MetricHandleLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, exp.Close()) })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[trustgate.MetricAdmissionAllowed] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
