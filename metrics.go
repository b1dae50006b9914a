package trustgate

import (
	"sync/atomic"
	"time"
)

// MetricID defines a public type used by trustgate APIs.
//
// MetricID values index the fixed counter table held by [Metrics].
type MetricID uint16

const (
	// MetricSessionStarted counts successful StartSession calls.
	MetricSessionStarted MetricID = iota
	// MetricSessionAuthenticated counts successful Authenticate calls.
	MetricSessionAuthenticated
	// MetricSessionExtended counts sliding-deadline writes.
	MetricSessionExtended
	// MetricSessionRotated counts refresh token rotations.
	MetricSessionRotated
	// MetricSessionNotFound counts authentications rejected as not found.
	MetricSessionNotFound
	// MetricSessionTheftDetected counts confirmed replays of superseded refresh tokens.
	MetricSessionTheftDetected
	// MetricConcurrentRotation counts lost compare-and-swap attempts.
	MetricConcurrentRotation
	// MetricRotationRetried counts authentications that needed their one retry.
	MetricRotationRetried
	// MetricRotationExhausted counts authentications that lost the race twice.
	MetricRotationExhausted
	// MetricLogout counts successful Logout calls.
	MetricLogout
	// MetricAdmissionAllowed counts requests admitted by quota and rate.
	MetricAdmissionAllowed
	// MetricRateLimited counts rate denials.
	MetricRateLimited
	// MetricQuotaExceeded counts quota denials.
	MetricQuotaExceeded
	// MetricAdmissionDegraded counts counters that admitted a request without their backend.
	MetricAdmissionDegraded
	// MetricAPIKeyInvalid counts unknown, expired or missing API keys.
	MetricAPIKeyInvalid
	// MetricAPIKeyRotated counts courtesy API key rotations.
	MetricAPIKeyRotated
	// MetricAPIKeyRotationFailed counts courtesy rotations that errored.
	MetricAPIKeyRotationFailed
	// MetricStorageUnavailable counts requests rejected because the cache was unreachable.
	MetricStorageUnavailable
	// MetricHandleLatency is the latency histogram of Handle.
	MetricHandleLatency
	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricSessionStarted:       "session_started_total",
	MetricSessionAuthenticated: "session_authenticated_total",
	MetricSessionExtended:      "session_extended_total",
	MetricSessionRotated:       "session_rotated_total",
	MetricSessionNotFound:      "session_not_found_total",
	MetricSessionTheftDetected: "session_theft_detected_total",
	MetricConcurrentRotation:   "session_concurrent_rotation_total",
	MetricRotationRetried:      "session_rotation_retried_total",
	MetricRotationExhausted:    "session_rotation_exhausted_total",
	MetricLogout:               "session_logout_total",
	MetricAdmissionAllowed:     "admission_allowed_total",
	MetricRateLimited:          "admission_rate_limited_total",
	MetricQuotaExceeded:        "admission_quota_exceeded_total",
	MetricAdmissionDegraded:    "admission_degraded_total",
	MetricAPIKeyInvalid:        "api_key_invalid_total",
	MetricAPIKeyRotated:        "api_key_rotated_total",
	MetricAPIKeyRotationFailed: "api_key_rotation_failed_total",
	MetricStorageUnavailable:   "storage_unavailable_total",
	MetricHandleLatency:        "handle_latency",
}

// String returns the exporter name of the metric without namespace.
func (id MetricID) String() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

// MetricIDs returns every defined metric in declaration order.
func MetricIDs() []MetricID {
	ids := make([]MetricID, 0, metricIDCount)
	for id := MetricID(0); id < metricIDCount; id++ {
		ids = append(ids, id)
	}
	return ids
}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

// HistogramBounds are the inclusive upper bounds of the latency buckets. The
// last bucket is unbounded.
var HistogramBounds = [histBucketCount - 1]time.Duration{
	time.Millisecond,
	2 * time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
}

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics defines a public type used by trustgate APIs.
//
// Counters are lock-free and padded to a cache line each. A nil or disabled
// Metrics ignores every call.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics describes the newmetrics operation and its observable behavior.
//
// NewMetrics does not mutate shared global state and can be used concurrently.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether latency histograms are recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc describes the inc operation and its observable behavior.
//
// Inc is safe for concurrent use and never blocks.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram of id. Only MetricHandleLatency carries
// a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricHandleLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current count of id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot describes the snapshot operation and its observable behavior.
//
// Snapshot reads each counter atomically; the snapshot as a whole is not a
// consistent cut across counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricHandleLatency].buckets[i])
		}
		s.Histograms[MetricHandleLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	for i, bound := range HistogramBounds {
		if d <= bound {
			return i
		}
	}
	return histBucketCount - 1
}
