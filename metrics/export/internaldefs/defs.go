package internaldefs

import (
	"github.com/MrEthical07/trustgate"
)

// Namespace prefixes every exported metric name.
const Namespace = "trustgate"

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   trustgate.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   trustgate.MetricID
	Name string
	Help string
}

var counterHelp = map[trustgate.MetricID]string{
	trustgate.MetricSessionStarted:       "Sessions started.",
	trustgate.MetricSessionAuthenticated: "Successful session authentications.",
	trustgate.MetricSessionExtended:      "Sliding session deadline extensions.",
	trustgate.MetricSessionRotated:       "Refresh token rotations.",
	trustgate.MetricSessionNotFound:      "Authentications rejected as session not found.",
	trustgate.MetricSessionTheftDetected: "Replays of superseded refresh tokens; each revoked its series.",
	trustgate.MetricConcurrentRotation:   "Authentications that lost a rotation race.",
	trustgate.MetricRotationRetried:      "Authentications that retried after a lost compare-and-swap.",
	trustgate.MetricRotationExhausted:    "Authentications that lost the rotation race on retry.",
	trustgate.MetricLogout:               "Logout operations.",
	trustgate.MetricAdmissionAllowed:     "Requests admitted by quota and rate.",
	trustgate.MetricRateLimited:          "Requests denied by the rate counter.",
	trustgate.MetricQuotaExceeded:        "Requests denied by the quota counter.",
	trustgate.MetricAdmissionDegraded:    "Counters that admitted a request without their backend.",
	trustgate.MetricAPIKeyInvalid:        "Requests with a missing, unknown or expired API key.",
	trustgate.MetricAPIKeyRotated:        "Courtesy API key rotations.",
	trustgate.MetricAPIKeyRotationFailed: "Courtesy API key rotations that failed.",
	trustgate.MetricStorageUnavailable:   "Requests rejected because the cache was unreachable.",
}

// CounterDefs lists every engine counter in MetricID order.
var CounterDefs = buildCounterDefs()

// HistogramDefs lists every engine histogram.
var HistogramDefs = []HistogramDef{
	{ID: trustgate.MetricHandleLatency, Name: Namespace + "_handle_latency_seconds", Help: "Handle latency histogram."},
}

// AuditDroppedName is the counter of audit events lost to backpressure.
const AuditDroppedName = Namespace + "_audit_dropped_total"

// AuditDroppedHelp describes AuditDroppedName.
const AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."

// HistogramBounds are the bucket upper bounds in seconds; the last is +Inf.
var HistogramBounds = []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1}

// HistogramBoundSuffix names each bucket, including the overflow bucket, for
// exporters without native histograms.
var HistogramBoundSuffix = []string{
	"0_001",
	"0_002",
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"inf",
}

func buildCounterDefs() []CounterDef {
	defs := make([]CounterDef, 0, len(counterHelp))
	for _, id := range trustgate.MetricIDs() {
		help, ok := counterHelp[id]
		if !ok {
			continue
		}
		defs = append(defs, CounterDef{ID: id, Name: Namespace + "_" + id.String(), Help: help})
	}
	return defs
}

// NormalizeBuckets copies raw into a fixed array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
