package trustgate

import (
	"context"
	"time"

	"github.com/MrEthical07/trustgate/credential"
	internalaudit "github.com/MrEthical07/trustgate/internal/audit"
	"github.com/MrEthical07/trustgate/internal/flows"
	"github.com/MrEthical07/trustgate/internal/stores"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Engine defines a public type used by trustgate APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
// All methods are safe for concurrent use; coordination between processes
// happens through the cache only.
type Engine struct {
	config  Config
	logger  zerolog.Logger
	now     func() time.Time
	cookies *credential.CookieCodec

	apiKeys *stores.APIKeyStore

	audit   *internalaudit.Dispatcher
	metrics *Metrics
	onTheft TheftHook

	sessionDeps   flows.SessionDeps
	admissionDeps flows.AdmissionDeps

	// ownedRedis is set when Build dialed Redis from Config.Redis.
	ownedRedis redis.UniversalClient
}

// Config returns a copy of the configuration the engine was built with.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

// Close describes the close operation and its observable behavior.
//
// Close drains pending audit events and closes a Redis client dialed by
// Build. Caches and clients passed to the Builder remain owned by the caller.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	closeOwned(e.ownedRedis)
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped returns the number of audit events discarded because the buffer
// was full, plus theft events whose caller context ended before queueing.
// Theft events are never dropped for a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped() + e.audit.Abandoned()
}

// Metrics returns the engine's counter table for exporters.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot does not mutate shared global state and can be used concurrently.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// EncodeCookie signs cookie for the client.
func (e *Engine) EncodeCookie(cookie credential.Cookie) (string, error) {
	if e == nil || e.cookies == nil {
		return "", ErrEngineNotReady
	}
	return e.cookies.Encode(cookie)
}

// DecodeCookie verifies a client cookie value. Any failure is reported as
// ErrSessionNotFound so callers cannot distinguish forged from stale cookies.
func (e *Engine) DecodeCookie(raw string) (credential.Cookie, error) {
	if e == nil || e.cookies == nil {
		return credential.Cookie{}, ErrEngineNotReady
	}
	c, err := e.cookies.Decode(raw)
	if err != nil {
		return credential.Cookie{}, ErrSessionNotFound
	}
	return c, nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) clock() time.Time {
	if e.now == nil {
		return time.Now()
	}
	return e.now()
}

func (e *Engine) ready() bool {
	return e != nil && e.sessionDeps.Store != nil && e.admissionDeps.Limiter != nil
}

func (e *Engine) warn(ctx context.Context) *zerolog.Event {
	return e.logger.Warn().Ctx(ctx)
}
