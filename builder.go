package trustgate

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/trustgate/cache"
	"github.com/MrEthical07/trustgate/cache/rediscache"
	"github.com/MrEthical07/trustgate/credential"
	internalaudit "github.com/MrEthical07/trustgate/internal/audit"
	"github.com/MrEthical07/trustgate/internal/flows"
	"github.com/MrEthical07/trustgate/internal/rate"
	"github.com/MrEthical07/trustgate/internal/stores"
	"github.com/MrEthical07/trustgate/session"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	sessionKeyspace = "sess"
	apiKeyKeyspace  = "ak"
	counterKeyspace = "adm"

	quotaScope = "q"
	rateScope  = "r"
)

// Builder defines a public type used by trustgate APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config

	redis        redis.UniversalClient
	cache        cache.Cache
	sessionStore session.Store
	logger       *zerolog.Logger
	auditSink    AuditSink
	onTheft      TheftHook
	now          func() time.Time

	built bool
}

// New describes the new operation and its observable behavior.
//
// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig replaces the whole configuration with a copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis describes the withredis operation and its observable behavior.
//
// WithRedis selects the Redis-backed cache. The client stays owned by the
// caller. Any redis.UniversalClient works: plain, cluster or sentinel.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCache uses c for all state instead of Redis. It takes precedence over
// WithRedis.
func (b *Builder) WithCache(c cache.Cache) *Builder {
	b.cache = c
	return b
}

// WithSessionStore replaces the cache-backed session store.
func (b *Builder) WithSessionStore(store session.Store) *Builder {
	b.sessionStore = store
	return b
}

// WithLogger sets the engine logger. Config.Logging is ignored when set.
func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = &logger
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink sets the audit destination. Events are only delivered when
// Config.Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithTheftHook registers a callback run after a series is revoked for theft.
func (b *Builder) WithTheftHook(hook TheftHook) *Builder {
	b.onTheft = hook
	return b
}

// WithClock overrides time.Now for every component of the engine.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms describes the withlatencyhistograms operation and its observable behavior.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build validates the configuration and wires the engine. A Builder can be
// built once. When neither WithCache nor WithRedis was called and
// Config.Redis.Addrs is set, Build dials Redis itself and the engine closes
// that client on Close.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	var logger zerolog.Logger
	if b.logger != nil {
		logger = *b.logger
	} else {
		logger = NewLogger(cfg.Logging, nil)
	}

	// -------- CACHE --------
	var owned redis.UniversalClient
	backend := b.cache
	if backend == nil {
		client := b.redis
		if client == nil {
			if len(cfg.Redis.Addrs) == 0 {
				return nil, errors.New("redis client or cache required")
			}
			dialed, err := rediscache.NewClient(context.Background(), cfg.Redis, logger)
			if err != nil {
				return nil, err
			}
			client, owned = dialed, dialed
		}
		backend = rediscache.New(client,
			rediscache.WithPrefix(cfg.Cache.Prefix),
			rediscache.WithLogger(logger),
		)
	}

	// -------- COOKIE CODEC --------
	cookies, err := credential.NewCookieCodec([]byte(cfg.Cookie.Secret), cfg.Cookie.Issuer)
	if err != nil {
		closeOwned(owned)
		return nil, err
	}

	// -------- STORES --------
	sessions := b.sessionStore
	if sessions == nil {
		sessions = session.NewCacheStore(backend, sessionKeyspace, now)
	}
	apiKeys := stores.NewAPIKeyStore(backend, apiKeyKeyspace, cfg.APIKey.Lifetime, now)
	counters := rate.New(backend, rate.WithPrefix(counterKeyspace), rate.WithClock(now))

	engine := &Engine{
		config:  cloneConfig(cfg),
		logger:  logger,
		now:     now,
		cookies: cookies,
		apiKeys: apiKeys,
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
			Priority:   []string{AuditEventSessionTheftDetected},
		}, b.auditSink),
		metrics:    NewMetrics(cfg.Metrics),
		onTheft:    b.onTheft,
		ownedRedis: owned,
	}

	engine.sessionDeps = flows.SessionDeps{
		Store:               sessions,
		Now:                 now,
		NewSessionID:        credential.NewSessionID,
		NewSeries:           credential.NewSeries,
		NewRefreshToken:     credential.NewRefreshToken,
		SessionLifetime:     cfg.Session.IdleLifetime,
		AbsoluteLifetime:    cfg.Session.AbsoluteLifetime,
		RefreshLifetime:     cfg.Session.RefreshLifetime,
		RotationThreshold:   cfg.Session.RotationThreshold,
		RotationGracePeriod: cfg.Session.RotationGracePeriod,
		SupersededHistory:   cfg.Session.SupersededHistory,
		ExtendGranularity:   cfg.Session.ExtendGranularity,
	}

	grace := cfg.APIKey.GraceOverlap
	engine.admissionDeps = flows.AdmissionDeps{
		Now:        now,
		Limiter:    counters,
		Quota:      counterDeps(quotaScope, cfg.Quota),
		Rate:       counterDeps(rateScope, cfg.Rate),
		ResolveKey: apiKeys.Resolve,
		RotateKey: func(ctx context.Context, rec *stores.APIKeyRecord) (credential.APIKey, error) {
			return apiKeys.Rotate(ctx, rec, grace)
		},
		RequireKnownKey:  cfg.APIKey.RequireKnownKey,
		RotationInterval: cfg.APIKey.RotationInterval,
	}

	for _, w := range cfg.Lint().BySeverity(LintWarn) {
		logger.Warn().Str("code", w.Code).Str("severity", w.Severity.String()).Msg(w.Message)
	}

	b.built = true

	return engine, nil
}

func counterDeps(scope string, c CounterConfig) flows.CounterDeps {
	deps := flows.CounterDeps{
		Enabled: c.Enabled,
		Window:  rate.Window{Scope: scope, Length: c.Window, Limit: c.Limit},
	}
	if c.Subject == SubjectAccount {
		deps.Subject = flows.SubjectAccount
	}
	if c.FailurePolicy == FailOpen {
		deps.Policy = flows.FailOpen
	}
	return deps
}

func closeOwned(client redis.UniversalClient) {
	if client != nil {
		_ = client.Close()
	}
}
