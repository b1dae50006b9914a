package trustgate

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/trustgate/cache/rediscache"
	"github.com/MrEthical07/trustgate/credential"
	"github.com/rs/zerolog"
)

// Config defines a public type used by trustgate APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Session SessionConfig          `mapstructure:"session"`
	Cookie  CookieConfig           `mapstructure:"cookie"`
	Rate    CounterConfig          `mapstructure:"rate"`
	Quota   CounterConfig          `mapstructure:"quota"`
	APIKey  APIKeyConfig           `mapstructure:"api_key"`
	Cache   CacheConfig            `mapstructure:"cache"`
	Redis   rediscache.ClientConfig `mapstructure:"redis"`
	Audit   AuditConfig            `mapstructure:"audit"`
	Metrics MetricsConfig          `mapstructure:"metrics"`
	Logging LoggingConfig          `mapstructure:"logging"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the session and refresh pair clocks.
//
// IdleLifetime slides on every authenticated request and is capped by
// AbsoluteLifetime measured from login. The refresh pair has its own clock:
// once it is within RotationThreshold of RefreshLifetime, the next request
// rotates it.
type SessionConfig struct {
	IdleLifetime      time.Duration `mapstructure:"idle_lifetime"`
	AbsoluteLifetime  time.Duration `mapstructure:"absolute_lifetime"`
	RefreshLifetime   time.Duration `mapstructure:"refresh_lifetime"`
	RotationThreshold time.Duration `mapstructure:"rotation_threshold"`
	// RotationGracePeriod is opt-in. Within it, the token replaced by the
	// latest rotation is refused with ErrConcurrentRotation instead of being
	// treated as theft, covering requests that were in flight when the cookie
	// was rewritten. It never authenticates. Zero disables it.
	RotationGracePeriod time.Duration `mapstructure:"rotation_grace_period"`
	SupersededHistory   int           `mapstructure:"superseded_history"`
	// ExtendGranularity is the smallest sliding advance that is written back.
	ExtendGranularity time.Duration `mapstructure:"extend_granularity"`
}

// CookieConfig controls how the session cookie is signed and presented.
type CookieConfig struct {
	Name     string `mapstructure:"name"`
	Secret   string `mapstructure:"secret"`
	Issuer   string `mapstructure:"issuer"`
	Path     string `mapstructure:"path"`
	Domain   string `mapstructure:"domain"`
	Secure   bool   `mapstructure:"secure"`
	HTTPOnly bool   `mapstructure:"http_only"`
	SameSite string `mapstructure:"same_site"`
}

// SameSiteMode maps SameSite to its net/http value.
func (c CookieConfig) SameSiteMode() http.SameSite {
	switch strings.ToLower(c.SameSite) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	case "strict":
		return http.SameSiteStrictMode
	default:
		return http.SameSiteDefaultMode
	}
}

// HTTPCookie builds the session cookie carrying value. A zero expires yields a
// browser-session cookie.
func (c CookieConfig) HTTPCookie(value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    value,
		Path:     c.Path,
		Domain:   c.Domain,
		Expires:  expires,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
		SameSite: c.SameSiteMode(),
	}
}

// ClearHTTPCookie builds a cookie that deletes the session cookie.
func (c CookieConfig) ClearHTTPCookie() *http.Cookie {
	cookie := c.HTTPCookie("", time.Unix(0, 0))
	cookie.MaxAge = -1
	return cookie
}

/*
====================================
ADMISSION CONFIG
====================================
*/

// FailurePolicy selects the behavior of a counter whose backend is unreachable.
type FailurePolicy string

const (
	// FailOpen admits the request, logs a warning and marks the decision degraded.
	FailOpen FailurePolicy = "open"
	// FailClosed rejects the request with ErrStorageUnavailable.
	FailClosed FailurePolicy = "closed"
)

// SubjectMode selects what a counter is keyed on.
type SubjectMode string

const (
	// SubjectAPIKey keys the counter on the issuing context of the presented
	// API key, so courtesy rotation does not reset it.
	SubjectAPIKey SubjectMode = "api_key"
	// SubjectAccount keys the counter on Request.AccountSubject.
	SubjectAccount SubjectMode = "account"
)

// CounterConfig configures one fixed-window counter (rate or quota).
type CounterConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Window        time.Duration `mapstructure:"window"`
	Limit         int64         `mapstructure:"limit"`
	Subject       SubjectMode   `mapstructure:"subject"`
	FailurePolicy FailurePolicy `mapstructure:"failure_policy"`
}

// APIKeyConfig controls API key lookup and courtesy rotation.
type APIKeyConfig struct {
	Header          string        `mapstructure:"header"`
	RequireKnownKey bool          `mapstructure:"require_known_key"`
	Lifetime        time.Duration `mapstructure:"lifetime"`
	// RotationInterval is the key age after which an admitted request mints
	// a replacement. Zero disables courtesy rotation.
	RotationInterval time.Duration `mapstructure:"rotation_interval"`
	// GraceOverlap is how long a rotated-away key keeps working.
	GraceOverlap time.Duration `mapstructure:"grace_overlap"`
}

/*
====================================
INFRASTRUCTURE CONFIG
====================================
*/

// CacheConfig defines a public type used by trustgate APIs.
type CacheConfig struct {
	Prefix string `mapstructure:"prefix"`
}

// AuditConfig defines a public type used by trustgate APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
	DropIfFull bool `mapstructure:"drop_if_full"`
}

// MetricsConfig defines a public type used by trustgate APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool `mapstructure:"enabled"`
	EnableLatencyHistograms bool `mapstructure:"enable_latency_histograms"`
}

// LoggingConfig configures the default logger. It is ignored when the caller
// supplies a logger through Builder.WithLogger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		Session: SessionConfig{
			IdleLifetime:        30 * time.Minute,
			AbsoluteLifetime:    24 * time.Hour,
			RefreshLifetime:     4 * time.Hour,
			RotationThreshold:   time.Hour,
			RotationGracePeriod: 0,
			SupersededHistory:   8,
			ExtendGranularity:   time.Second,
		},
		Cookie: CookieConfig{
			Name:     "tg_session",
			Issuer:   "trustgate",
			Path:     "/",
			Secure:   true,
			HTTPOnly: true,
			SameSite: "lax",
		},
		Quota: CounterConfig{
			Enabled:       true,
			Window:        24 * time.Hour,
			Limit:         10000,
			Subject:       SubjectAPIKey,
			FailurePolicy: FailClosed,
		},
		Rate: CounterConfig{
			Enabled:       true,
			Window:        time.Minute,
			Limit:         60,
			Subject:       SubjectAPIKey,
			FailurePolicy: FailOpen,
		},
		APIKey: APIKeyConfig{
			Header:           "X-API-Key",
			RequireKnownKey:  true,
			Lifetime:         90 * 24 * time.Hour,
			RotationInterval: 30 * 24 * time.Hour,
			GraceOverlap:     10 * time.Minute,
		},
		Cache: CacheConfig{
			Prefix: "tg",
		},
		Redis: rediscache.ClientConfig{
			PoolSize:             10,
			DialTimeout:          5 * time.Second,
			ReadTimeout:          3 * time.Second,
			WriteTimeout:         3 * time.Second,
			SlowCommandThreshold: 50 * time.Millisecond,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// DefaultConfig returns the defaults every Builder starts from. The cookie
// secret is empty and must be set before Build.
func DefaultConfig() Config {
	return defaultConfig()
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Redis.Addrs = append([]string(nil), cfg.Redis.Addrs...)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate returns the first configuration error found. It does not mutate the
// receiver.
func (c *Config) Validate() error {
	s := c.Session
	if s.IdleLifetime <= 0 {
		return errors.New("Session IdleLifetime must be > 0")
	}
	if s.AbsoluteLifetime < s.IdleLifetime {
		return errors.New("Session AbsoluteLifetime must be >= IdleLifetime")
	}
	if s.RefreshLifetime <= 0 {
		return errors.New("Session RefreshLifetime must be > 0")
	}
	if s.RotationThreshold <= 0 || s.RotationThreshold > s.RefreshLifetime {
		return errors.New("Session RotationThreshold must be in (0, RefreshLifetime]")
	}
	if s.RotationGracePeriod < 0 {
		return errors.New("Session RotationGracePeriod must be >= 0")
	}
	if s.SupersededHistory < 1 || s.SupersededHistory > 255 {
		return errors.New("Session SupersededHistory must be in [1, 255]")
	}
	if s.ExtendGranularity < 0 {
		return errors.New("Session ExtendGranularity must be >= 0")
	}

	if c.Cookie.Name == "" {
		return errors.New("Cookie Name must be set")
	}
	if len(c.Cookie.Secret) < credential.MinSecretSize {
		return fmt.Errorf("Cookie Secret must be at least %d bytes", credential.MinSecretSize)
	}
	switch strings.ToLower(c.Cookie.SameSite) {
	case "", "lax", "strict", "none":
	default:
		return errors.New("Cookie SameSite must be one of lax, strict, none")
	}
	if strings.EqualFold(c.Cookie.SameSite, "none") && !c.Cookie.Secure {
		return errors.New("Cookie SameSite=none requires Secure")
	}

	if err := c.Quota.validate("Quota"); err != nil {
		return err
	}
	if err := c.Rate.validate("Rate"); err != nil {
		return err
	}

	if c.APIKey.Header == "" {
		return errors.New("APIKey Header must be set")
	}
	if c.APIKey.Lifetime <= 0 {
		return errors.New("APIKey Lifetime must be > 0")
	}
	if c.APIKey.RotationInterval < 0 || c.APIKey.GraceOverlap < 0 {
		return errors.New("APIKey RotationInterval and GraceOverlap must be >= 0")
	}
	if c.APIKey.RotationInterval > 0 && c.APIKey.RotationInterval >= c.APIKey.Lifetime {
		return errors.New("APIKey RotationInterval must be < Lifetime")
	}

	if c.Cache.Prefix == "" {
		return errors.New("Cache Prefix must be set")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Logging.Level)); err != nil {
		return fmt.Errorf("Logging Level: %v", err)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return errors.New("Logging Format must be json or console")
	}

	return nil
}

func (c CounterConfig) validate(name string) error {
	if !c.Enabled {
		return nil
	}
	if c.Window <= 0 || c.Window%time.Millisecond != 0 {
		return fmt.Errorf("%s Window must be a positive whole number of milliseconds", name)
	}
	if c.Limit <= 0 {
		return fmt.Errorf("%s Limit must be > 0", name)
	}
	switch c.Subject {
	case SubjectAPIKey, SubjectAccount:
	default:
		return fmt.Errorf("%s Subject must be api_key or account", name)
	}
	switch c.FailurePolicy {
	case FailOpen, FailClosed:
	default:
		return fmt.Errorf("%s FailurePolicy must be open or closed", name)
	}
	return nil
}
