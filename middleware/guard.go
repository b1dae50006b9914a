package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/trustgate"
	"github.com/MrEthical07/trustgate/credential"
)

// RotatedKeyHeader carries a courtesy replacement API key on the response.
const RotatedKeyHeader = "X-API-Key-Rotated"

// ErrorHandler writes the response for a request the engine refused. Status
// is the code the default handler would use.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, status int, err error)

// Option configures Guard.
type Option func(*guard)

// WithAccountSubject supplies the account subject for counters configured
// with subject mode "account".
func WithAccountSubject(fn func(*http.Request) string) Option {
	return func(g *guard) {
		g.accountSubject = fn
	}
}

// WithErrorHandler replaces the plain-text error responses.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(g *guard) {
		if fn != nil {
			g.onError = fn
		}
	}
}

type guard struct {
	engine         *trustgate.Engine
	cookie         trustgate.CookieConfig
	keyHeader      string
	accountSubject func(*http.Request) string
	onError        ErrorHandler
}

// Guard runs Engine.Handle for every request. Admitted requests reach next
// with the *trustgate.Identity in their context; refused requests get 401,
// 409, 429 or 503.
func Guard(engine *trustgate.Engine, opts ...Option) func(http.Handler) http.Handler {
	g := &guard{
		engine:  engine,
		onError: defaultErrorHandler,
	}
	if engine != nil {
		cfg := engine.Config()
		g.cookie = cfg.Cookie
		g.keyHeader = cfg.APIKey.Header
	}
	for _, opt := range opts {
		opt(g)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g.engine == nil {
				g.onError(w, r, http.StatusServiceUnavailable, trustgate.ErrEngineNotReady)
				return
			}

			id, err := g.engine.Handle(r.Context(), g.request(r))
			if err != nil {
				g.fail(w, r, err)
				return
			}

			writeDecision(w.Header(), "X-Quota-", id.Quota)
			writeDecision(w.Header(), "X-RateLimit-", id.Rate)
			if id.Session != nil && id.Session.Rotated {
				http.SetCookie(w, g.cookie.HTTPCookie(id.Session.Encoded, id.Session.RefreshExpiresAt))
			}
			if id.RotatedAPIKey != "" {
				w.Header().Set(RotatedKeyHeader, string(id.RotatedAPIKey))
			}

			next.ServeHTTP(w, r.WithContext(trustgate.WithIdentity(r.Context(), id)))
		})
	}
}

func (g *guard) request(r *http.Request) trustgate.Request {
	req := trustgate.Request{
		APIKey: credential.APIKey(r.Header.Get(g.keyHeader)),
	}
	if c, err := r.Cookie(g.cookie.Name); err == nil {
		req.Cookie = c.Value
	}
	if g.accountSubject != nil {
		req.AccountSubject = g.accountSubject(r)
	}
	return req
}

func (g *guard) fail(w http.ResponseWriter, r *http.Request, err error) {
	if rej, ok := trustgate.AsRejection(err); ok {
		prefix := "X-RateLimit-"
		if rej.Kind == trustgate.RejectionQuota {
			prefix = "X-Quota-"
		}
		h := w.Header()
		h.Set(prefix+"Limit", strconv.FormatInt(rej.Limit, 10))
		h.Set(prefix+"Remaining", strconv.FormatInt(rej.Remaining, 10))
		h.Set(prefix+"Reset", strconv.FormatInt(rej.ResetAt.Unix(), 10))
		h.Set("Retry-After", retryAfterSeconds(rej.RetryAfter))
		g.onError(w, r, http.StatusTooManyRequests, err)
		return
	}

	switch {
	// Exhausted rotation retries wrap both ErrSessionNotFound and
	// ErrConcurrentRotation; the session is gone, so NotFound wins.
	case errors.Is(err, trustgate.ErrSessionNotFound), errors.Is(err, trustgate.ErrSessionTheftDetected):
		http.SetCookie(w, g.cookie.ClearHTTPCookie())
		g.onError(w, r, http.StatusUnauthorized, err)
	case errors.Is(err, trustgate.ErrConcurrentRotation):
		// A sibling request rotated the cookie; its response carries the
		// replacement, so the client's cookie must not be cleared here.
		g.onError(w, r, http.StatusConflict, err)
	case errors.Is(err, trustgate.ErrAPIKeyInvalid):
		g.onError(w, r, http.StatusUnauthorized, err)
	case errors.Is(err, trustgate.ErrStorageUnavailable), errors.Is(err, trustgate.ErrEngineNotReady):
		g.onError(w, r, http.StatusServiceUnavailable, err)
	default:
		g.onError(w, r, http.StatusInternalServerError, err)
	}
}

func writeDecision(h http.Header, prefix string, d *trustgate.Decision) {
	if d == nil {
		return
	}
	h.Set(prefix+"Limit", strconv.FormatInt(d.Limit, 10))
	h.Set(prefix+"Remaining", strconv.FormatInt(d.Remaining, 10))
	h.Set(prefix+"Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// retryAfterSeconds rounds up so a client never retries inside the window.
func retryAfterSeconds(d time.Duration) string {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, status int, _ error) {
	http.Error(w, http.StatusText(status), status)
}
