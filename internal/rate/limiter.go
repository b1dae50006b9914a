package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/trustgate/cache"
	"github.com/MrEthical07/trustgate/credential"
)

// Window describes one counter: its scope, length and allowance.
type Window struct {
	Scope  string
	Length time.Duration
	Limit  int64
}

// Decision is the outcome of one CheckAndIncrement call.
type Decision struct {
	Scope     string
	Allowed   bool
	Limit     int64
	Count     int64
	Remaining int64
	// RetryAfter is the time until the current window closes. It is always
	// positive for a real decision.
	RetryAfter time.Duration
	ResetAt    time.Time
	// Degraded marks a decision made without the backend under a fail-open
	// policy.
	Degraded bool
}

// Counter enforces fixed-window limits with one atomic increment per check.
type Counter struct {
	cache  cache.Cache
	prefix string
	now    func() time.Time
}

// Option configures a Counter.
type Option func(*Counter)

// WithPrefix sets the key prefix. Defaults to "adm".
func WithPrefix(prefix string) Option {
	return func(c *Counter) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Counter) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a [Counter] over the given cache.
func New(c cache.Cache, opts ...Option) *Counter {
	counter := &Counter{
		cache:  c,
		prefix: "adm",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(counter)
	}
	return counter
}

// CheckAndIncrement counts one hit for subject in the current window of w and
// reports whether it fits within w.Limit. Denied hits still count.
func (c *Counter) CheckAndIncrement(ctx context.Context, subject string, w Window) (Decision, error) {
	if w.Length <= 0 || w.Limit <= 0 {
		return Decision{}, fmt.Errorf("invalid window %q: length %s limit %d", w.Scope, w.Length, w.Limit)
	}

	now := c.now()
	start, end := Bounds(now, w.Length)

	d := Decision{
		Scope:      w.Scope,
		Limit:      w.Limit,
		RetryAfter: end.Sub(now),
		ResetAt:    end,
	}

	count, err := c.cache.Increment(ctx, c.key(w.Scope, subject, start), w.Length)
	if err != nil {
		return d, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	d.Count = count
	d.Remaining = max(0, w.Limit-count)
	d.Allowed = count <= w.Limit
	if !d.Allowed {
		return d, ErrLimited
	}
	return d, nil
}

// Degraded returns the decision used when the backend cannot be reached and
// the policy lets the request through.
func (c *Counter) Degraded(w Window) Decision {
	now := c.now()
	_, end := Bounds(now, w.Length)
	return Decision{
		Scope:      w.Scope,
		Allowed:    true,
		Limit:      w.Limit,
		Remaining:  w.Limit,
		RetryAfter: end.Sub(now),
		ResetAt:    end,
		Degraded:   true,
	}
}

func (c *Counter) key(scope, subject string, start time.Time) string {
	return c.prefix + ":" + scope + ":" + credential.SubjectDigest(subject) + ":" + strconv.FormatInt(start.Unix(), 10)
}

// Bounds returns the epoch-aligned window containing now.
func Bounds(now time.Time, length time.Duration) (start, end time.Time) {
	ms := now.UnixMilli()
	size := length.Milliseconds()
	if size <= 0 {
		size = 1
	}
	startMs := ms - ms%size
	return time.UnixMilli(startMs), time.UnixMilli(startMs + size)
}
