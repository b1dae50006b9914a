package trustgate

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStorageUnavailable is returned when the cache backing sessions, keys or
	// a fail-closed counter cannot be reached.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrSessionNotFound is returned for absent, expired, mismatched or never-issued sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionTheftDetected is returned when a superseded refresh token is replayed.
	// The series has been revoked by the time the caller sees it.
	ErrSessionTheftDetected = errors.New("session theft detected")
	// ErrConcurrentRotation is returned when another request rotated the series first.
	ErrConcurrentRotation = errors.New("concurrent rotation")
	// ErrRateLimited is matched by rate denials.
	ErrRateLimited = errors.New("rate limited")
	// ErrQuotaExceeded is matched by quota denials.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrAPIKeyInvalid is returned for unknown, expired or missing API keys.
	ErrAPIKeyInvalid = errors.New("api key invalid")
	// ErrInvalidAccount is returned by StartSession for an empty account id.
	ErrInvalidAccount = errors.New("invalid account")
	// ErrEngineNotReady is returned by methods called on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// RejectionKind names the admission counter that denied a request.
type RejectionKind string

const (
	RejectionQuota RejectionKind = "quota"
	RejectionRate  RejectionKind = "rate"
)

// Rejection is the error returned for a rate or quota denial. It matches
// ErrRateLimited or ErrQuotaExceeded with errors.Is.
type Rejection struct {
	Kind       RejectionKind
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
	ResetAt    time.Time
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: limit %d, retry after %s", r.sentinel(), r.Limit, r.RetryAfter)
}

func (r *Rejection) sentinel() error {
	if r.Kind == RejectionQuota {
		return ErrQuotaExceeded
	}
	return ErrRateLimited
}

// Is reports whether target is the sentinel matching the rejection kind.
func (r *Rejection) Is(target error) bool {
	return target == r.sentinel()
}

// AsRejection extracts the *Rejection wrapped in err, if any.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
