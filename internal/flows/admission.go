package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/trustgate/credential"
	"github.com/MrEthical07/trustgate/internal/rate"
	"github.com/MrEthical07/trustgate/internal/stores"
)

// AdmissionFailureKind classifies admission failures for root-level mapping.
type AdmissionFailureKind int

const (
	AdmissionFailureNone AdmissionFailureKind = iota
	AdmissionFailureKeyInvalid
	AdmissionFailureNoSubject
	AdmissionFailureQuotaExceeded
	AdmissionFailureRateLimited
	AdmissionFailureStorage
)

// FailurePolicy decides what a counter does when its backend is unreachable.
type FailurePolicy int

const (
	// FailClosed rejects the request.
	FailClosed FailurePolicy = iota
	// FailOpen admits the request and marks the decision degraded.
	FailOpen
)

// SubjectMode selects what a counter is keyed on.
type SubjectMode int

const (
	// SubjectAPIKey keys counters on the key's issuing context, so rotation
	// does not reset them. Unknown keys are keyed on the key itself.
	SubjectAPIKey SubjectMode = iota
	// SubjectAccount keys counters on the caller-supplied account subject.
	SubjectAccount
)

// AdmissionRequest carries the caller identity admission is keyed on.
type AdmissionRequest struct {
	APIKey  credential.APIKey
	Account string
}

// Degradation records one counter that admitted a request without its backend.
type Degradation struct {
	Scope string
	Err   error
}

// AdmissionResult carries both decisions or failure metadata.
type AdmissionResult struct {
	Failure AdmissionFailureKind
	Err     error

	Key   *stores.APIKeyRecord
	Quota *rate.Decision
	Rate  *rate.Decision

	Degraded []Degradation

	// RotatedKey is the courtesy replacement for the presented key, if one
	// was minted by this request.
	RotatedKey  credential.APIKey
	RotationErr error
}

// Limiter is the counter capability admission needs.
type Limiter interface {
	CheckAndIncrement(ctx context.Context, subject string, w rate.Window) (rate.Decision, error)
	Degraded(w rate.Window) rate.Decision
}

// CounterDeps configures one counter.
type CounterDeps struct {
	Enabled bool
	Window  rate.Window
	Subject SubjectMode
	Policy  FailurePolicy
}

// AdmissionDeps captures admission flow dependencies.
type AdmissionDeps struct {
	Now     func() time.Time
	Limiter Limiter
	Quota   CounterDeps
	Rate    CounterDeps

	ResolveKey func(context.Context, credential.APIKey) (*stores.APIKeyRecord, error)
	RotateKey  func(context.Context, *stores.APIKeyRecord) (credential.APIKey, error)

	RequireKnownKey  bool
	RotationInterval time.Duration
}

// RunAdmission resolves the API key, checks quota then rate, and performs the
// courtesy key rotation when the key is due. Rotation failures are reported in
// the result but never deny the request.
func RunAdmission(ctx context.Context, req AdmissionRequest, deps AdmissionDeps) AdmissionResult {
	var res AdmissionResult

	if req.APIKey != "" && deps.ResolveKey != nil {
		rec, err := deps.ResolveKey(ctx, req.APIKey)
		switch {
		case err == nil:
			res.Key = rec
		case errors.Is(err, stores.ErrAPIKeyNotFound):
			if deps.RequireKnownKey {
				res.Failure = AdmissionFailureKeyInvalid
				res.Err = err
				return res
			}
		default:
			// Without the key store the caller cannot be identified; this is
			// the same exposure as an unreachable quota counter.
			if deps.RequireKnownKey && deps.Quota.Policy == FailClosed {
				res.Failure = AdmissionFailureStorage
				res.Err = err
				return res
			}
			res.Degraded = append(res.Degraded, Degradation{Scope: "key", Err: err})
		}
	} else if req.APIKey == "" && deps.RequireKnownKey {
		res.Failure = AdmissionFailureKeyInvalid
		res.Err = stores.ErrAPIKeyNotFound
		return res
	}

	if deps.Quota.Enabled {
		d, kind, err := checkCounter(ctx, req, res.Key, deps.Quota, deps.Limiter, AdmissionFailureQuotaExceeded, &res)
		res.Quota = d
		if kind != AdmissionFailureNone {
			res.Failure = kind
			res.Err = err
			return res
		}
	}

	if deps.Rate.Enabled {
		d, kind, err := checkCounter(ctx, req, res.Key, deps.Rate, deps.Limiter, AdmissionFailureRateLimited, &res)
		res.Rate = d
		if kind != AdmissionFailureNone {
			res.Failure = kind
			res.Err = err
			return res
		}
	}

	refreshAPIKey(ctx, &res, deps)
	return res
}

func checkCounter(
	ctx context.Context,
	req AdmissionRequest,
	key *stores.APIKeyRecord,
	counter CounterDeps,
	limiter Limiter,
	deniedKind AdmissionFailureKind,
	res *AdmissionResult,
) (*rate.Decision, AdmissionFailureKind, error) {
	subject := admissionSubject(req, key, counter.Subject)
	if subject == "" {
		return nil, AdmissionFailureNoSubject, errors.New("no admission subject")
	}

	d, err := limiter.CheckAndIncrement(ctx, subject, counter.Window)
	switch {
	case err == nil:
		return &d, AdmissionFailureNone, nil
	case errors.Is(err, rate.ErrLimited):
		return &d, deniedKind, err
	case counter.Policy == FailOpen:
		degraded := limiter.Degraded(counter.Window)
		res.Degraded = append(res.Degraded, Degradation{Scope: counter.Window.Scope, Err: err})
		return &degraded, AdmissionFailureNone, nil
	default:
		return nil, AdmissionFailureStorage, err
	}
}

func admissionSubject(req AdmissionRequest, key *stores.APIKeyRecord, mode SubjectMode) string {
	switch mode {
	case SubjectAccount:
		if req.Account != "" {
			return "acct:" + req.Account
		}
	}
	if key != nil {
		return "issuer:" + key.Issuer
	}
	if req.APIKey != "" {
		return "key:" + credential.HashAPIKey(req.APIKey).String()
	}
	return ""
}

// refreshAPIKey rotates the presented key when it is the context's current
// key and older than the rotation interval.
func refreshAPIKey(ctx context.Context, res *AdmissionResult, deps AdmissionDeps) {
	if res.Key == nil || !res.Key.Current || deps.RotateKey == nil || deps.RotationInterval <= 0 {
		return
	}

	now := time.Now()
	if deps.Now != nil {
		now = deps.Now()
	}
	if now.Sub(res.Key.RefreshedAt()) < deps.RotationInterval {
		return
	}

	key, err := deps.RotateKey(ctx, res.Key)
	if err != nil {
		if !errors.Is(err, stores.ErrAPIKeyRotated) {
			res.RotationErr = err
		}
		return
	}
	res.RotatedKey = key
}
