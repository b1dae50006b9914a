package trustgate

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/trustgate/credential"
	"github.com/MrEthical07/trustgate/internal/flows"
	"github.com/MrEthical07/trustgate/internal/rate"
	"github.com/MrEthical07/trustgate/internal/stores"
)

// Handle describes the handle operation and its observable behavior.
//
// Handle runs the per-request pipeline: admission (quota, then rate) keyed on
// the API key or account subject, then session authentication when a cookie
// is presented. Counters consumed by admission stay consumed when the session
// step fails.
//
// Errors: ErrAPIKeyInvalid; *Rejection matching ErrQuotaExceeded or
// ErrRateLimited; any error of AuthenticateEncoded; ErrStorageUnavailable.
func (e *Engine) Handle(ctx context.Context, req Request) (*Identity, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	if e.metrics.LatencyEnabled() {
		start := e.clock()
		defer func() { e.metrics.Observe(MetricHandleLatency, e.clock().Sub(start)) }()
	}

	id, err := e.Admit(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.Cookie == "" {
		return id, nil
	}

	sess, err := e.AuthenticateEncoded(ctx, req.Cookie)
	if err != nil {
		return nil, err
	}
	id.AccountID = sess.AccountID
	id.SessionID = sess.SessionID
	id.Series = sess.Series
	id.Session = sess
	return id, nil
}

// Admit describes the admit operation and its observable behavior.
//
// Admit runs only the admission step of Handle. When the presented API key is
// older than the rotation interval, a replacement is minted and returned in
// Identity.RotatedAPIKey; rotation failures are logged and never deny.
func (e *Engine) Admit(ctx context.Context, req Request) (*Identity, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res := flows.RunAdmission(ctx, flows.AdmissionRequest{
		APIKey:  req.APIKey,
		Account: req.AccountSubject,
	}, e.admissionDeps)

	for _, d := range res.Degraded {
		e.metricInc(MetricAdmissionDegraded)
		e.warn(ctx).
			Str("scope", d.Scope).
			Err(d.Err).
			Msg("admission backend unavailable, failing open")
		e.emitAdmissionAudit(ctx, AuditEventAdmissionDegraded, true, res, d.Err, map[string]string{"scope": d.Scope})
	}

	if res.Failure != flows.AdmissionFailureNone {
		return nil, e.admissionFailure(ctx, res)
	}

	e.metricInc(MetricAdmissionAllowed)

	id := &Identity{
		Quota:         res.Quota,
		Rate:          res.Rate,
		RotatedAPIKey: res.RotatedKey,
	}
	if res.Key != nil {
		id.APIKeyIssuer = res.Key.Issuer
	}

	switch {
	case res.RotatedKey != "":
		e.metricInc(MetricAPIKeyRotated)
		e.logger.Info().Ctx(ctx).Str("issuer", id.APIKeyIssuer).Msg("api key rotated")
		e.emitAdmissionAudit(ctx, AuditEventAPIKeyRotated, true, res, nil, nil)
	case res.RotationErr != nil:
		e.metricInc(MetricAPIKeyRotationFailed)
		e.warn(ctx).Str("issuer", id.APIKeyIssuer).Err(res.RotationErr).Msg("api key rotation failed")
	}

	return id, nil
}

func (e *Engine) admissionFailure(ctx context.Context, res flows.AdmissionResult) error {
	switch res.Failure {
	case flows.AdmissionFailureKeyInvalid, flows.AdmissionFailureNoSubject:
		e.metricInc(MetricAPIKeyInvalid)
		return ErrAPIKeyInvalid

	case flows.AdmissionFailureQuotaExceeded:
		e.metricInc(MetricQuotaExceeded)
		e.emitAdmissionAudit(ctx, AuditEventQuotaExceeded, false, res, ErrQuotaExceeded, nil)
		return rejection(RejectionQuota, res.Quota)

	case flows.AdmissionFailureRateLimited:
		e.metricInc(MetricRateLimited)
		e.emitAdmissionAudit(ctx, AuditEventRateLimited, false, res, ErrRateLimited, nil)
		return rejection(RejectionRate, res.Rate)

	default:
		e.metricInc(MetricStorageUnavailable)
		e.logger.Error().Ctx(ctx).Err(res.Err).Msg("admission storage unavailable")
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, res.Err)
	}
}

func rejection(kind RejectionKind, d *rate.Decision) *Rejection {
	r := &Rejection{Kind: kind}
	if d != nil {
		r.Limit = d.Limit
		r.Remaining = d.Remaining
		r.RetryAfter = d.RetryAfter
		r.ResetAt = d.ResetAt
	}
	return r
}

// IssueAPIKey describes the issueapikey operation and its observable behavior.
//
// IssueAPIKey mints a key for issuer and makes it the issuer's only active
// key; a previously issued key stops resolving immediately. The plaintext key
// is returned once and never stored.
func (e *Engine) IssueAPIKey(ctx context.Context, issuer string) (credential.APIKey, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	if issuer == "" {
		return "", ErrInvalidAccount
	}

	key, rec, err := e.apiKeys.Issue(ctx, issuer)
	if err != nil {
		e.metricInc(MetricStorageUnavailable)
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	e.emitAudit(ctx, func(ev *AuditEvent) {
		ev.EventType = AuditEventAPIKeyIssued
		ev.Success = true
		ev.Subject = credential.SubjectDigest(rec.Issuer)
	})
	return key, nil
}

// APIKeyInfo describes a resolved API key.
type APIKeyInfo struct {
	Issuer    string
	IssuedAt  int64
	ExpiresAt int64
	// Current is false while a rotated-away key runs out its grace overlap.
	Current bool
}

// ResolveAPIKey returns the metadata of an active key, or ErrAPIKeyInvalid.
func (e *Engine) ResolveAPIKey(ctx context.Context, key credential.APIKey) (*APIKeyInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	rec, err := e.apiKeys.Resolve(ctx, key)
	if err != nil {
		if errors.Is(err, stores.ErrAPIKeyNotFound) {
			return nil, ErrAPIKeyInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return &APIKeyInfo{
		Issuer:    rec.Issuer,
		IssuedAt:  rec.IssuedAt,
		ExpiresAt: rec.ExpiresAt,
		Current:   rec.Current,
	}, nil
}
