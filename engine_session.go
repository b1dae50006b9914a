package trustgate

import (
	"context"
	"fmt"

	"github.com/MrEthical07/trustgate/credential"
	"github.com/MrEthical07/trustgate/internal/flows"
	"github.com/MrEthical07/trustgate/session"
)

// StartSession describes the startsession operation and its observable behavior.
//
// StartSession mints a new series, session id and refresh token for accountID
// and persists them. The returned grant carries the encoded cookie. It fails
// with ErrInvalidAccount for an empty account id and ErrStorageUnavailable when
// the session cannot be written.
func (e *Engine) StartSession(ctx context.Context, accountID string) (*SessionGrant, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res := flows.RunStartSession(ctx, accountID, e.sessionDeps)
	if res.Failure != flows.SessionFailureNone {
		return nil, e.sessionFailure(ctx, "start", res)
	}

	encoded, err := e.cookies.Encode(*res.Cookie)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	e.metricInc(MetricSessionStarted)
	e.emitSessionAudit(ctx, AuditEventSessionStarted, true, res.Record, nil)

	return &SessionGrant{
		Cookie:           *res.Cookie,
		Encoded:          encoded,
		SessionExpiresAt: res.Record.SessionExpiration().Time(),
		RefreshExpiresAt: res.Record.RefreshExpiration().Time(),
	}, nil
}

// Authenticate describes the authenticate operation and its observable behavior.
//
// Authenticate verifies cookie against its series, extends the sliding session
// deadline and rotates the refresh token when it is within the rotation
// threshold. A rotated cookie is returned in Session.Cookie and must be sent
// back to the client.
//
// Errors: ErrSessionNotFound for absent, expired or never-issued credentials;
// ErrSessionTheftDetected when a superseded token is replayed (the series is
// revoked); ErrConcurrentRotation when the cookie was replaced by a rotation
// the client has not seen yet (a lost race, or the predecessor token inside
// RotationGracePeriod); ErrSessionNotFound wrapping ErrConcurrentRotation when
// the series kept rotating underneath two attempts; ErrStorageUnavailable.
func (e *Engine) Authenticate(ctx context.Context, cookie credential.Cookie) (*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res := flows.RunAuthenticate(ctx, cookie, e.sessionDeps)
	if res.Retried {
		e.metricInc(MetricRotationRetried)
	}
	if res.Failure != flows.SessionFailureNone {
		return nil, e.sessionFailure(ctx, "authenticate", res)
	}

	e.metricInc(MetricSessionAuthenticated)
	return e.sessionSuccess(ctx, res)
}

// AuthenticateEncoded decodes a raw cookie value and authenticates it. Cookies
// that fail signature or issuer checks are reported as ErrSessionNotFound.
func (e *Engine) AuthenticateEncoded(ctx context.Context, raw string) (*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	cookie, err := e.cookies.Decode(raw)
	if err != nil {
		e.metricInc(MetricSessionNotFound)
		e.logger.Debug().Ctx(ctx).Err(err).Msg("session cookie rejected")
		return nil, ErrSessionNotFound
	}
	return e.Authenticate(ctx, cookie)
}

// RotateSeries describes the rotateseries operation and its observable behavior.
//
// RotateSeries forces a single rotation attempt of the presented series
// regardless of the rotation threshold. Unlike Authenticate it never retries:
// losing the race to another request returns ErrConcurrentRotation.
func (e *Engine) RotateSeries(ctx context.Context, cookie credential.Cookie) (*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res := flows.RunRotateSeries(ctx, cookie, e.sessionDeps)
	if res.Failure != flows.SessionFailureNone {
		return nil, e.sessionFailure(ctx, "rotate", res)
	}
	return e.sessionSuccess(ctx, res)
}

// Logout describes the logout operation and its observable behavior.
//
// Logout revokes the series the cookie belongs to. Logging out an absent or
// already revoked session succeeds. A refresh token never issued for the
// series is rejected with ErrSessionNotFound and revokes nothing.
func (e *Engine) Logout(ctx context.Context, cookie credential.Cookie) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	res := flows.RunLogout(ctx, cookie, e.sessionDeps)
	if res.Failure != flows.SessionFailureNone {
		return e.sessionFailure(ctx, "logout", res)
	}

	e.metricInc(MetricLogout)
	if res.Record != nil {
		e.emitSessionAudit(ctx, AuditEventLogout, true, res.Record, nil)
	}
	return nil
}

func (e *Engine) sessionSuccess(ctx context.Context, res flows.SessionResult) (*Session, error) {
	rec := res.Record
	out := &Session{
		AccountID:        rec.AccountID,
		SessionID:        rec.SessionID,
		Series:           rec.Series,
		SessionExpiresAt: rec.SessionExpiration().Time(),
		RefreshExpiresAt: rec.RefreshExpiration().Time(),
	}
	if res.Extended {
		e.metricInc(MetricSessionExtended)
	}
	if !res.Rotated || res.Cookie == nil {
		return out, nil
	}

	encoded, err := e.cookies.Encode(*res.Cookie)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	out.Rotated = true
	out.Cookie = res.Cookie
	out.Encoded = encoded

	e.metricInc(MetricSessionRotated)
	e.emitSessionAudit(ctx, AuditEventSessionRotated, true, rec, nil)
	return out, nil
}

// sessionFailure maps a flow failure to its public error and records it.
func (e *Engine) sessionFailure(ctx context.Context, op string, res flows.SessionResult) error {
	switch res.Failure {
	case flows.SessionFailureInvalidAccount:
		return ErrInvalidAccount

	case flows.SessionFailureNotFound:
		e.metricInc(MetricSessionNotFound)
		e.logger.Debug().Ctx(ctx).
			Str("op", op).
			Str("reason", string(res.Reason)).
			Msg("session not found")
		if res.Record != nil && res.Reason != flows.NotFoundSeriesMismatch {
			e.emitSessionAudit(ctx, AuditEventSessionNotFound, false, res.Record, ErrSessionNotFound)
		}
		return ErrSessionNotFound

	case flows.SessionFailureTheft:
		e.mitigateTheft(ctx, res)
		return ErrSessionTheftDetected

	case flows.SessionFailureConcurrentRotation:
		e.metricInc(MetricConcurrentRotation)
		e.emitSessionAudit(ctx, AuditEventConcurrentRotation, false, res.Record, ErrConcurrentRotation)
		return ErrConcurrentRotation

	case flows.SessionFailureRotationExhausted:
		e.metricInc(MetricConcurrentRotation)
		e.metricInc(MetricRotationExhausted)
		e.warn(ctx).
			Str("op", op).
			Str("series", seriesOf(res.Record)).
			Msg("session kept rotating across retry")
		e.emitSessionAudit(ctx, AuditEventConcurrentRotation, false, res.Record, ErrConcurrentRotation)
		return fmt.Errorf("%w: %w", ErrSessionNotFound, ErrConcurrentRotation)

	default:
		e.metricInc(MetricStorageUnavailable)
		e.logger.Error().Ctx(ctx).Str("op", op).Err(res.Err).Msg("session storage unavailable")
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, res.Err)
	}
}

// mitigateTheft reports a confirmed theft on every channel. The flow has
// already revoked the series.
func (e *Engine) mitigateTheft(ctx context.Context, res flows.SessionResult) {
	rec := res.Record
	now := e.clock()

	e.metricInc(MetricSessionTheftDetected)
	e.warn(ctx).
		Str("event", "session_theft_detected").
		Str("series", seriesOf(rec)).
		Str("account_id", rec.AccountID).
		Str("session_id", string(rec.SessionID)).
		Uint64("revision", rec.Revision).
		Err(res.Err).
		Msg("superseded refresh token replayed, series revoked")
	e.emitSessionAudit(ctx, AuditEventSessionTheftDetected, false, rec, ErrSessionTheftDetected)

	if e.onTheft != nil {
		e.onTheft(ctx, TheftEvent{
			AccountID:  rec.AccountID,
			SessionID:  rec.SessionID,
			Series:     rec.Series,
			DetectedAt: now,
		})
	}
}

func seriesOf(rec *session.Record) string {
	if rec == nil {
		return ""
	}
	return string(rec.Series)
}
