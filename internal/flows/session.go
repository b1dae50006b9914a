package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/trustgate/credential"
	"github.com/MrEthical07/trustgate/session"
)

// SessionFailureKind classifies session flow failures for root-level mapping.
type SessionFailureKind int

const (
	SessionFailureNone SessionFailureKind = iota
	SessionFailureInvalidAccount
	SessionFailureMint
	SessionFailureNotFound
	SessionFailureTheft
	SessionFailureConcurrentRotation
	SessionFailureRotationExhausted
	SessionFailureStorage
)

func (k SessionFailureKind) String() string {
	switch k {
	case SessionFailureNone:
		return "none"
	case SessionFailureInvalidAccount:
		return "invalid_account"
	case SessionFailureMint:
		return "mint"
	case SessionFailureNotFound:
		return "not_found"
	case SessionFailureTheft:
		return "theft"
	case SessionFailureConcurrentRotation:
		return "concurrent_rotation"
	case SessionFailureRotationExhausted:
		return "rotation_exhausted"
	default:
		return "storage"
	}
}

// NotFoundReason says why a session lookup ended in not found. It only feeds
// logs and metrics; callers see a single not-found error.
type NotFoundReason string

const (
	NotFoundMissing        NotFoundReason = "missing"
	NotFoundSeriesMismatch NotFoundReason = "series_mismatch"
	NotFoundExpired        NotFoundReason = "session_expired"
	NotFoundRefreshExpired NotFoundReason = "refresh_expired"
	NotFoundUnknownToken   NotFoundReason = "unknown_token"
)

// SessionResult carries the authenticated record or failure metadata.
type SessionResult struct {
	Failure SessionFailureKind
	Err     error
	Reason  NotFoundReason

	Record *session.Record
	// Cookie is set when the caller must rewrite the client cookie: always on
	// start, and on authenticate when the refresh token was rotated.
	Cookie  *credential.Cookie
	Rotated bool
	Retried bool
	// Extended is false when the sliding deadline moved by less than the write
	// granularity and the store was not touched.
	Extended bool

	lostRevision uint64
	// superseded marks a concurrent-rotation failure for a token that was
	// already replaced. Retrying it cannot succeed.
	superseded bool
}

// SessionDeps captures session flow dependencies.
type SessionDeps struct {
	Store session.Store
	Now   func() time.Time

	NewSessionID    func(time.Time) (credential.SessionID, error)
	NewSeries       func() (credential.Series, error)
	NewRefreshToken func() (credential.RefreshToken, error)

	// SessionLifetime is the idle (sliding) lifetime.
	SessionLifetime time.Duration
	// AbsoluteLifetime caps sliding extension, measured from creation.
	AbsoluteLifetime    time.Duration
	RefreshLifetime     time.Duration
	RotationThreshold   time.Duration
	RotationGracePeriod time.Duration
	SupersededHistory   int
	// ExtendGranularity is the minimum deadline advance that is worth a write.
	ExtendGranularity time.Duration
}

func (d SessionDeps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

func storageFailure(err error) SessionResult {
	if errors.Is(err, session.ErrNotFound) {
		return SessionResult{Failure: SessionFailureNotFound, Err: err, Reason: NotFoundMissing}
	}
	return SessionResult{Failure: SessionFailureStorage, Err: err}
}

// RunStartSession mints a new series for accountID and persists it.
func RunStartSession(ctx context.Context, accountID string, deps SessionDeps) SessionResult {
	if accountID == "" {
		return SessionResult{Failure: SessionFailureInvalidAccount, Err: errors.New("empty account id")}
	}

	now := deps.now()
	id, err := deps.NewSessionID(now)
	if err != nil {
		return SessionResult{Failure: SessionFailureMint, Err: err}
	}
	series, err := deps.NewSeries()
	if err != nil {
		return SessionResult{Failure: SessionFailureMint, Err: err}
	}
	refresh, err := deps.NewRefreshToken()
	if err != nil {
		return SessionResult{Failure: SessionFailureMint, Err: err}
	}

	absolute := credential.ExpiresIn(now, deps.AbsoluteLifetime)
	rec := &session.Record{
		Series:            series,
		SessionID:         id,
		AccountID:         accountID,
		CreatedAt:         now.UnixMilli(),
		SessionExpiresAt:  credential.ExpiresIn(now, deps.SessionLifetime).Min(absolute).UnixMilli(),
		AbsoluteExpiresAt: absolute.UnixMilli(),
		RefreshHash:       credential.HashRefreshToken(refresh),
		RefreshExpiresAt:  credential.ExpiresIn(now, deps.RefreshLifetime).UnixMilli(),
		RotatedAt:         now.UnixMilli(),
	}

	if err := deps.Store.Create(ctx, rec); err != nil {
		return SessionResult{Failure: SessionFailureStorage, Err: err}
	}

	return SessionResult{
		Record:   rec,
		Cookie:   &credential.Cookie{SessionID: id, Series: series, Refresh: refresh},
		Rotated:  true,
		Extended: true,
	}
}

// RunAuthenticate validates cookie against its series, extends the session and
// rotates the refresh token when due. A lost compare-and-swap is retried once;
// a second loss is reported as SessionFailureRotationExhausted. A token that a
// sibling request has just replaced fails with SessionFailureConcurrentRotation
// and never authenticates.
func RunAuthenticate(ctx context.Context, cookie credential.Cookie, deps SessionDeps) SessionResult {
	res := reauthenticate(ctx, cookie, deps, nil)
	if res.Failure != SessionFailureConcurrentRotation || res.superseded {
		return res
	}

	lost := res.lostRevision
	retry := reauthenticate(ctx, cookie, deps, &lost)
	retry.Retried = true
	if retry.Failure == SessionFailureConcurrentRotation && !retry.superseded {
		retry.Failure = SessionFailureRotationExhausted
	}
	return retry
}

// RunRotateSeries forces one rotation attempt without retry. A lost race is
// returned as SessionFailureConcurrentRotation.
func RunRotateSeries(ctx context.Context, cookie credential.Cookie, deps SessionDeps) SessionResult {
	rec, res, ok := loadLive(ctx, cookie, deps)
	if !ok {
		return res
	}

	now := deps.now()
	hash := credential.HashRefreshToken(cookie.Refresh)
	switch rec.Classify(hash) {
	case session.TokenCurrent:
	case session.TokenSuperseded:
		if withinGrace(rec, hash, now, deps.RotationGracePeriod) {
			return supersededBySibling(rec)
		}
		return mitigateSessionTheft(ctx, rec, deps)
	default:
		return SessionResult{Failure: SessionFailureNotFound, Err: session.ErrNotFound, Reason: NotFoundUnknownToken, Record: rec}
	}

	next := rec.Extended(now, deps.SessionLifetime)
	fresh, err := refreshSessionSeries(next, now, deps)
	if err != nil {
		return SessionResult{Failure: SessionFailureMint, Err: err, Record: rec}
	}
	return updateRefreshToken(ctx, rec, next, cookie, fresh, deps)
}

// RunLogout revokes the series the cookie belongs to. Absent sessions are not
// an error. A token never issued for the series is rejected without revoking.
func RunLogout(ctx context.Context, cookie credential.Cookie, deps SessionDeps) SessionResult {
	rec, err := deps.Store.LoadBySessionID(ctx, cookie.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return SessionResult{}
		}
		return storageFailure(err)
	}
	if rec.Series != cookie.Series {
		return SessionResult{}
	}
	if rec.Classify(credential.HashRefreshToken(cookie.Refresh)) == session.TokenUnknown {
		return SessionResult{Failure: SessionFailureNotFound, Err: session.ErrNotFound, Reason: NotFoundUnknownToken, Record: rec}
	}

	if err := deps.Store.Revoke(ctx, rec.Series, rec.SessionID); err != nil {
		return storageFailure(err)
	}
	return SessionResult{Record: rec}
}

// loadLive resolves the cookie's record and enforces series binding and the
// session deadlines. Expired records are deleted eagerly.
func loadLive(ctx context.Context, cookie credential.Cookie, deps SessionDeps) (*session.Record, SessionResult, bool) {
	rec, err := deps.Store.LoadBySessionID(ctx, cookie.SessionID)
	if err != nil {
		return nil, storageFailure(err), false
	}
	if rec.Series != cookie.Series {
		return nil, SessionResult{Failure: SessionFailureNotFound, Err: session.ErrNotFound, Reason: NotFoundSeriesMismatch}, false
	}

	now := deps.now()
	if rec.SessionExpiration().Expired(now) || rec.AbsoluteExpiration().Expired(now) {
		if err := deps.Store.Revoke(ctx, rec.Series, rec.SessionID); err != nil {
			return nil, storageFailure(err), false
		}
		return nil, SessionResult{Failure: SessionFailureNotFound, Err: session.ErrNotFound, Reason: NotFoundExpired, Record: rec}, false
	}
	return rec, SessionResult{}, true
}

// withinGrace reports whether hash is the token replaced by the latest
// rotation and that rotation happened less than grace ago.
func withinGrace(rec *session.Record, hash credential.Digest, now time.Time, grace time.Duration) bool {
	if grace <= 0 || !rec.IsImmediatePredecessor(hash) {
		return false
	}
	return now.Sub(time.UnixMilli(rec.RotatedAt)) < grace
}

func reauthenticate(ctx context.Context, cookie credential.Cookie, deps SessionDeps, lostRevision *uint64) SessionResult {
	rec, res, ok := loadLive(ctx, cookie, deps)
	if !ok {
		return res
	}

	now := deps.now()
	hash := credential.HashRefreshToken(cookie.Refresh)

	switch rec.Classify(hash) {
	case session.TokenCurrent:
		if rec.RefreshExpiration().Expired(now) {
			if err := deps.Store.Revoke(ctx, rec.Series, rec.SessionID); err != nil {
				return storageFailure(err)
			}
			return SessionResult{Failure: SessionFailureNotFound, Err: session.ErrNotFound, Reason: NotFoundRefreshExpired, Record: rec}
		}
	case session.TokenSuperseded:
		lostToRotation := lostRevision != nil && rec.Revision == *lostRevision+1 && rec.IsImmediatePredecessor(hash)
		if lostToRotation || withinGrace(rec, hash, now, deps.RotationGracePeriod) {
			// The client raced a rotation it has not seen yet. The winning
			// response carries the new cookie; this one is not admitted.
			return supersededBySibling(rec)
		}
		return mitigateSessionTheft(ctx, rec, deps)
	default:
		return SessionResult{Failure: SessionFailureNotFound, Err: session.ErrNotFound, Reason: NotFoundUnknownToken, Record: rec}
	}

	rotate := rec.RefreshExpiration().Within(now, deps.RotationThreshold)
	next := rec.Extended(now, deps.SessionLifetime)

	if !rotate && next.SessionExpiresAt-rec.SessionExpiresAt < deps.ExtendGranularity.Milliseconds() {
		return SessionResult{Record: rec}
	}

	if !rotate {
		return updateSession(ctx, rec, next, deps)
	}

	fresh, err := refreshSessionSeries(next, now, deps)
	if err != nil {
		return SessionResult{Failure: SessionFailureMint, Err: err, Record: rec}
	}
	return updateRefreshToken(ctx, rec, next, cookie, fresh, deps)
}

// refreshSessionSeries mints the next refresh token and applies it to next.
func refreshSessionSeries(next *session.Record, now time.Time, deps SessionDeps) (credential.RefreshToken, error) {
	fresh, err := deps.NewRefreshToken()
	if err != nil {
		return "", err
	}
	next.Rotate(now, credential.HashRefreshToken(fresh), deps.RefreshLifetime, deps.SupersededHistory)
	return fresh, nil
}

func updateSession(ctx context.Context, prev, next *session.Record, deps SessionDeps) SessionResult {
	if err := deps.Store.Update(ctx, prev, next); err != nil {
		return casFailure(err, prev)
	}
	return SessionResult{Record: next, Extended: true}
}

// updateRefreshToken persists extension and rotation as a single write.
func updateRefreshToken(ctx context.Context, prev, next *session.Record, cookie credential.Cookie, fresh credential.RefreshToken, deps SessionDeps) SessionResult {
	if err := deps.Store.Update(ctx, prev, next); err != nil {
		return casFailure(err, prev)
	}
	return SessionResult{
		Record:   next,
		Cookie:   &credential.Cookie{SessionID: cookie.SessionID, Series: cookie.Series, Refresh: fresh},
		Rotated:  true,
		Extended: true,
	}
}

func supersededBySibling(rec *session.Record) SessionResult {
	return SessionResult{
		Failure:      SessionFailureConcurrentRotation,
		Err:          session.ErrConflict,
		Record:       rec,
		lostRevision: rec.Revision - 1,
		superseded:   true,
	}
}

func casFailure(err error, prev *session.Record) SessionResult {
	if errors.Is(err, session.ErrConflict) {
		return SessionResult{
			Failure:      SessionFailureConcurrentRotation,
			Err:          err,
			Record:       prev,
			lostRevision: prev.Revision,
		}
	}
	return storageFailure(err)
}

// mitigateSessionTheft revokes the whole series. The theft result is returned
// even when the delete fails so the event is never swallowed.
func mitigateSessionTheft(ctx context.Context, rec *session.Record, deps SessionDeps) SessionResult {
	res := SessionResult{
		Failure: SessionFailureTheft,
		Err:     fmt.Errorf("superseded refresh token presented for series %s", rec.Series),
		Record:  rec,
	}
	if err := deps.Store.Revoke(ctx, rec.Series, rec.SessionID); err != nil {
		res.Err = errors.Join(res.Err, err)
	}
	return res
}
