package trustgate

import (
	"context"
	"time"

	"github.com/MrEthical07/trustgate/credential"
	"github.com/MrEthical07/trustgate/internal/rate"
)

// Decision is the outcome of one admission counter.
type Decision = rate.Decision

// SessionGrant is returned by StartSession. Encoded is the value to place in
// the session cookie.
type SessionGrant struct {
	Cookie           credential.Cookie
	Encoded          string
	SessionExpiresAt time.Time
	RefreshExpiresAt time.Time
}

// Session is the verified state of an authenticated series.
type Session struct {
	AccountID        string
	SessionID        credential.SessionID
	Series           credential.Series
	SessionExpiresAt time.Time
	RefreshExpiresAt time.Time

	// Rotated is set when the refresh token was rotated by this call. Cookie
	// and Encoded then carry the replacement the client must store.
	Rotated bool
	Cookie  *credential.Cookie
	Encoded string
}

// Request is the per-request input to Engine.Handle.
//
// Cookie is the raw session cookie value. An empty Cookie skips the session
// step and yields an Identity without an account.
type Request struct {
	APIKey         credential.APIKey
	Cookie         string
	AccountSubject string
}

// Identity is the verified caller handed to business logic.
type Identity struct {
	AccountID string
	SessionID credential.SessionID
	Series    credential.Series

	// APIKeyIssuer is the issuing context of the presented key, empty when
	// the key is unknown and known keys are not required.
	APIKeyIssuer string

	Quota *Decision
	Rate  *Decision

	// Session is nil when no cookie was presented.
	Session *Session

	// RotatedAPIKey is the courtesy replacement of the presented API key.
	RotatedAPIKey credential.APIKey
}

// Authenticated reports whether a session was verified for the request.
func (i *Identity) Authenticated() bool {
	return i != nil && i.Session != nil
}

// TheftEvent describes a confirmed replay of a superseded refresh token.
type TheftEvent struct {
	AccountID  string
	SessionID  credential.SessionID
	Series     credential.Series
	DetectedAt time.Time
}

// TheftHook is invoked synchronously after a series has been revoked for theft.
type TheftHook func(ctx context.Context, event TheftEvent)
