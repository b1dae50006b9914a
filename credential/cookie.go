package credential

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrCookieInvalid covers every reason a session cookie cannot be decoded:
// bad signature, wrong algorithm, wrong issuer, malformed fields.
var ErrCookieInvalid = errors.New("session cookie invalid")

const cookieKeyPurpose = "session-cookie"

// Cookie is the client-held triple that names a session and proves
// possession of its current refresh token.
type Cookie struct {
	SessionID SessionID
	Series    Series
	Refresh   RefreshToken
}

type cookieClaims struct {
	SID string `json:"sid"`
	SER string `json:"ser"`
	RT  string `json:"rt"`
	jwt.RegisteredClaims
}

// CookieCodec signs and verifies session cookies as compact HS256 tokens.
// Expiry is enforced server side, so the token carries no exp claim.
type CookieCodec struct {
	key    []byte
	issuer string
	now    func() time.Time
}

// NewCookieCodec derives the signing key from secret.
func NewCookieCodec(secret []byte, issuer string) (*CookieCodec, error) {
	key, err := DeriveKey(secret, cookieKeyPurpose, 32)
	if err != nil {
		return nil, err
	}
	return &CookieCodec{
		key:    key,
		issuer: issuer,
		now:    time.Now,
	}, nil
}

// Encode signs c.
func (c *CookieCodec) Encode(cookie Cookie) (string, error) {
	if cookie.SessionID == "" || cookie.Series == "" || cookie.Refresh == "" {
		return "", fmt.Errorf("%w: incomplete cookie", ErrCookieInvalid)
	}

	claims := cookieClaims{
		SID: string(cookie.SessionID),
		SER: string(cookie.Series),
		RT:  string(cookie.Refresh),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   c.issuer,
			IssuedAt: jwt.NewNumericDate(c.now()),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
}

// Decode verifies raw and returns its triple. Any failure wraps ErrCookieInvalid.
func (c *CookieCodec) Decode(raw string) (Cookie, error) {
	if raw == "" {
		return Cookie{}, fmt.Errorf("%w: empty", ErrCookieInvalid)
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if c.issuer != "" {
		options = append(options, jwt.WithIssuer(c.issuer))
	}

	token, err := jwt.NewParser(options...).ParseWithClaims(raw, &cookieClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return c.key, nil
	})
	if err != nil {
		return Cookie{}, fmt.Errorf("%w: %v", ErrCookieInvalid, err)
	}

	claims, ok := token.Claims.(*cookieClaims)
	if !ok || !token.Valid {
		return Cookie{}, fmt.Errorf("%w: claims", ErrCookieInvalid)
	}

	sid, err := ParseSessionID(claims.SID)
	if err != nil {
		return Cookie{}, fmt.Errorf("%w: %v", ErrCookieInvalid, err)
	}
	series, err := ParseSeries(claims.SER)
	if err != nil {
		return Cookie{}, fmt.Errorf("%w: %v", ErrCookieInvalid, err)
	}
	if claims.RT == "" {
		return Cookie{}, fmt.Errorf("%w: missing refresh token", ErrCookieInvalid)
	}

	return Cookie{
		SessionID: sid,
		Series:    series,
		Refresh:   RefreshToken(claims.RT),
	}, nil
}
