package credential

import (
	"crypto/subtle"
	"encoding/hex"
	"time"
)

// SessionID identifies one login. It is a ULID, so ids sort by creation time.
type SessionID string

// Series identifies the lineage of refresh tokens minted from one login.
// It is a random UUIDv4 and stays fixed across rotations.
type Series string

// RefreshToken is the current single-use secret of a series. Only its
// Digest is ever persisted.
type RefreshToken string

// APIKey is a bearer key presented by API clients for admission control.
type APIKey string

func (id SessionID) String() string   { return string(id) }
func (s Series) String() string       { return string(s) }
func (t RefreshToken) String() string { return string(t) }

// String redacts the key so it never reaches a log line by accident.
func (k APIKey) String() string {
	if len(k) <= 6 {
		return "***"
	}
	return string(k[:6]) + "***"
}

// Digest is a SHA-256 digest of a secret.
type Digest [32]byte

// Equal compares digests in constant time.
func (d Digest) Equal(other Digest) bool {
	return subtle.ConstantTimeCompare(d[:], other[:]) == 1
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Expiration is an absolute deadline.
type Expiration struct {
	at time.Time
}

// ExpiresAt wraps t as an Expiration.
func ExpiresAt(t time.Time) Expiration {
	return Expiration{at: t}
}

// ExpiresIn returns the deadline d after now.
func ExpiresIn(now time.Time, d time.Duration) Expiration {
	return Expiration{at: now.Add(d)}
}

// ExpirationFromUnixMilli restores an Expiration persisted with UnixMilli.
func ExpirationFromUnixMilli(ms int64) Expiration {
	if ms == 0 {
		return Expiration{}
	}
	return Expiration{at: time.UnixMilli(ms)}
}

func (e Expiration) Time() time.Time { return e.at }
func (e Expiration) IsZero() bool    { return e.at.IsZero() }

// UnixMilli returns the deadline in milliseconds, or zero for an unset deadline.
func (e Expiration) UnixMilli() int64 {
	if e.at.IsZero() {
		return 0
	}
	return e.at.UnixMilli()
}

// Expired reports whether the deadline is at or before now.
func (e Expiration) Expired(now time.Time) bool {
	return !now.Before(e.at)
}

// Remaining returns the time left before the deadline, never negative.
func (e Expiration) Remaining(now time.Time) time.Duration {
	if d := e.at.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Within reports whether the deadline falls within d of now.
func (e Expiration) Within(now time.Time, d time.Duration) bool {
	return e.Remaining(now) <= d
}

// Before reports whether e is earlier than other.
func (e Expiration) Before(other Expiration) bool {
	return e.at.Before(other.at)
}

// Min returns the earlier of e and other.
func (e Expiration) Min(other Expiration) Expiration {
	if other.Before(e) {
		return other
	}
	return e
}
