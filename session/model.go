package session

import (
	"slices"
	"time"

	"github.com/MrEthical07/trustgate/credential"
)

// TokenMatch classifies a presented refresh token against a Record.
type TokenMatch int

const (
	// TokenUnknown means the token was never issued for this series.
	TokenUnknown TokenMatch = iota
	// TokenCurrent means the token is the live refresh token.
	TokenCurrent
	// TokenSuperseded means the token was valid once and has been rotated away.
	TokenSuperseded
)

func (m TokenMatch) String() string {
	switch m {
	case TokenCurrent:
		return "current"
	case TokenSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// Record is the persisted state of one series: the session it backs and its
// refresh pair. Timestamps are unix milliseconds.
type Record struct {
	Series    credential.Series
	SessionID credential.SessionID
	AccountID string

	CreatedAt         int64
	SessionExpiresAt  int64
	AbsoluteExpiresAt int64

	RefreshHash      credential.Digest
	RefreshExpiresAt int64
	RotatedAt        int64

	// Revision increases by one on every successful write.
	Revision uint64

	// Superseded holds previously valid refresh hashes, newest first.
	Superseded []credential.Digest

	raw []byte
}

func (r *Record) SessionExpiration() credential.Expiration {
	return credential.ExpirationFromUnixMilli(r.SessionExpiresAt)
}

func (r *Record) AbsoluteExpiration() credential.Expiration {
	return credential.ExpirationFromUnixMilli(r.AbsoluteExpiresAt)
}

func (r *Record) RefreshExpiration() credential.Expiration {
	return credential.ExpirationFromUnixMilli(r.RefreshExpiresAt)
}

// Classify compares hash to the current and superseded refresh hashes.
func (r *Record) Classify(hash credential.Digest) TokenMatch {
	if r.RefreshHash.Equal(hash) {
		return TokenCurrent
	}
	for _, old := range r.Superseded {
		if old.Equal(hash) {
			return TokenSuperseded
		}
	}
	return TokenUnknown
}

// IsImmediatePredecessor reports whether hash is the token replaced by the
// most recent rotation.
func (r *Record) IsImmediatePredecessor(hash credential.Digest) bool {
	return len(r.Superseded) > 0 && r.Superseded[0].Equal(hash)
}

// Clone returns a deep copy without the loaded snapshot bytes.
func (r *Record) Clone() *Record {
	out := *r
	out.Superseded = slices.Clone(r.Superseded)
	out.raw = nil
	return &out
}

// Extended returns the next revision with the sliding deadline moved to
// now+idle, capped by the absolute deadline.
func (r *Record) Extended(now time.Time, idle time.Duration) *Record {
	next := r.Clone()
	next.SessionExpiresAt = credential.ExpiresIn(now, idle).Min(r.AbsoluteExpiration()).UnixMilli()
	next.Revision = r.Revision + 1
	return next
}

// Rotate replaces the refresh hash in place and pushes the old one onto the
// superseded history, bounded by keep. It does not bump the revision: call it
// on the record returned by Extended so one write is one revision.
func (r *Record) Rotate(now time.Time, nextHash credential.Digest, refreshLifetime time.Duration, keep int) {
	if keep < 1 {
		keep = 1
	}
	superseded := make([]credential.Digest, 0, min(len(r.Superseded)+1, keep))
	superseded = append(superseded, r.RefreshHash)
	for _, old := range r.Superseded {
		if len(superseded) == keep {
			break
		}
		superseded = append(superseded, old)
	}

	r.Superseded = superseded
	r.RefreshHash = nextHash
	r.RefreshExpiresAt = credential.ExpiresIn(now, refreshLifetime).UnixMilli()
	r.RotatedAt = now.UnixMilli()
}
