package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const (
	refreshTokenSize = 32
	apiKeySize       = 32

	apiKeyPrefix = "tg_"
)

var (
	ErrInvalidSessionID = errors.New("invalid session id")
	ErrInvalidSeries    = errors.New("invalid series")
	ErrInvalidAPIKey    = errors.New("invalid api key format")
)

// NewSessionID mints a time-ordered session id stamped with now.
func NewSessionID(now time.Time) (SessionID, error) {
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return SessionID(id.String()), nil
}

// ParseSessionID validates the canonical ULID form.
func ParseSessionID(s string) (SessionID, error) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSessionID, err)
	}
	return SessionID(id.String()), nil
}

// SessionIDTime returns the mint time encoded in id.
func SessionIDTime(id SessionID) (time.Time, error) {
	parsed, err := ulid.ParseStrict(string(id))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidSessionID, err)
	}
	return ulid.Time(parsed.Time()), nil
}

// NewSeries mints a random series identifier.
func NewSeries() (Series, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return Series(id.String()), nil
}

// ParseSeries accepts only random (version 4) UUIDs.
func ParseSeries(s string) (Series, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSeries, err)
	}
	if id.Version() != 4 {
		return "", ErrInvalidSeries
	}
	return Series(id.String()), nil
}

// NewRefreshToken returns 32 random bytes, base64url encoded.
func NewRefreshToken() (RefreshToken, error) {
	var raw [refreshTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return RefreshToken(base64.RawURLEncoding.EncodeToString(raw[:])), nil
}

// HashRefreshToken digests t for storage and comparison.
func HashRefreshToken(t RefreshToken) Digest {
	return sha256.Sum256([]byte(t))
}

// NewAPIKey returns a prefixed random key.
func NewAPIKey() (APIKey, error) {
	var raw [apiKeySize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return APIKey(apiKeyPrefix + base64.RawURLEncoding.EncodeToString(raw[:])), nil
}

// ParseAPIKey checks the key shape without consulting storage.
func ParseAPIKey(s string) (APIKey, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, apiKeyPrefix) {
		return "", ErrInvalidAPIKey
	}
	raw, err := base64.RawURLEncoding.DecodeString(s[len(apiKeyPrefix):])
	if err != nil || len(raw) != apiKeySize {
		return "", ErrInvalidAPIKey
	}
	return APIKey(s), nil
}

// HashAPIKey digests k for storage and for counter subjects.
func HashAPIKey(k APIKey) Digest {
	return sha256.Sum256([]byte(k))
}

// SubjectDigest returns a short stable hex digest of an arbitrary counter
// subject so raw keys and account ids never appear in cache keys.
func SubjectDigest(subject string) string {
	sum := sha256.Sum256([]byte(subject))
	return hex.EncodeToString(sum[:16])
}
