package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MrEthical07/trustgate/cache"
	"github.com/MrEthical07/trustgate/credential"
	"golang.org/x/sync/singleflight"
)

const (
	apiKeyRecordVersionV1  = 1
	apiKeyContextVersionV1 = 1

	issueAttempts = 3
)

var (
	ErrAPIKeyNotFound    = errors.New("api key not found")
	ErrAPIKeyRotated     = errors.New("api key already rotated")
	ErrAPIKeyContention  = errors.New("api key context kept changing during issue")
	ErrAPIKeyUnavailable = errors.New("api key store unavailable")
)

// APIKeyRecord is the resolved state of one key.
type APIKeyRecord struct {
	Hash      credential.Digest
	Issuer    string
	IssuedAt  int64
	ExpiresAt int64
	// Current is false for a key that has been rotated away and is running
	// out its grace overlap.
	Current bool
}

// RefreshedAt returns the time the key was minted.
func (r *APIKeyRecord) RefreshedAt() time.Time {
	return time.UnixMilli(r.IssuedAt)
}

type apiKeyContext struct {
	Current     credential.Digest
	RefreshedAt int64
}

// APIKeyStore keeps one active key per issuing context.
//
// Layout:
//
//	<prefix>:k:<key hash>  -> key record (issuer, issued, expires)
//	<prefix>:c:<issuer>    -> context record (current key hash, refreshed)
type APIKeyStore struct {
	cache    cache.Cache
	prefix   string
	lifetime time.Duration
	now      func() time.Time
	group    singleflight.Group
}

// NewAPIKeyStore creates an APIKeyStore. Keys live for lifetime unless rotated.
func NewAPIKeyStore(c cache.Cache, prefix string, lifetime time.Duration, now func() time.Time) *APIKeyStore {
	if prefix == "" {
		prefix = "ak"
	}
	if now == nil {
		now = time.Now
	}
	return &APIKeyStore{
		cache:    c,
		prefix:   prefix,
		lifetime: lifetime,
		now:      now,
	}
}

func (s *APIKeyStore) keyKey(hash credential.Digest) string {
	return s.prefix + ":k:" + hash.String()
}

func (s *APIKeyStore) contextKey(issuer string) string {
	return s.prefix + ":c:" + credential.SubjectDigest(issuer)
}

func unavailable(err error) error {
	if errors.Is(err, cache.ErrNotFound) {
		return ErrAPIKeyNotFound
	}
	return fmt.Errorf("%w: %v", ErrAPIKeyUnavailable, err)
}

// Issue mints a key for issuer and makes it the context's active key. A
// previously active key is deleted immediately. The context record is only
// ever replaced with compare-and-swap (or created when absent), so of several
// concurrent calls each one either becomes the active key in turn or removes
// its own key and tries again; no minted key is left resolvable behind a
// context that does not name it.
func (s *APIKeyStore) Issue(ctx context.Context, issuer string) (credential.APIKey, *APIKeyRecord, error) {
	if issuer == "" {
		return "", nil, errors.New("empty api key issuer")
	}

	for attempt := 0; attempt < issueAttempts; attempt++ {
		key, rec, err := s.issueOnce(ctx, issuer)
		if !errors.Is(err, errIssueConflict) {
			return key, rec, err
		}
	}
	return "", nil, ErrAPIKeyContention
}

var errIssueConflict = errors.New("api key context changed")

func (s *APIKeyStore) issueOnce(ctx context.Context, issuer string) (credential.APIKey, *APIKeyRecord, error) {
	ctxKey := s.contextKey(issuer)

	var (
		raw      []byte
		previous *apiKeyContext
	)
	data, err := s.cache.Get(ctx, ctxKey)
	switch {
	case err == nil:
		raw = data
		previous, _ = decodeAPIKeyContext(data)
	case errors.Is(err, cache.ErrNotFound):
	default:
		return "", nil, unavailable(err)
	}

	key, rec, err := s.mint(ctx, issuer)
	if err != nil {
		return "", nil, err
	}

	encoded := encodeAPIKeyContext(&apiKeyContext{Current: rec.Hash, RefreshedAt: rec.IssuedAt})
	var stored bool
	if raw == nil {
		stored, err = s.cache.SetIfAbsent(ctx, ctxKey, encoded, s.lifetime)
	} else {
		stored, err = s.cache.CompareAndSwap(ctx, ctxKey, raw, encoded, s.lifetime)
		if errors.Is(err, cache.ErrNotFound) {
			stored, err = false, nil
		}
	}
	if err != nil || !stored {
		_ = s.cache.Delete(ctx, s.keyKey(rec.Hash))
		if err != nil {
			return "", nil, unavailable(err)
		}
		return "", nil, errIssueConflict
	}

	if previous != nil && !previous.Current.Equal(rec.Hash) {
		if err := s.cache.Delete(ctx, s.keyKey(previous.Current)); err != nil {
			return key, rec, unavailable(err)
		}
	}
	return key, rec, nil
}

// Resolve returns the record for key. Unknown and expired keys return
// ErrAPIKeyNotFound.
func (s *APIKeyStore) Resolve(ctx context.Context, key credential.APIKey) (*APIKeyRecord, error) {
	hash := credential.HashAPIKey(key)
	rec, _, err := s.load(ctx, hash)
	if err != nil {
		return nil, err
	}

	data, err := s.cache.Get(ctx, s.contextKey(rec.Issuer))
	switch {
	case err == nil:
		c, decodeErr := decodeAPIKeyContext(data)
		if decodeErr != nil {
			return nil, decodeErr
		}
		rec.Current = c.Current.Equal(hash)
	case errors.Is(err, cache.ErrNotFound):
		rec.Current = false
	default:
		return nil, unavailable(err)
	}
	return rec, nil
}

// Rotate replaces rec as the context's active key and shortens rec to expire
// grace from now. Concurrent calls for the same key in this process share one
// rotation; across processes the context compare-and-swap picks one winner
// and the losers get ErrAPIKeyRotated.
func (s *APIKeyStore) Rotate(ctx context.Context, rec *APIKeyRecord, grace time.Duration) (credential.APIKey, error) {
	v, err, _ := s.group.Do(rec.Hash.String(), func() (any, error) {
		return s.rotate(ctx, rec, grace)
	})
	if err != nil {
		return "", err
	}
	return v.(credential.APIKey), nil
}

func (s *APIKeyStore) rotate(ctx context.Context, rec *APIKeyRecord, grace time.Duration) (credential.APIKey, error) {
	ctxKey := s.contextKey(rec.Issuer)
	current, err := s.cache.Get(ctx, ctxKey)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return "", ErrAPIKeyRotated
		}
		return "", unavailable(err)
	}
	c, err := decodeAPIKeyContext(current)
	if err != nil {
		return "", err
	}
	if !c.Current.Equal(rec.Hash) {
		return "", ErrAPIKeyRotated
	}

	key, next, err := s.mint(ctx, rec.Issuer)
	if err != nil {
		return "", err
	}

	encoded := encodeAPIKeyContext(&apiKeyContext{Current: next.Hash, RefreshedAt: next.IssuedAt})
	swapped, err := s.cache.CompareAndSwap(ctx, ctxKey, current, encoded, s.lifetime)
	if err != nil || !swapped {
		_ = s.cache.Delete(ctx, s.keyKey(next.Hash))
		if err != nil {
			return "", unavailable(err)
		}
		return "", ErrAPIKeyRotated
	}

	if err := s.shorten(ctx, rec.Hash, grace); err != nil {
		return key, err
	}
	return key, nil
}

// shorten moves the key's expiry to now+grace unless it already expires sooner.
func (s *APIKeyStore) shorten(ctx context.Context, hash credential.Digest, grace time.Duration) error {
	rec, raw, err := s.load(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrAPIKeyNotFound) {
			return nil
		}
		return err
	}

	now := s.now()
	deadline := credential.ExpiresIn(now, grace).Min(credential.ExpirationFromUnixMilli(rec.ExpiresAt))
	if deadline.UnixMilli() == rec.ExpiresAt {
		return nil
	}
	rec.ExpiresAt = deadline.UnixMilli()

	encoded, err := encodeAPIKeyRecord(rec)
	if err != nil {
		return err
	}
	ttl := deadline.Remaining(now)
	if ttl <= 0 {
		return unavailableOrNil(s.cache.Delete(ctx, s.keyKey(hash)))
	}
	if _, err := s.cache.CompareAndSwap(ctx, s.keyKey(hash), raw, encoded, ttl); err != nil && !errors.Is(err, cache.ErrNotFound) {
		return unavailable(err)
	}
	return nil
}

func unavailableOrNil(err error) error {
	if err == nil {
		return nil
	}
	return unavailable(err)
}

func (s *APIKeyStore) mint(ctx context.Context, issuer string) (credential.APIKey, *APIKeyRecord, error) {
	key, err := credential.NewAPIKey()
	if err != nil {
		return "", nil, err
	}

	now := s.now()
	rec := &APIKeyRecord{
		Hash:      credential.HashAPIKey(key),
		Issuer:    issuer,
		IssuedAt:  now.UnixMilli(),
		ExpiresAt: credential.ExpiresIn(now, s.lifetime).UnixMilli(),
		Current:   true,
	}
	encoded, err := encodeAPIKeyRecord(rec)
	if err != nil {
		return "", nil, err
	}
	if err := s.cache.Set(ctx, s.keyKey(rec.Hash), encoded, s.lifetime); err != nil {
		return "", nil, unavailable(err)
	}
	return key, rec, nil
}

func (s *APIKeyStore) load(ctx context.Context, hash credential.Digest) (*APIKeyRecord, []byte, error) {
	data, err := s.cache.Get(ctx, s.keyKey(hash))
	if err != nil {
		return nil, nil, unavailable(err)
	}
	rec, err := decodeAPIKeyRecord(data)
	if err != nil {
		return nil, nil, err
	}
	if credential.ExpirationFromUnixMilli(rec.ExpiresAt).Expired(s.now()) {
		return nil, nil, ErrAPIKeyNotFound
	}
	rec.Hash = hash
	return rec, data, nil
}

func encodeAPIKeyRecord(record *APIKeyRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(apiKeyRecordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, record.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.Issuer) > 65535 {
		return nil, errors.New("api key issuer too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Issuer))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Issuer)

	return buf.Bytes(), nil
}

func decodeAPIKeyRecord(data []byte) (*APIKeyRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != apiKeyRecordVersionV1 {
		return nil, errors.New("invalid api key record version")
	}

	record := &APIKeyRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var issuerLen uint16
	if err := binary.Read(reader, binary.BigEndian, &issuerLen); err != nil {
		return nil, err
	}
	issuer := make([]byte, issuerLen)
	if _, err := io.ReadFull(reader, issuer); err != nil {
		return nil, err
	}
	record.Issuer = string(issuer)

	return record, nil
}

func encodeAPIKeyContext(c *apiKeyContext) []byte {
	buf := make([]byte, 0, 1+32+8)
	buf = append(buf, apiKeyContextVersionV1)
	buf = append(buf, c.Current[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(c.RefreshedAt))
	return buf
}

func decodeAPIKeyContext(data []byte) (*apiKeyContext, error) {
	if len(data) != 1+32+8 || data[0] != apiKeyContextVersionV1 {
		return nil, errors.New("invalid api key context record")
	}
	c := &apiKeyContext{}
	copy(c.Current[:], data[1:33])
	c.RefreshedAt = int64(binary.BigEndian.Uint64(data[33:]))
	return c, nil
}
