package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/trustgate/cache"
	"github.com/MrEthical07/trustgate/credential"
)

var (
	// ErrNotFound is returned when no live record exists for a session id or series.
	ErrNotFound = errors.New("session not found")
	// ErrUnavailable wraps backing cache failures.
	ErrUnavailable = errors.New("session store unavailable")
	// ErrCorrupt is returned when a stored record cannot be decoded.
	ErrCorrupt = errors.New("session record corrupt")
	// ErrConflict is returned by Update when the record changed since it was loaded.
	ErrConflict = errors.New("session record changed concurrently")
)

// Store is the persistence capability the session state machine is written
// against. Update is the only write that must be linearized per series.
type Store interface {
	// Create persists a new record and its session id pointer.
	Create(ctx context.Context, rec *Record) error
	// Load returns the record for a series.
	Load(ctx context.Context, series credential.Series) (*Record, error)
	// LoadBySessionID resolves a session id to its series record.
	LoadBySessionID(ctx context.Context, id credential.SessionID) (*Record, error)
	// Update replaces prev with next only if the stored record is still
	// byte-for-byte the one prev was loaded from. Returns ErrConflict otherwise.
	Update(ctx context.Context, prev, next *Record) error
	// Revoke deletes every key of the series. Missing keys are not an error.
	Revoke(ctx context.Context, series credential.Series, id credential.SessionID) error
}

// CacheStore implements Store over cache.Cache.
//
// Layout:
//
//	<prefix>:series:<series> -> encoded Record, TTL = remaining session lifetime
//	<prefix>:sid:<session id> -> series,         TTL = remaining absolute lifetime
type CacheStore struct {
	cache  cache.Cache
	prefix string
	now    func() time.Time
}

var _ Store = (*CacheStore)(nil)

// NewCacheStore creates a CacheStore. A nil now uses time.Now.
func NewCacheStore(c cache.Cache, prefix string, now func() time.Time) *CacheStore {
	if prefix == "" {
		prefix = "sess"
	}
	if now == nil {
		now = time.Now
	}
	return &CacheStore{
		cache:  c,
		prefix: prefix,
		now:    now,
	}
}

func (s *CacheStore) seriesKey(series credential.Series) string {
	return s.prefix + ":series:" + string(series)
}

func (s *CacheStore) sidKey(id credential.SessionID) string {
	return s.prefix + ":sid:" + string(id)
}

func storeError(err error) error {
	switch {
	case errors.Is(err, cache.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrCorrupt):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func (s *CacheStore) Create(ctx context.Context, rec *Record) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}

	now := s.now()
	recordTTL := rec.SessionExpiration().Remaining(now)
	pointerTTL := rec.AbsoluteExpiration().Remaining(now)
	if recordTTL <= 0 || pointerTTL <= 0 {
		return errors.New("session record already expired")
	}

	if err := s.cache.Set(ctx, s.seriesKey(rec.Series), data, recordTTL); err != nil {
		return storeError(err)
	}
	if err := s.cache.Set(ctx, s.sidKey(rec.SessionID), []byte(rec.Series), pointerTTL); err != nil {
		_ = s.cache.Delete(ctx, s.seriesKey(rec.Series))
		return storeError(err)
	}

	rec.raw = data
	return nil
}

func (s *CacheStore) Load(ctx context.Context, series credential.Series) (*Record, error) {
	data, err := s.cache.Get(ctx, s.seriesKey(series))
	if err != nil {
		return nil, storeError(err)
	}

	rec, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if rec.Series != series {
		return nil, fmt.Errorf("%w: series mismatch", ErrCorrupt)
	}
	rec.raw = data
	return rec, nil
}

func (s *CacheStore) LoadBySessionID(ctx context.Context, id credential.SessionID) (*Record, error) {
	pointer, err := s.cache.Get(ctx, s.sidKey(id))
	if err != nil {
		return nil, storeError(err)
	}

	rec, err := s.Load(ctx, credential.Series(pointer))
	if errors.Is(err, ErrNotFound) {
		// The record expired before its pointer; drop the pointer now.
		_ = s.cache.Delete(ctx, s.sidKey(id))
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if rec.SessionID != id {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (s *CacheStore) Update(ctx context.Context, prev, next *Record) error {
	if prev == nil || prev.raw == nil {
		return errors.New("update requires a loaded record")
	}
	if prev.Series != next.Series || prev.SessionID != next.SessionID {
		return errors.New("update cannot change series or session id")
	}

	data, err := Encode(next)
	if err != nil {
		return err
	}

	ttl := next.SessionExpiration().Remaining(s.now())
	if ttl <= 0 {
		return ErrNotFound
	}

	swapped, err := s.cache.CompareAndSwap(ctx, s.seriesKey(next.Series), prev.raw, data, ttl)
	if err != nil {
		return storeError(err)
	}
	if !swapped {
		return ErrConflict
	}

	next.raw = data
	return nil
}

func (s *CacheStore) Revoke(ctx context.Context, series credential.Series, id credential.SessionID) error {
	keys := []string{s.seriesKey(series)}
	if id != "" {
		keys = append(keys, s.sidKey(id))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		return storeError(err)
	}
	return nil
}
