package stores

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/trustgate/cache"
	"github.com/MrEthical07/trustgate/cache/memory"
	"github.com/MrEthical07/trustgate/cache/rediscache"
	"github.com/MrEthical07/trustgate/credential"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newAPIKeyTestStore(t *testing.T) (*APIKeyStore, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	c := memory.New(memory.WithClock(clock.Now))
	return NewAPIKeyStore(c, "", 24*time.Hour, clock.Now), clock
}

func TestAPIKeyIssueAndResolve(t *testing.T) {
	store, _ := newAPIKeyTestStore(t)
	ctx := context.Background()

	key, issued, err := store.Issue(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	rec, err := store.Resolve(ctx, key)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if rec.Issuer != "tenant-a" || !rec.Current || rec.Hash != issued.Hash {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestAPIKeyReissueDeletesPreviousKey(t *testing.T) {
	store, _ := newAPIKeyTestStore(t)
	ctx := context.Background()

	first, _, err := store.Issue(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, _, err := store.Issue(ctx, "tenant-a"); err != nil {
		t.Fatalf("reissue: %v", err)
	}
	if _, err := store.Resolve(ctx, first); !errors.Is(err, ErrAPIKeyNotFound) {
		t.Fatalf("expected previous key gone, got %v", err)
	}
}

func TestAPIKeyExpires(t *testing.T) {
	store, clock := newAPIKeyTestStore(t)
	ctx := context.Background()

	key, _, err := store.Issue(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	clock.Advance(25 * time.Hour)
	if _, err := store.Resolve(ctx, key); !errors.Is(err, ErrAPIKeyNotFound) {
		t.Fatalf("expected expired key, got %v", err)
	}
}

func TestAPIKeyRotateKeepsOldKeyForGrace(t *testing.T) {
	store, clock := newAPIKeyTestStore(t)
	ctx := context.Background()

	oldKey, oldRec, err := store.Issue(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	newKey, err := store.Rotate(ctx, oldRec, time.Minute)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if newKey == oldKey {
		t.Fatalf("rotation must mint a new key")
	}

	old, err := store.Resolve(ctx, oldKey)
	if err != nil {
		t.Fatalf("old key must survive grace: %v", err)
	}
	if old.Current {
		t.Fatalf("old key must no longer be current")
	}
	fresh, err := store.Resolve(ctx, newKey)
	if err != nil || !fresh.Current {
		t.Fatalf("new key must be current: %+v err=%v", fresh, err)
	}

	clock.Advance(time.Minute)
	if _, err := store.Resolve(ctx, oldKey); !errors.Is(err, ErrAPIKeyNotFound) {
		t.Fatalf("old key must be inert after grace, got %v", err)
	}
	if _, err := store.Resolve(ctx, newKey); err != nil {
		t.Fatalf("new key must outlive grace: %v", err)
	}
}

func TestAPIKeyRotateTwiceFromSameRecord(t *testing.T) {
	store, _ := newAPIKeyTestStore(t)
	ctx := context.Background()

	_, rec, err := store.Issue(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := store.Rotate(ctx, rec, time.Minute); err != nil {
		t.Fatalf("first rotate: %v", err)
	}
	if _, err := store.Rotate(ctx, rec, time.Minute); !errors.Is(err, ErrAPIKeyRotated) {
		t.Fatalf("expected ErrAPIKeyRotated, got %v", err)
	}
}

func TestAPIKeyConcurrentRotateHasOneActiveKey(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	c := rediscache.New(rdb)
	// Two stores model two processes: singleflight does not span them.
	a := NewAPIKeyStore(c, "", time.Hour, nil)
	b := NewAPIKeyStore(c, "", time.Hour, nil)

	_, rec, err := a.Issue(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var wg sync.WaitGroup
	keys := make(chan string, 8)
	for i := 0; i < 8; i++ {
		store := a
		if i%2 == 1 {
			store = b
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			key, err := store.Rotate(ctx, rec, time.Minute)
			if err == nil {
				keys <- string(key)
			} else if !errors.Is(err, ErrAPIKeyRotated) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	close(keys)

	distinct := map[string]struct{}{}
	for k := range keys {
		distinct[k] = struct{}{}
	}
	if len(distinct) != 1 {
		t.Fatalf("expected exactly one winning key, got %d", len(distinct))
	}
}

// interleavingCache runs during once, right before the first compare-and-swap,
// to model another process writing between our read and our swap.
type interleavingCache struct {
	cache.Cache
	once   sync.Once
	during func()
}

func (c *interleavingCache) CompareAndSwap(ctx context.Context, key string, expected, next []byte, ttl time.Duration) (bool, error) {
	c.once.Do(c.during)
	return c.Cache.CompareAndSwap(ctx, key, expected, next, ttl)
}

func TestAPIKeyIssueLosingSwapLeavesNoOrphan(t *testing.T) {
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	mem := memory.New(memory.WithClock(clock.Now))
	ctx := context.Background()

	other := NewAPIKeyStore(mem, "", time.Hour, clock.Now)
	first, _, err := other.Issue(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("seed issue: %v", err)
	}

	var raced credential.APIKey
	racing := &interleavingCache{Cache: mem}
	racing.during = func() {
		key, _, err := other.Issue(ctx, "tenant-a")
		if err != nil {
			t.Errorf("interleaved issue: %v", err)
		}
		raced = key
	}
	store := NewAPIKeyStore(racing, "", time.Hour, clock.Now)

	key, _, err := store.Issue(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	rec, err := store.Resolve(ctx, key)
	if err != nil || !rec.Current {
		t.Fatalf("expected the final key to be current, got %+v %v", rec, err)
	}
	for name, k := range map[string]credential.APIKey{"seed": first, "interleaved": raced} {
		if _, err := store.Resolve(ctx, k); !errors.Is(err, ErrAPIKeyNotFound) {
			t.Fatalf("expected %s key revoked, got %v", name, err)
		}
	}
	// One key record plus the context record: the key minted by the lost
	// attempt was removed.
	if n := mem.Len(); n != 2 {
		t.Fatalf("expected 2 cache entries, got %d", n)
	}
}

func TestAPIKeyConcurrentIssueLeavesOneResolvableKey(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	c := rediscache.New(rdb)
	a := NewAPIKeyStore(c, "", time.Hour, nil)
	b := NewAPIKeyStore(c, "", time.Hour, nil)

	const workers = 8
	var wg sync.WaitGroup
	keys := make(chan credential.APIKey, workers)
	for i := 0; i < workers; i++ {
		store := a
		if i%2 == 1 {
			store = b
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			key, _, err := store.Issue(ctx, "tenant-a")
			if err == nil {
				keys <- key
			} else if !errors.Is(err, ErrAPIKeyContention) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	close(keys)

	resolvable := 0
	for k := range keys {
		if _, err := a.Resolve(ctx, k); err == nil {
			resolvable++
		} else if !errors.Is(err, ErrAPIKeyNotFound) {
			t.Fatalf("resolve: %v", err)
		}
	}
	if resolvable != 1 {
		t.Fatalf("expected exactly one resolvable key, got %d", resolvable)
	}
	if n := len(mr.Keys()); n != 2 {
		t.Fatalf("expected one key record and one context, got %d keys: %v", n, mr.Keys())
	}
}
