package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/trustgate/cache/memory"
	"github.com/MrEthical07/trustgate/cache/rediscache"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCheckAndIncrementFivePerMinute(t *testing.T) {
	clock := &testClock{t: time.Unix(1_700_000_080, 0)}
	counter := New(memory.New(memory.WithClock(clock.Now)), WithClock(clock.Now))
	w := Window{Scope: "r", Length: time.Minute, Limit: 5}
	ctx := context.Background()

	for want := int64(4); want >= 0; want-- {
		d, err := counter.CheckAndIncrement(ctx, "key-1", w)
		if err != nil {
			t.Fatalf("expected allowed, got %v", err)
		}
		if !d.Allowed || d.Remaining != want {
			t.Fatalf("expected remaining %d, got %+v", want, d)
		}
	}

	d, err := counter.CheckAndIncrement(ctx, "key-1", w)
	if !errors.Is(err, ErrLimited) {
		t.Fatalf("expected ErrLimited, got %v", err)
	}
	if d.Allowed || d.RetryAfter <= 0 {
		t.Fatalf("expected denial with positive retry-after, got %+v", d)
	}
	if d.RetryAfter != 20*time.Second {
		t.Fatalf("expected retry-after to the aligned window end, got %s", d.RetryAfter)
	}

	clock.Advance(d.RetryAfter)
	d, err = counter.CheckAndIncrement(ctx, "key-1", w)
	if err != nil || d.Remaining != 4 {
		t.Fatalf("expected fresh window with remaining 4, got %+v err=%v", d, err)
	}
}

func TestScopesAndSubjectsAreIndependent(t *testing.T) {
	counter := New(memory.New())
	ctx := context.Background()
	quota := Window{Scope: "q", Length: time.Hour, Limit: 1}
	rate := Window{Scope: "r", Length: time.Minute, Limit: 3}

	if _, err := counter.CheckAndIncrement(ctx, "key-1", quota); err != nil {
		t.Fatalf("quota first hit: %v", err)
	}
	if _, err := counter.CheckAndIncrement(ctx, "key-1", quota); !errors.Is(err, ErrLimited) {
		t.Fatalf("expected quota exhausted, got %v", err)
	}

	d, err := counter.CheckAndIncrement(ctx, "key-1", rate)
	if err != nil || d.Remaining != 2 {
		t.Fatalf("rate counter must not see quota hits: %+v err=%v", d, err)
	}
	d, err = counter.CheckAndIncrement(ctx, "key-2", quota)
	if err != nil || d.Remaining != 0 {
		t.Fatalf("other subject must have its own quota: %+v err=%v", d, err)
	}
}

func TestCheckAndIncrementRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	counter := New(rediscache.New(rdb), WithClock(clock.Now), WithPrefix("t"))
	w := Window{Scope: "r", Length: time.Minute, Limit: 2}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := counter.CheckAndIncrement(ctx, "key-1", w); err != nil {
			t.Fatalf("hit %d: %v", i, err)
		}
	}
	if _, err := counter.CheckAndIncrement(ctx, "key-1", w); !errors.Is(err, ErrLimited) {
		t.Fatalf("expected ErrLimited, got %v", err)
	}

	keys := mr.Keys()
	if len(keys) != 1 {
		t.Fatalf("expected one counter key, got %v", keys)
	}
	if ttl := mr.TTL(keys[0]); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected ttl within one window, got %s", ttl)
	}
}

func TestBackendFailureIsUnavailable(t *testing.T) {
	c := memory.New()
	c.SetFailure(errors.New("down"))
	counter := New(c)

	_, err := counter.CheckAndIncrement(context.Background(), "key-1", Window{Scope: "r", Length: time.Minute, Limit: 1})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	d := counter.Degraded(Window{Scope: "r", Length: time.Minute, Limit: 7})
	if !d.Allowed || !d.Degraded || d.Remaining != 7 {
		t.Fatalf("unexpected degraded decision %+v", d)
	}
}

func TestBoundsAreAligned(t *testing.T) {
	start, end := Bounds(time.Unix(125, 0), time.Minute)
	if start.Unix() != 120 || end.Unix() != 180 {
		t.Fatalf("unexpected bounds %s %s", start, end)
	}
}
