package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(store WindowStore, clock *fakeClock) *Limiter {
	l := New(store, 30, time.Minute)
	l.now = clock.Now
	return l
}

func exerciseWindow(t *testing.T, store WindowStore) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
	l := newTestLimiter(store, clock)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		d, err := l.Allow(ctx, "user-1")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d rejected within the limit", i+1)
		}
		clock.Advance(time.Second)
	}

	d, err := l.Allow(ctx, "user-1")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if d.Allowed {
		t.Fatalf("31st request must be rejected")
	}
	// Oldest request was 30s ago; it leaves the window in 30s.
	if d.RetryAfter != 30*time.Second {
		t.Fatalf("expected retry after 30s, got %v", d.RetryAfter)
	}

	other, _ := l.Allow(ctx, "user-2")
	if !other.Allowed {
		t.Fatalf("other users must not share the window")
	}

	clock.Advance(30 * time.Second)
	d, _ = l.Allow(ctx, "user-1")
	if !d.Allowed {
		t.Fatalf("request must be admitted once the oldest entry expired")
	}
}

func TestMemoryStoreSlidingWindow(t *testing.T) {
	exerciseWindow(t, NewMemoryStore())
}

func TestRedisStoreSlidingWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	exerciseWindow(t, NewRedisStore(client))
}

func TestRejectedRequestsDoNotExtendLockout(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
	l := New(NewMemoryStore(), 2, time.Minute)
	l.now = clock.Now
	ctx := context.Background()

	_, _ = l.Allow(ctx, "k")
	_, _ = l.Allow(ctx, "k")
	for i := 0; i < 10; i++ {
		clock.Advance(5 * time.Second)
		if d, _ := l.Allow(ctx, "k"); d.Allowed {
			t.Fatalf("request admitted too early")
		}
	}
	clock.Advance(10*time.Second + time.Millisecond)
	if d, _ := l.Allow(ctx, "k"); !d.Allowed {
		t.Fatalf("expected admission after the window passed")
	}
}

func TestRetryAfterRoundsUpToWholeSeconds(t *testing.T) {
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	if got := retryAfter(now.Add(-59500*time.Millisecond), time.Minute, now); got != time.Second {
		t.Fatalf("expected 1s, got %v", got)
	}
	if got := retryAfter(now.Add(-58200*time.Millisecond), time.Minute, now); got != 2*time.Second {
		t.Fatalf("expected 2s, got %v", got)
	}
	if got := retryAfter(now.Add(-2*time.Minute), time.Minute, now); got != time.Second {
		t.Fatalf("expected 1s floor, got %v", got)
	}
}

func TestMemoryStoreConcurrentAdmissions(t *testing.T) {
	store := NewMemoryStore()
	l := New(store, 30, time.Minute)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d, err := l.Allow(context.Background(), "shared"); err == nil && d.Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if admitted != 30 {
		t.Fatalf("expected exactly 30 admissions, got %d", admitted)
	}
}

func TestMemoryStorePrune(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	_, _ = store.Admit(context.Background(), "k", now, time.Minute, 5)
	store.Prune(now.Add(2*time.Minute), time.Minute)
	if len(store.windows) != 0 {
		t.Fatalf("expected expired key to be pruned")
	}
}

func TestMemoryStoreEvictsIdleKeysDuringAdmit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 100; i++ {
		_, _ = store.Admit(ctx, fmt.Sprintf("ip:10.0.0.%d", i), now, time.Minute, 30)
	}
	if store.Len() != 100 {
		t.Fatalf("expected 100 tracked keys, got %d", store.Len())
	}

	// Another caller a window later sweeps every idle key.
	if _, err := store.Admit(ctx, "user:7", now.Add(61*time.Second), time.Minute, 30); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected only the active key to remain, got %d", store.Len())
	}
}
