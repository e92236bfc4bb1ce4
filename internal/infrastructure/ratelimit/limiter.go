// Package ratelimit bounds request rates with a per-key sliding window.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"
)

// WindowStore keeps the accepted request timestamps of every key.
type WindowStore interface {
	// Admit drops timestamps older than now-window and records now when fewer
	// than limit remain. Count is the window size after the call.
	Admit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (Admission, error)
}

type Admission struct {
	Allowed bool
	Count   int
	Oldest  time.Time
}

type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type Limiter struct {
	store  WindowStore
	limit  int
	window time.Duration
	now    func() time.Time
}

func New(store WindowStore, limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{store: store, limit: limit, window: window, now: time.Now}
}

func (l *Limiter) Limit() int {
	return l.limit
}

// Allow admits one request for key. Rejected requests are not recorded.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	adm, err := l.store.Admit(ctx, key, now, l.window, l.limit)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if adm.Allowed {
		return Decision{Allowed: true, Remaining: max(l.limit-adm.Count, 0)}, nil
	}
	return Decision{Allowed: false, RetryAfter: retryAfter(adm.Oldest, l.window, now)}, nil
}

// retryAfter is the wait until the oldest timestamp leaves the window,
// rounded up to whole seconds and never below one second.
func retryAfter(oldest time.Time, window time.Duration, now time.Time) time.Duration {
	wait := oldest.Add(window).Sub(now)
	secs := math.Ceil(wait.Seconds())
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}
