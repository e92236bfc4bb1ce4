package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local WindowStore. Keys idle for a whole window
// are swept during Admit, at most once per window.
type MemoryStore struct {
	mu        sync.Mutex
	windows   map[string][]time.Time
	lastSweep time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string][]time.Time)}
}

func (s *MemoryStore) Admit(_ context.Context, key string, now time.Time, window time.Duration, limit int) (Admission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) >= window {
		s.pruneLocked(now, window)
		s.lastSweep = now
	}

	cutoff := now.Add(-window)
	stamps := s.windows[key]
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= limit {
		s.windows[key] = kept
		return Admission{Allowed: false, Count: len(kept), Oldest: kept[0]}, nil
	}
	kept = append(kept, now)
	s.windows[key] = kept
	return Admission{Allowed: true, Count: len(kept), Oldest: kept[0]}, nil
}

// Prune drops keys whose windows have fully expired.
func (s *MemoryStore) Prune(now time.Time, window time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now, window)
}

func (s *MemoryStore) pruneLocked(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	for key, stamps := range s.windows {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
			delete(s.windows, key)
		}
	}
}

// Len reports how many keys are tracked.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
