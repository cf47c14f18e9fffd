package ratelimit

import (
	"sync"
	"time"
)

// Limiter counts requests per key over fixed time windows. A stale window is
// replaced wholesale, never incrementally corrected, so bursts of up to ~2x the
// limit across a window boundary are possible; that is the accepted trade-off
// for O(1) state per key.
type Limiter struct {
	entries sync.Map // key -> *window
}

type window struct {
	mu        sync.Mutex
	startedAt time.Time
	count     int
}

func NewLimiter() *Limiter {
	return &Limiter{}
}

// Allow records one hit for key and reports whether it stays within limit for
// the current window. The hit that reaches exactly limit is still allowed.
// When the request is rejected the second return value is the time remaining
// until the window rolls over, never below one second.
func (l *Limiter) Allow(key string, limit int, windowSize time.Duration) (bool, time.Duration) {
	now := time.Now().UTC()

	v, _ := l.entries.LoadOrStore(key, &window{})
	w := v.(*window)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.startedAt.IsZero() || now.Sub(w.startedAt) > windowSize {
		w.startedAt = now
		w.count = 1
		return true, 0
	}

	w.count++
	if w.count <= limit {
		return true, 0
	}

	retryAfter := w.startedAt.Add(windowSize).Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}

	return false, retryAfter
}

// PruneIdle drops windows that have not been touched for longer than maxIdle.
// Expiry is always re-checked on access, so pruning only bounds memory; it is
// never required for correctness.
func (l *Limiter) PruneIdle(maxIdle time.Duration) int {
	threshold := time.Now().UTC().Add(-maxIdle)
	pruned := 0

	l.entries.Range(func(key, v any) bool {
		w := v.(*window)
		w.mu.Lock()
		stale := !w.startedAt.IsZero() && w.startedAt.Before(threshold)
		w.mu.Unlock()
		if stale {
			l.entries.Delete(key)
			pruned++
		}
		return true
	})

	return pruned
}
