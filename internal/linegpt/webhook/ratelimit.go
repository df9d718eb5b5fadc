package webhook

import (
	"sync"
	"time"
)

// rateLimiter is a fixed-window rate limiter keyed by conversation ID.
// Each conversation has an independent counter that resets after window.
type rateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	buckets map[string]*windowBucket
}

type windowBucket struct {
	count   int
	resetAt time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*windowBucket),
	}
}

// Allow reports whether key is within its limit. Expired buckets of other
// keys are dropped on the way so the map does not grow without bound.
func (r *rateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	b, ok := r.buckets[key]
	if !ok || now.After(b.resetAt) {
		if len(r.buckets) > 1024 {
			for k, old := range r.buckets {
				if now.After(old.resetAt) {
					delete(r.buckets, k)
				}
			}
		}
		r.buckets[key] = &windowBucket{count: 1, resetAt: now.Add(r.window)}
		return true
	}
	if b.count >= r.limit {
		return false
	}
	b.count++
	return true
}
