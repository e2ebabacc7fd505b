// Package ratelimit provides sliding-window admission control keyed by
// (tenant, request class). Counters are process-local and independent of the
// database; multi-instance deployments swap the Store for a shared backend
// while preserving the same interface.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	// RetryAfter is how long the caller should wait before the window has
	// room again. Zero when allowed.
	RetryAfter time.Duration
	// Remaining is the number of requests left in the current window.
	Remaining int
}

// Store is the admission-control contract. Implementations must be safe for
// concurrent use from many simultaneous mutation calls.
type Store interface {
	// Allow records one request for (tenant, class) and reports whether it
	// fits in the window.
	Allow(tenant, class string) Decision
	// Peek reports the current window usage without recording a request.
	Peek(tenant, class string) int
	// Reset clears all counters. Test-only escape hatch so suites can
	// isolate cases without a process restart.
	Reset()
}

// Limiter is the process-local sliding-window Store.
type Limiter struct {
	maxRequests int
	window      time.Duration
	now         func() time.Time

	mu      sync.Mutex
	buckets map[string][]time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source. Test-only.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter allowing maxRequests per window per (tenant, class).
func New(maxRequests int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
		buckets:     make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func key(tenant, class string) string {
	return tenant + "\x00" + class
}

// Allow implements Store.
func (l *Limiter) Allow(tenant, class string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := key(tenant, class)
	live := l.prune(k, now)

	if len(live) >= l.maxRequests {
		// The window frees up when its oldest entry expires.
		retryAfter := live[0].Add(l.window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}

	l.buckets[k] = append(live, now)
	return Decision{Allowed: true, Remaining: l.maxRequests - len(live) - 1}
}

// Peek implements Store.
func (l *Limiter) Peek(tenant, class string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.prune(key(tenant, class), l.now()))
}

// Reset implements Store.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets = make(map[string][]time.Time)
}

// prune drops window-expired entries and returns the live slice.
// Caller must hold l.mu.
func (l *Limiter) prune(k string, now time.Time) []time.Time {
	entries := l.buckets[k]
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(entries) && !entries[i].After(cutoff) {
		i++
	}
	if i > 0 {
		entries = entries[i:]
		if len(entries) == 0 {
			delete(l.buckets, k)
		} else {
			l.buckets[k] = entries
		}
	}
	return entries
}
