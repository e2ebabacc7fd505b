// Package jobquota provides concurrent-slot plus per-minute enqueue
// admission control keyed by (tenant, queue). Like the rate limiter it is
// process-local and database-independent; the Quota interface is the stable
// contract when swapping in a shared backend.
package jobquota

import (
	"sync"
	"time"
)

// Denial reasons.
const (
	DenyMaxConcurrent = "MAX_CONCURRENT"
	DenyEnqueueRate   = "ENQUEUE_RATE"
)

// Decision is the outcome of one acquire attempt.
type Decision struct {
	Allowed bool
	Reason  string // empty when allowed
}

// Quota is the admission contract for background job enqueues.
type Quota interface {
	// Acquire takes one concurrent slot and one enqueue-rate token for
	// (tenant, queue). The slot must be released with Release.
	Acquire(tenant, queue string) Decision
	// Release returns a concurrent slot. Releasing below zero is clamped.
	Release(tenant, queue string)
	// Peek reports the currently held slot count.
	Peek(tenant, queue string) int
	// Reset clears all state. Test-only.
	Reset()
}

// Limiter is the process-local Quota implementation.
type Limiter struct {
	maxConcurrent int
	maxPerMinute  int
	now           func() time.Time

	mu       sync.Mutex
	held     map[string]int
	enqueues map[string][]time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source. Test-only.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter with the given ceilings. maxPerMinute <= 0 disables
// the enqueue-rate check.
func New(maxConcurrent, maxPerMinute int, opts ...Option) *Limiter {
	l := &Limiter{
		maxConcurrent: maxConcurrent,
		maxPerMinute:  maxPerMinute,
		now:           time.Now,
		held:          make(map[string]int),
		enqueues:      make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func key(tenant, queue string) string {
	return tenant + "\x00" + queue
}

// Acquire implements Quota.
func (l *Limiter) Acquire(tenant, queue string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key(tenant, queue)
	if l.held[k] >= l.maxConcurrent {
		return Decision{Allowed: false, Reason: DenyMaxConcurrent}
	}

	if l.maxPerMinute > 0 {
		now := l.now()
		cutoff := now.Add(-time.Minute)
		live := l.enqueues[k]
		i := 0
		for i < len(live) && !live[i].After(cutoff) {
			i++
		}
		live = live[i:]
		if len(live) >= l.maxPerMinute {
			l.enqueues[k] = live
			return Decision{Allowed: false, Reason: DenyEnqueueRate}
		}
		l.enqueues[k] = append(live, now)
	}

	l.held[k]++
	return Decision{Allowed: true}
}

// Release implements Quota.
func (l *Limiter) Release(tenant, queue string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key(tenant, queue)
	if l.held[k] > 0 {
		l.held[k]--
	}
	if l.held[k] == 0 {
		delete(l.held, k)
	}
}

// Peek implements Quota.
func (l *Limiter) Peek(tenant, queue string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key(tenant, queue)]
}

// Reset implements Quota.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = make(map[string]int)
	l.enqueues = make(map[string][]time.Time)
}
