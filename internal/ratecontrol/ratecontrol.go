// Package ratecontrol provides per-key token buckets for the public webhook
// ingest path, where there is no authenticated caller to account against.
package ratecontrol

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter hands out one token bucket per key. Idle entries are evicted so a
// flood of unknown webhook ids cannot grow memory without bound.
type Limiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time // stubbed in tests
}

type entry struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// New builds a limiter allowing rps sustained requests per key with the
// given burst. Entries idle longer than ttl are dropped.
func New(rps float64, burst int, ttl time.Duration) *Limiter {
	return &Limiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		ttl:     ttl,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Allow reports whether a request for key may proceed now.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[key]
	if !ok {
		l.evictIdle(now)
		e = &entry{bucket: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e.bucket.AllowN(now, 1)
}

// evictIdle must be called with the lock held.
func (l *Limiter) evictIdle(now time.Time) {
	for key, e := range l.entries {
		if now.Sub(e.lastSeen) > l.ttl {
			delete(l.entries, key)
		}
	}
}

// Len reports the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
