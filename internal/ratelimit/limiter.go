package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	count     int
	resetTime time.Time
}

// Limiter is a per-key fixed-window counter. Bursts straddling a window
// boundary can reach twice the limit.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	limit   int
	window  time.Duration
	now     func() time.Time
}

func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		entries: make(map[string]*entry),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Allow records a request for key and reports whether it is within the limit.
// Rejected requests are not counted.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[key]
	if !ok {
		l.entries[key] = &entry{count: 1, resetTime: now.Add(l.window)}
		return true
	}
	if now.After(e.resetTime) {
		e.count = 1
		e.resetTime = now.Add(l.window)
		return true
	}
	if e.count >= l.limit {
		return false
	}
	e.count++
	return true
}

// RetryAfter is the time left in key's current window.
func (l *Limiter) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		return 0
	}
	if d := e.resetTime.Sub(l.now()); d > 0 {
		return d
	}
	return 0
}

// Purge drops entries whose window ended more than slack ago and returns how
// many were removed.
func (l *Limiter) Purge(slack time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-slack)
	removed := 0
	for key, e := range l.entries {
		if e.resetTime.Before(cutoff) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Global caps the aggregate request rate across all clients.
type Global struct {
	limiter *rate.Limiter
}

// NewGlobal returns nil when rps is not positive; a nil Global allows
// everything.
func NewGlobal(rps float64, burst int) *Global {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Global{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (g *Global) Allow() bool {
	if g == nil {
		return true
	}
	return g.limiter.Allow()
}
