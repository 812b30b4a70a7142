// Package ratelimit implements a per-process sliding-window limiter.
// State is in-memory; a multi-node deployment swaps the same interface
// onto a shared store.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultLimit and DefaultWindow guard login and admin mutations.
	DefaultLimit  = 10
	DefaultWindow = time.Minute
)

// Limiter counts events per key over a sliding window. Keys are caller
// chosen, typically "ip:<addr>" and "actor:<uuid>".
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string][]time.Time
}

func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string][]time.Time),
	}
}

// Allow records an attempt under key and reports whether it is within
// the limit. On rejection it returns how long until the oldest counted
// attempt leaves the window.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.windows[key][:0]
	for _, ts := range l.windows[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.limit {
		l.windows[key] = kept
		retry := kept[0].Add(l.window).Sub(now)
		if retry < time.Second {
			retry = time.Second
		}
		return false, retry
	}
	l.windows[key] = append(kept, now)
	return true, 0
}

// AllowAll records one attempt under every key and rejects when any of
// them is over the limit. Used to gate a request on both its source IP
// and its actor.
func (l *Limiter) AllowAll(keys ...string) (bool, time.Duration) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if ok, retry := l.Allow(key); !ok {
			return false, retry
		}
	}
	return true, 0
}

// Prune drops keys with no attempts inside the window. Callers run it
// periodically; Allow already prunes the keys it touches.
func (l *Limiter) Prune() {
	cutoff := l.now().Add(-l.window)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, stamps := range l.windows {
		live := false
		for _, ts := range stamps {
			if ts.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.windows, key)
		}
	}
}
