// Package ratelimit implements the fixed-window admission limiter gating
// event intake per sender identity.
package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	start time.Time
	count int
}

// Limiter is a fixed-window counter keyed by identity (user or session per
// configuration). Counters are independent per identity; no cross-identity
// coordination happens.
//
// Contract:
//   - Admit consumes one slot only when it allows; denials never consume
//   - A window resets once its duration fully elapses
//   - Safe for concurrent use
type Limiter struct {
	mu      sync.Mutex
	quota   int
	window  time.Duration
	windows map[string]*window

	// now is swappable for tests.
	now func() time.Time
}

// NewLimiter creates a limiter admitting quota events per window per
// identity. quota <= 0 or window <= 0 disables limiting (everything admits).
func NewLimiter(quota int, windowDur time.Duration) *Limiter {
	return &Limiter{
		quota:   quota,
		window:  windowDur,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Admit reports whether one event from identity may proceed, consuming a
// slot on admission.
func (l *Limiter) Admit(identity string) bool {
	if l.quota <= 0 || l.window <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[identity]
	if !ok || now.Sub(w.start) >= l.window {
		w = &window{start: now}
		l.windows[identity] = w
	}
	if w.count >= l.quota {
		return false
	}
	w.count++
	return true
}

// Remaining returns the unused slots in the identity's current window.
func (l *Limiter) Remaining(identity string) int {
	if l.quota <= 0 || l.window <= 0 {
		return -1 // unlimited
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[identity]
	if !ok || l.now().Sub(w.start) >= l.window {
		return l.quota
	}
	if left := l.quota - w.count; left > 0 {
		return left
	}
	return 0
}

// Prune drops expired windows; call periodically on long-lived processes to
// bound memory.
func (l *Limiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for id, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, id)
		}
	}
}

// SetClock overrides the time source. Intended for tests.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}
