// Package ratelimit implements a fixed-window event counter keyed by
// connection id that protects rooms from message floods.
package ratelimit

import (
	"sync"
	"time"
)

// Default window parameters: ten events per second per connection.
const (
	DefaultLimit  = 10
	DefaultWindow = time.Second
)

type window struct {
	start time.Time
	count int
}

// Limiter counts accepted events per key inside a fixed window. A window is
// reset lazily by the first event that arrives after it has aged past the
// window length, so no background sweep is needed for correctness.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration
}

// New creates a Limiter allowing limit events per period. Non-positive values
// fall back to the defaults.
func New(limit int, period time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if period <= 0 {
		period = DefaultWindow
	}

	return &Limiter{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
	}
}

// Allow records an event for key at now and reports whether it fits in the
// current window. Rejected events are not counted.
func (l *Limiter) Allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[key]
	if w == nil || now.Sub(w.start) > l.period {
		w = &window{start: now}
		l.windows[key] = w
	}

	if w.count >= l.limit {
		return false
	}

	w.count++
	return true
}

// Forget drops the window for key. Called when a connection goes away.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	delete(l.windows, key)
	l.mu.Unlock()
}

// Sweep removes windows that have been idle for longer than idle and returns
// how many were reclaimed.
func (l *Limiter) Sweep(now time.Time, idle time.Duration) int {
	if idle < l.period {
		idle = l.period
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		if now.Sub(w.start) > idle {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Limit returns the configured number of events per window.
func (l *Limiter) Limit() int { return l.limit }

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.period }
