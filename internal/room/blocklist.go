package room

import (
	"sync"
	"time"
)

// Blocklist maps room tokens to the instant they become joinable again.
// Entries are evicted lazily on lookup and by Sweep.
type Blocklist struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// NewBlocklist returns an empty Blocklist.
func NewBlocklist() *Blocklist {
	return &Blocklist{entries: make(map[string]time.Time)}
}

// Block marks token as blocked until until.
func (b *Blocklist) Block(token string, until time.Time) {
	b.mu.Lock()
	b.entries[token] = until
	b.mu.Unlock()
}

// Blocked reports whether token is blocked at now and, if so, when it
// unblocks. An entry that has lapsed is removed.
func (b *Blocklist) Blocked(token string, now time.Time) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	until, ok := b.entries[token]
	if !ok {
		return time.Time{}, false
	}
	if !now.Before(until) {
		delete(b.entries, token)
		return time.Time{}, false
	}
	return until, true
}

// Sweep removes every lapsed entry and returns how many were removed.
func (b *Blocklist) Sweep(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for token, until := range b.entries {
		if !now.Before(until) {
			delete(b.entries, token)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, lapsed or not.
func (b *Blocklist) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func (b *Blocklist) snapshot() map[string]time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]time.Time, len(b.entries))
	for token, until := range b.entries {
		out[token] = until
	}
	return out
}
