package room

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logpkg "github.com/Tyrowin/veilchat/internal/log"
)

// manualClock only moves when Advance is called. Timers fire from Advance,
// outside the clock lock, in deadline order.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	f       func()
	done    bool
	stopped bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.done && !t.stopped && !t.at.After(c.now) {
			t.done = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// memTransport records every event per connection.
type memTransport struct {
	mu           sync.Mutex
	live         map[string]bool
	sent         map[string][]*Event
	disconnected map[string]int
}

func newMemTransport() *memTransport {
	return &memTransport{
		live:         make(map[string]bool),
		sent:         make(map[string][]*Event),
		disconnected: make(map[string]int),
	}
}

func (m *memTransport) connect(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.live[id] = true
	}
}

func (m *memTransport) drop(id string) {
	m.mu.Lock()
	delete(m.live, id)
	m.mu.Unlock()
}

func (m *memTransport) Send(id string, ev *Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.live[id] {
		return false
	}
	m.sent[id] = append(m.sent[id], ev)
	return true
}

func (m *memTransport) Disconnect(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live[id] {
		delete(m.live, id)
		m.disconnected[id]++
	}
}

func (m *memTransport) IsLive(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live[id]
}

func (m *memTransport) events(id, typ string) []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Event
	for _, ev := range m.sent[id] {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (m *memTransport) last(t *testing.T, id, typ string) *Event {
	t.Helper()
	evs := m.events(id, typ)
	require.NotEmpty(t, evs, "no %s event for %s", typ, id)
	return evs[len(evs)-1]
}

func (m *memTransport) wasDisconnected(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnected[id] > 0
}

func (m *memTransport) reset() {
	m.mu.Lock()
	m.sent = make(map[string][]*Event)
	m.mu.Unlock()
}

type harness struct {
	c     *Coordinator
	tr    *memTransport
	clock *manualClock
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{tr: newMemTransport(), clock: newManualClock()}
	opts.Clock = h.clock
	opts.Logger = logpkg.Discard().GetLogger("room")
	h.c = NewCoordinator(h.tr, opts)
	return h
}

// join connects connID and joins it to token as sessionID.
func (h *harness) join(t *testing.T, connID, token, sessionID string) error {
	t.Helper()
	h.tr.connect(connID)
	return h.c.Join(connID, JoinRequest{RoomToken: token, SessionID: sessionID})
}

// disconnect simulates the transport dropping connID.
func (h *harness) disconnect(connID string) {
	h.tr.drop(connID)
	h.c.Leave(connID)
}

func username(t *testing.T, ev *Event) string {
	t.Helper()
	js, ok := ev.Data.(*JoinSuccess)
	require.True(t, ok)
	return js.Username
}
