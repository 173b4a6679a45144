package room

import (
	"context"
	"sync"
	"time"
)

// State is a phase of a room's lifecycle.
type State int

// Lifecycle states.
const (
	StateActive State = iota
	StateEmptyGrace
	StateBlocked
	StateTimedExpiry
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateEmptyGrace:
		return "empty-grace"
	case StateBlocked:
		return "blocked"
	case StateTimedExpiry:
		return "timed-expiry"
	default:
		return "unknown"
	}
}

// Transition is a scheduled lifecycle change of one room. Its identity is the
// cancellation token: a fired callback only acts if its Transition is still
// the pending one.
type Transition struct {
	Token  string
	State  State
	FireAt time.Time

	timer Timer
}

// Scheduler owns the pending grace transitions, at most one per token.
type Scheduler struct {
	clock Clock

	mu      sync.Mutex
	pending map[string]*Transition
}

// NewScheduler returns a Scheduler driven by clock.
func NewScheduler(clock Clock) *Scheduler {
	return &Scheduler{
		clock:   clock,
		pending: make(map[string]*Transition),
	}
}

// Arm schedules fire to run after d for token, replacing any pending
// transition of that token.
func (s *Scheduler) Arm(token string, d time.Duration, fire func(*Transition)) *Transition {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old := s.pending[token]; old != nil {
		old.timer.Stop()
	}

	tr := &Transition{
		Token:  token,
		State:  StateEmptyGrace,
		FireAt: s.clock.Now().Add(d),
	}
	s.pending[token] = tr
	tr.timer = s.clock.AfterFunc(d, func() { fire(tr) })
	return tr
}

// Cancel drops the pending transition of token. It reports whether one was
// pending; cancelling after the timer fired is a no-op.
func (s *Scheduler) Cancel(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	tr := s.pending[token]
	if tr == nil {
		return false
	}
	delete(s.pending, token)
	tr.timer.Stop()
	return true
}

// Complete claims tr for its fired callback. It returns false when tr was
// cancelled or replaced in the meantime.
func (s *Scheduler) Complete(tr *Transition) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending[tr.Token] != tr {
		return false
	}
	delete(s.pending, tr.Token)
	return true
}

// Pending returns a copy of the pending transition of token.
func (s *Scheduler) Pending(token string) (Transition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tr := s.pending[token]
	if tr == nil {
		return Transition{}, false
	}
	return Transition{Token: tr.Token, State: tr.State, FireAt: tr.FireAt}, true
}

// Stop cancels every pending transition.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for token, tr := range s.pending {
		tr.timer.Stop()
		delete(s.pending, token)
	}
}

const limiterIdle = time.Minute

// Run drives the periodic sweeps until ctx is done: timed room expiry,
// lapsed blocklist entries and idle rate limiter windows.
func (c *Coordinator) Run(ctx context.Context) {
	expiry := time.NewTicker(c.opts.ExpirySweep)
	defer expiry.Stop()
	blocklist := time.NewTicker(c.opts.BlocklistSweep)
	defer blocklist.Stop()
	limiter := time.NewTicker(limiterIdle)
	defer limiter.Stop()

	c.log.Debugf("Lifecycle sweeps running (expiry every %s, blocklist every %s)", c.opts.ExpirySweep, c.opts.BlocklistSweep)

	for {
		select {
		case <-ctx.Done():
			c.sched.Stop()
			c.log.Debug("Lifecycle sweeps stopped")
			return
		case <-expiry.C:
			c.SweepExpired()
		case <-blocklist.C:
			c.SweepBlocklist()
		case <-limiter.C:
			if n := c.limiter.Sweep(c.clock.Now(), limiterIdle); n > 0 {
				c.log.Debugf("Reclaimed %d idle rate limit windows", n)
			}
		}
	}
}

// SweepExpired destroys every timed room whose expiry has passed and returns
// how many were destroyed.
func (c *Coordinator) SweepExpired() int {
	now := c.clock.Now()

	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()

	n := 0
	for _, r := range c.dir.rooms {
		r.mu.Lock()
		if r.expired(now) {
			c.expireLocked(r, now)
			n++
		}
		r.mu.Unlock()
	}
	if n > 0 {
		c.rec.ActiveRooms(len(c.dir.rooms))
	}
	return n
}

// SweepBlocklist evicts lapsed blocklist entries and returns how many were
// evicted.
func (c *Coordinator) SweepBlocklist() int {
	n := c.blocklist.Sweep(c.clock.Now())
	if n > 0 {
		c.log.Debugf("Unblocked %d room tokens", n)
		c.persist()
	}
	return n
}

// graceExpired is the callback of an empty-room grace timer.
func (c *Coordinator) graceExpired(tr *Transition) {
	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()

	r := c.dir.rooms[tr.Token]
	if r == nil {
		c.sched.Complete(tr)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !c.sched.Complete(tr) {
		return
	}
	if len(r.members) > 0 || !r.expiresAt.IsZero() {
		return
	}

	c.destroyLocked(r, c.clock.Now(), "grace")
	c.rec.ActiveRooms(len(c.dir.rooms))
}

// expireLocked tells every member the room expired, disconnects them and
// destroys the room. Must be called with c.dir.mu and r.mu held.
func (c *Coordinator) expireLocked(r *Room, now time.Time) {
	expired := &Event{Type: EventRoomExpired}
	for sid, m := range r.members {
		c.transport.Send(m.ConnID, expired)
		c.transport.Disconnect(m.ConnID)
		c.registry.Remove(m.ConnID)
		c.limiter.Forget(m.ConnID)
		delete(r.members, sid)
	}
	c.sched.Cancel(r.token)
	c.destroyLocked(r, now, "expired")
}

// destroyLocked removes the room, forgets its names and blocks its token.
// Must be called with c.dir.mu and r.mu held.
func (c *Coordinator) destroyLocked(r *Room, now time.Time, reason string) {
	c.dir.remove(r)
	c.usernames.Clear(r.token)
	until := now.Add(c.opts.BlockDuration)
	c.blocklist.Block(r.token, until)
	c.rec.RoomClosed(reason)
	c.persist()
	c.log.Noticef("Room %s destroyed (%s), blocked until %s", short(r.token), reason, until.UTC().Format(time.RFC3339))
}
