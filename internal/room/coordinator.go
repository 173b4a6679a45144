// Package room implements the room session coordinator: presence tracking
// across reconnects, entry gating, key-exchange relaying, rate limiting and the
// timed lifecycle of rooms. It never sees plaintext or key material; chat and
// key payloads pass through as opaque JSON.
package room

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/Tyrowin/veilchat/internal/ratelimit"
)

// Default lifecycle parameters.
const (
	DefaultGracePeriod    = 60 * time.Second
	DefaultBlockDuration  = 720 * time.Hour
	DefaultExpirySweep    = 30 * time.Second
	DefaultBlocklistSweep = time.Hour
	DefaultMaxCapacity    = 100
	DefaultMaxDuration    = 7 * 24 * time.Hour
	DefaultMaxImageSize   = 5 << 20
)

const maxSessionIDLen = 128

var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidToken reports whether token is well-formed as a room token.
func ValidToken(token string) bool { return tokenPattern.MatchString(token) }

// Transport delivers events to live connections. Implementations must not
// call back into the Coordinator from any of these methods.
type Transport interface {
	// Send queues ev for connID without blocking and reports whether it was
	// queued.
	Send(connID string, ev *Event) bool
	// Disconnect tears connID down. When it returns the connection is no
	// longer live.
	Disconnect(connID string)
	// IsLive reports whether connID is an open connection.
	IsLive(connID string) bool
}

// Recorder receives analytics. Implementations must not block.
type Recorder interface {
	RoomCreated()
	Joined(returning bool)
	Rejected(code string)
	Relayed(kind string)
	RateLimited()
	RoomClosed(reason string)
	ActiveRooms(n int)
}

type nopRecorder struct{}

func (nopRecorder) RoomCreated()      {}
func (nopRecorder) Joined(bool)       {}
func (nopRecorder) Rejected(string)   {}
func (nopRecorder) Relayed(string)    {}
func (nopRecorder) RateLimited()      {}
func (nopRecorder) RoomClosed(string) {}
func (nopRecorder) ActiveRooms(int)   {}

// Options configures a Coordinator. Zero values take the defaults above.
type Options struct {
	GracePeriod    time.Duration
	BlockDuration  time.Duration
	ExpirySweep    time.Duration
	BlocklistSweep time.Duration
	MaxCapacity    int
	MaxDuration    time.Duration
	MaxImageSize   int

	Clock    Clock
	Limiter  *ratelimit.Limiter
	Recorder Recorder
	Logger   *logging.Logger

	// OnPersist is called, without blocking, whenever persisted state
	// (blocklist or usernames) changed.
	OnPersist func()
}

func (o *Options) setDefaults() {
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.BlockDuration <= 0 {
		o.BlockDuration = DefaultBlockDuration
	}
	if o.ExpirySweep <= 0 {
		o.ExpirySweep = DefaultExpirySweep
	}
	if o.BlocklistSweep <= 0 {
		o.BlocklistSweep = DefaultBlocklistSweep
	}
	if o.MaxCapacity <= 0 {
		o.MaxCapacity = DefaultMaxCapacity
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = DefaultMaxDuration
	}
	if o.MaxImageSize <= 0 {
		o.MaxImageSize = DefaultMaxImageSize
	}
	if o.Clock == nil {
		o.Clock = SystemClock()
	}
	if o.Limiter == nil {
		o.Limiter = ratelimit.New(ratelimit.DefaultLimit, ratelimit.DefaultWindow)
	}
	if o.Recorder == nil {
		o.Recorder = nopRecorder{}
	}
	if o.Logger == nil {
		o.Logger = logging.MustGetLogger("room")
	}
}

// Coordinator is the room session coordinator. The directory and blocklist
// are mutated only by the join/leave paths and the lifecycle scheduler.
type Coordinator struct {
	opts Options

	transport Transport
	dir       *Directory
	blocklist *Blocklist
	usernames *Usernames
	registry  *Registry
	limiter   *ratelimit.Limiter
	sched     *Scheduler
	clock     Clock
	rec       Recorder
	log       *logging.Logger
}

// NewCoordinator returns a Coordinator delivering events through t.
func NewCoordinator(t Transport, opts Options) *Coordinator {
	opts.setDefaults()
	return &Coordinator{
		opts:      opts,
		transport: t,
		dir:       NewDirectory(),
		blocklist: NewBlocklist(),
		usernames: NewUsernames(),
		registry:  NewRegistry(),
		limiter:   opts.Limiter,
		sched:     NewScheduler(opts.Clock),
		clock:     opts.Clock,
		rec:       opts.Recorder,
		log:       opts.Logger,
	}
}

// Join runs the join sequence for connID. Policy failures are sent to connID
// as join-error and returned as a *JoinError; they leave all state untouched.
func (c *Coordinator) Join(connID string, req JoinRequest) error {
	if !ValidToken(req.RoomToken) {
		return c.reject(connID, &JoinError{Code: CodeInvalidRequest, Message: "invalid room token"})
	}
	if len(req.SessionID) > maxSessionIDLen {
		return c.reject(connID, &JoinError{Code: CodeInvalidRequest, Message: "invalid session id"})
	}
	if req.SessionID == "" {
		req.SessionID = connID
	}
	if _, ok := c.registry.Lookup(connID); ok {
		return c.reject(connID, &JoinError{Code: CodeInvalidRequest, Message: "connection already joined a room"})
	}

	now := c.clock.Now()
	token := req.RoomToken

	c.dir.mu.Lock()
	if until, blocked := c.blocklist.Blocked(token, now); blocked {
		c.dir.mu.Unlock()
		return c.reject(connID, &JoinError{Code: CodeRoomBlocked, UnblockAt: until})
	}

	r, created := c.dir.getOrCreate(token, now)
	r.mu.Lock()
	if !created && r.expired(now) {
		// The sweep has not reached this room yet.
		c.expireLocked(r, now)
		until, _ := c.blocklist.Blocked(token, now)
		c.rec.ActiveRooms(len(c.dir.rooms))
		r.mu.Unlock()
		c.dir.mu.Unlock()
		return c.reject(connID, &JoinError{Code: CodeRoomBlocked, UnblockAt: until})
	}
	if created {
		if err := r.configure(req.RoomConfig, req.Password, now, Limits{
			MaxCapacity: c.opts.MaxCapacity,
			MaxDuration: c.opts.MaxDuration,
		}); err != nil {
			c.dir.remove(r)
			r.mu.Unlock()
			c.dir.mu.Unlock()
			c.log.Errorf("Failed to configure room %s: %v", short(token), err)
			return fmt.Errorf("room: configure: %w", err)
		}
		if r.password != nil && !r.password.matches(suppliedPassword(req, true)) {
			// The room is only committed once its creator is admitted.
			c.dir.remove(r)
			r.mu.Unlock()
			c.dir.mu.Unlock()
			return c.reject(connID, &JoinError{Code: CodeWrongPassword})
		}
		c.rec.RoomCreated()
		c.rec.ActiveRooms(len(c.dir.rooms))
		c.log.Infof("Room %s created (password=%v maxUsers=%d timed=%v)",
			short(token), r.password != nil, r.maxOccupancy, !r.expiresAt.IsZero())
	}
	c.dir.mu.Unlock()
	defer r.mu.Unlock()

	if !created && r.password != nil && !r.password.matches(suppliedPassword(req, false)) {
		return c.reject(connID, &JoinError{Code: CodeWrongPassword})
	}

	existing, returning := r.members[req.SessionID]
	if !returning && r.maxOccupancy > 0 && len(r.members) >= r.maxOccupancy {
		return c.reject(connID, &JoinError{Code: CodeRoomFull})
	}

	var username string
	if returning {
		c.reconnect(r, existing, connID)
		username = existing.Username
	} else {
		username = c.admit(r, req.SessionID, connID)
	}

	if c.sched.Cancel(token) {
		c.log.Debugf("Room %s reactivated before grace period ended", short(token))
	}

	c.registry.Add(connID, Binding{Token: token, SessionID: req.SessionID})
	c.rec.Joined(returning)
	c.log.Infof("Session joined room %s as %q (%d present)", short(token), username, len(r.members))

	c.transport.Send(connID, &Event{Type: EventJoinSuccess, Data: &JoinSuccess{Username: username}})
	c.transport.Send(connID, &Event{Type: EventExistingUsers, Data: c.liveConnections(r, connID)})
	c.broadcast(r, connID, &Event{Type: EventSystemMessage, Data: &SystemMessage{Key: KeyUserJoined, Username: username}})
	c.broadcast(r, "", r.update())
	return nil
}

// suppliedPassword is the password a join request offers. The creator may
// give it in its room config only.
func suppliedPassword(req JoinRequest, creating bool) string {
	if creating && req.Password == "" && req.RoomConfig != nil {
		return req.RoomConfig.Password
	}
	return req.Password
}

// reconnect moves a seated session onto connID. A still-live previous
// connection is torn down first, so the session never has two live
// connections.
func (c *Coordinator) reconnect(r *Room, m *Member, connID string) {
	old := m.ConnID
	if c.transport.IsLive(old) {
		c.transport.Disconnect(old)
		c.log.Noticef("Evicted stale connection of a session in room %s", short(r.token))
	}
	c.registry.Remove(old)
	c.limiter.Forget(old)
	m.ConnID = connID
}

// admit seats a new session and returns its display name.
func (c *Coordinator) admit(r *Room, sessionID, connID string) string {
	name, ok := c.usernames.Get(r.token, sessionID)
	if !ok || r.nameTaken(name, sessionID) {
		for {
			r.userCounter++
			name = fmt.Sprintf("User %d", r.userCounter)
			if !r.nameTaken(name, sessionID) {
				break
			}
		}
	}

	r.members[sessionID] = &Member{Username: name, SessionID: sessionID, ConnID: connID}
	c.usernames.Put(r.token, sessionID, name)
	c.persist()
	return name
}

// Leave handles the disconnect of connID. A connection that was superseded
// or never joined is ignored.
func (c *Coordinator) Leave(connID string) {
	c.limiter.Forget(connID)
	b, ok := c.registry.Remove(connID)
	if !ok {
		return
	}

	r := c.dir.lock(b.Token)
	if r == nil {
		return
	}
	defer r.mu.Unlock()

	m := r.members[b.SessionID]
	if m == nil || m.ConnID != connID {
		return
	}
	delete(r.members, b.SessionID)
	c.log.Infof("Session %q left room %s (%d present)", m.Username, short(r.token), len(r.members))

	c.broadcast(r, "", &Event{Type: EventSystemMessage, Data: &SystemMessage{Key: KeyUserLeft, Username: m.Username}})
	c.broadcast(r, "", r.update())

	if len(r.members) == 0 && r.expiresAt.IsZero() {
		tr := c.sched.Arm(r.token, c.opts.GracePeriod, c.graceExpired)
		c.log.Debugf("Room %s empty, grace period ends at %s", short(r.token), tr.FireAt.UTC().Format(time.RFC3339))
	}
}

func (c *Coordinator) reject(connID string, err *JoinError) error {
	f := &JoinFailure{Code: err.Code, Message: err.Message}
	if !err.UnblockAt.IsZero() {
		f.UnblockAt = unixMillis(err.UnblockAt.UnixMilli())
	}
	c.transport.Send(connID, &Event{Type: EventJoinError, Data: f})
	c.rec.Rejected(string(err.Code))
	c.log.Debugf("Join rejected: %v", err)
	return err
}

// broadcast sends ev to every member of r except the connection skip. Must
// be called with r.mu held.
func (c *Coordinator) broadcast(r *Room, skip string, ev *Event) {
	for _, m := range r.members {
		if m.ConnID == skip {
			continue
		}
		c.transport.Send(m.ConnID, ev)
	}
}

// liveConnections lists the live connections of r other than self.
func (c *Coordinator) liveConnections(r *Room, self string) []string {
	ids := make([]string, 0, len(r.members))
	for _, m := range r.members {
		if m.ConnID != self && c.transport.IsLive(m.ConnID) {
			ids = append(ids, m.ConnID)
		}
	}
	return ids
}

func (c *Coordinator) persist() {
	if c.opts.OnPersist != nil {
		c.opts.OnPersist()
	}
}

// Room returns a copy of the state of token's room.
func (c *Coordinator) Room(token string) (View, bool) {
	r := c.dir.lock(token)
	if r == nil {
		return View{}, false
	}
	defer r.mu.Unlock()
	return r.view(), true
}

// RoomCount returns the number of rooms in memory.
func (c *Coordinator) RoomCount() int { return c.dir.Len() }

// BlockedUntil reports whether token is currently blocked.
func (c *Coordinator) BlockedUntil(token string) (time.Time, bool) {
	return c.blocklist.Blocked(token, c.clock.Now())
}

// GracePending returns the pending grace transition of token.
func (c *Coordinator) GracePending(token string) (Transition, bool) {
	return c.sched.Pending(token)
}

// Binding returns what connID currently represents.
func (c *Coordinator) Binding(connID string) (Binding, bool) {
	return c.registry.Lookup(connID)
}

// IsPolicyRejection reports whether err is a join refusal rather than an
// internal failure.
func IsPolicyRejection(err error) bool {
	var je *JoinError
	return errors.As(err, &je)
}

// short trims a room token for logs so they never contain a full room link.
func short(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "…"
}
