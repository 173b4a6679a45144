package room

import (
	"sort"
	"sync"
	"time"
)

// Member is one session seated in a room.
type Member struct {
	Username  string
	SessionID string
	// ConnID is the connection currently representing the session. It is
	// reassigned when the session reconnects.
	ConnID string
}

// Room is the state of one active room token. All fields are guarded by mu;
// config fields are written once, at creation.
type Room struct {
	mu sync.Mutex

	token       string
	createdAt   time.Time
	userCounter int
	members     map[string]*Member

	password     *passwordDigest
	maxOccupancy int
	expiresAt    time.Time

	// closed is set once the room has been removed from the directory.
	closed bool
}

func newRoom(token string, now time.Time) *Room {
	return &Room{
		token:     token,
		createdAt: now,
		members:   make(map[string]*Member),
	}
}

// Limits bound what a room creator may ask for.
type Limits struct {
	MaxCapacity int
	MaxDuration time.Duration
}

// configure applies the creator's config. fallbackPassword is the password of
// the join request itself and is used when the config names none.
func (r *Room) configure(cfg *RoomConfig, fallbackPassword string, now time.Time, lim Limits) error {
	if cfg == nil {
		return nil
	}

	password := cfg.Password
	if password == "" {
		password = fallbackPassword
	}
	if password != "" {
		d, err := newPasswordDigest(password)
		if err != nil {
			return err
		}
		r.password = d
	}

	if cfg.MaxUsers > 0 {
		r.maxOccupancy = cfg.MaxUsers
		if lim.MaxCapacity > 0 && r.maxOccupancy > lim.MaxCapacity {
			r.maxOccupancy = lim.MaxCapacity
		}
	}

	if cfg.Duration > 0 {
		d := time.Duration(cfg.Duration) * time.Minute
		if lim.MaxDuration > 0 && d > lim.MaxDuration {
			d = lim.MaxDuration
		}
		r.expiresAt = now.Add(d)
	}
	return nil
}

func (r *Room) expired(now time.Time) bool {
	return !r.expiresAt.IsZero() && !now.Before(r.expiresAt)
}

// nameTaken reports whether a member other than sessionID uses name.
func (r *Room) nameTaken(name, sessionID string) bool {
	key := nameKey(name)
	for sid, m := range r.members {
		if sid != sessionID && nameKey(m.Username) == key {
			return true
		}
	}
	return false
}

func (r *Room) usernames() []string {
	names := make([]string, 0, len(r.members))
	for _, m := range r.members {
		names = append(names, m.Username)
	}
	sort.Strings(names)
	return names
}

func (r *Room) update() *Event {
	u := &RoomUpdate{
		Count:       len(r.members),
		Users:       r.usernames(),
		HasPassword: r.password != nil,
	}
	if r.maxOccupancy > 0 {
		n := r.maxOccupancy
		u.MaxUsers = &n
	}
	if !r.expiresAt.IsZero() {
		u.ExpiresAt = unixMillis(r.expiresAt.UnixMilli())
	}
	return &Event{Type: EventRoomUpdate, Data: u}
}

// View is a read-only copy of a room's state.
type View struct {
	Token        string
	CreatedAt    time.Time
	UserCounter  int
	Members      map[string]Member
	HasPassword  bool
	MaxOccupancy int
	ExpiresAt    time.Time
}

func (r *Room) view() View {
	v := View{
		Token:        r.token,
		CreatedAt:    r.createdAt,
		UserCounter:  r.userCounter,
		Members:      make(map[string]Member, len(r.members)),
		HasPassword:  r.password != nil,
		MaxOccupancy: r.maxOccupancy,
		ExpiresAt:    r.expiresAt,
	}
	for sid, m := range r.members {
		v.Members[sid] = *m
	}
	return v
}

// Directory maps room tokens to rooms. Lock order is Directory.mu before
// Room.mu; a room pointer obtained under mu stays valid while its own lock
// is held, and closed tells whether it was removed meanwhile.
type Directory struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

// NewDirectory returns an empty Directory.
func NewDirectory() *Directory {
	return &Directory{rooms: make(map[string]*Room)}
}

// getOrCreate must be called with d.mu held.
func (d *Directory) getOrCreate(token string, now time.Time) (*Room, bool) {
	if r, ok := d.rooms[token]; ok {
		return r, false
	}
	r := newRoom(token, now)
	d.rooms[token] = r
	return r, true
}

// remove must be called with d.mu and r.mu held.
func (d *Directory) remove(r *Room) {
	if d.rooms[r.token] == r {
		delete(d.rooms, r.token)
	}
	r.closed = true
}

// lock returns the room for token with its lock held.
func (d *Directory) lock(token string) *Room {
	d.mu.Lock()
	r := d.rooms[token]
	if r == nil {
		d.mu.Unlock()
		return nil
	}
	r.mu.Lock()
	d.mu.Unlock()

	if r.closed {
		r.mu.Unlock()
		return nil
	}
	return r
}

// Len returns the number of rooms.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rooms)
}

// Has reports whether token has a room.
func (d *Directory) Has(token string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.rooms[token]
	return ok
}
