package room

import "sync"

// Usernames remembers the display name of every session of a room so that a
// reconnecting session, even across a server restart, gets its name back. A
// room's names are dropped when the room is destroyed.
type Usernames struct {
	mu    sync.Mutex
	names map[string]map[string]string
}

// NewUsernames returns an empty Usernames table.
func NewUsernames() *Usernames {
	return &Usernames{names: make(map[string]map[string]string)}
}

// Get returns the remembered name of sessionID in token.
func (u *Usernames) Get(token, sessionID string) (string, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	name, ok := u.names[token][sessionID]
	return name, ok
}

// Put remembers name for sessionID in token.
func (u *Usernames) Put(token, sessionID, name string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	byRoom := u.names[token]
	if byRoom == nil {
		byRoom = make(map[string]string)
		u.names[token] = byRoom
	}
	byRoom[sessionID] = name
}

// Clear forgets every name of token.
func (u *Usernames) Clear(token string) {
	u.mu.Lock()
	delete(u.names, token)
	u.mu.Unlock()
}

func (u *Usernames) snapshot() map[string]map[string]string {
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make(map[string]map[string]string, len(u.names))
	for token, byRoom := range u.names {
		cp := make(map[string]string, len(byRoom))
		for sid, name := range byRoom {
			cp[sid] = name
		}
		out[token] = cp
	}
	return out
}
