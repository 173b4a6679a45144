package room

import "sync"

// Binding is what a live connection currently represents.
type Binding struct {
	Token     string
	SessionID string
}

// Registry maps connection ids to the room session they represent. It holds
// no policy.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Binding
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Binding)}
}

// Add binds connID to a room session, replacing any previous binding.
func (r *Registry) Add(connID string, b Binding) {
	r.mu.Lock()
	r.conns[connID] = b
	r.mu.Unlock()
}

// Lookup returns the binding of connID.
func (r *Registry) Lookup(connID string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.conns[connID]
	return b, ok
}

// Remove deletes and returns the binding of connID.
func (r *Registry) Remove(connID string) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.conns[connID]
	if ok {
		delete(r.conns, connID)
	}
	return b, ok
}

// Len returns the number of bound connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
