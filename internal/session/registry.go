package session

import "sync"

// BuildFunc constructs a coordinator for a session id and starts whatever
// background work it needs (the caller's reconciler loops).
type BuildFunc func(id string) *Coordinator

// Registry hands out coordinator instances keyed by session id. The server
// runs a single default session today; the registry is the seam for the
// multi-session extension, replacing any ambient global lobby.
type Registry struct {
	mu       sync.Mutex
	build    BuildFunc
	sessions map[string]*Coordinator
}

func NewRegistry(build BuildFunc) *Registry {
	return &Registry{
		build:    build,
		sessions: make(map[string]*Coordinator),
	}
}

// Ensure returns the coordinator for id, creating it on first use.
func (r *Registry) Ensure(id string) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.sessions[id]; ok {
		return c
	}
	c := r.build(id)
	r.sessions[id] = c
	return c
}

// Get returns the coordinator for id, if one exists.
func (r *Registry) Get(id string) (*Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sessions[id]
	return c, ok
}

// Remove drops the coordinator for id. Background work owned by the
// builder is stopped by the caller's context, not by the registry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Len reports how many sessions are live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
