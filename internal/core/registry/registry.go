// Package registry keeps the set of live client connections.
package registry

import (
	"sync"
)

// Client is anything with a stable identity.
type Client interface {
	ID() string
}

// Registry is a mutex-guarded set of clients keyed by ID. It is safe for use
// from the accept path and any number of connection goroutines.
type Registry[C Client] struct {
	mu      sync.Mutex
	clients map[string]C
}

func New[C Client]() *Registry[C] {
	return &Registry[C]{clients: make(map[string]C)}
}

// Add inserts c, replacing any client with the same ID.
func (r *Registry[C]) Add(c C) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ID()] = c
}

// Remove deletes c and reports whether it was present.
func (r *Registry[C]) Remove(c C) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := c.ID()
	if _, ok := r.clients[id]; !ok {
		return false
	}
	delete(r.clients, id)
	return true
}

// Enumerate returns a snapshot of the registered clients in no particular
// order.
func (r *Registry[C]) Enumerate() []C {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]C, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Clear removes every client and returns what was removed.
func (r *Registry[C]) Clear() []C {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]C, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	r.clients = make(map[string]C)
	return out
}

func (r *Registry[C]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
