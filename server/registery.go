package server

import (
	"sort"
	"sync"
)

// SessionRegistry tracks the companion connections that are currently open.
type SessionRegistry struct {
	mu    sync.RWMutex
	store map[string]Client
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{store: make(map[string]Client)}
}

func (r *SessionRegistry) Store(client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store[client.Meta().Id] = client
}

func (r *SessionRegistry) Get(id string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	val, ok := r.store[id]
	return val, ok
}

func (r *SessionRegistry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.store, id)
}

// List returns the open sessions ordered by connection time.
func (r *SessionRegistry) List() []Client {
	r.mu.RLock()
	clients := make([]Client, 0, len(r.store))
	for _, client := range r.store {
		clients = append(clients, client)
	}
	r.mu.RUnlock()

	sort.Slice(clients, func(i, j int) bool {
		return clients[i].Meta().ConnectedAt.Before(clients[j].Meta().ConnectedAt)
	})
	return clients
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.store)
}
