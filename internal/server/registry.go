package server

import (
	"sync"

	"github.com/rickgao/trader-chat/internal/chat"
	"github.com/rickgao/trader-chat/internal/metrics"
)

// Registry holds the live sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*chat.Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*chat.Session)}
}

// Create starts and registers a new session.
func (r *Registry) Create() *chat.Session {
	s := chat.NewSession()

	r.mu.Lock()
	r.sessions[s.ID()] = s
	n := len(r.sessions)
	r.mu.Unlock()

	metrics.ActiveSessions.Set(float64(n))
	return s
}

// Get returns the session with id.
func (r *Registry) Get(id string) (*chat.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove closes and forgets the session with id.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()

	if ok {
		s.Close()
		metrics.ActiveSessions.Set(float64(n))
	}
	return ok
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes every session and empties the registry.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*chat.Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	metrics.ActiveSessions.Set(0)
}
