package session

import (
	"errors"
	"sync"
)

// ErrDuplicateSession is returned when registering an id twice.
var ErrDuplicateSession = errors.New("session: duplicate session id")

// Registry is the process-wide arena of live sessions, owned by the server
// object. Registration and removal are explicit; a session the registry no
// longer holds is gone for joiners even if references linger elsewhere.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register adds a session to the arena.
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.sessions[s.ID]; dup {
		return ErrDuplicateSession
	}
	r.sessions[s.ID] = s
	return nil
}

// Unregister removes a session by id and returns it, or nil.
func (r *Registry) Unregister(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[id]
	delete(r.sessions, id)
	return s
}

// Get returns a session by id, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// List returns every registered session.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
