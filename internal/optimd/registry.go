// Package optimd hosts optimization sessions behind an HTTP API: a registry
// of live sessions, a runner driving their round loops, and the instrument
// boundary for daemon-run sessions.
package optimd

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adaptive-imaging/optim-core/internal/session"
)

// Record is one registered session.
type Record struct {
	ID        string
	Session   *session.Session
	CreatedAt time.Time
}

// Registry tracks the daemon's sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Record
	order    []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Record),
	}
}

// Add registers a session under a fresh ID.
func (r *Registry) Add(sess *session.Session) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := &Record{
		ID:        uuid.NewString(),
		Session:   sess,
		CreatedAt: time.Now().UTC(),
	}
	r.sessions[rec.ID] = rec
	r.order = append(r.order, rec.ID)
	return rec
}

// Get returns the session with the given ID.
func (r *Registry) Get(id string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.sessions[id]
	return rec, ok
}

// List returns all sessions in creation order.
func (r *Registry) List() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Record, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id])
	}
	return out
}
