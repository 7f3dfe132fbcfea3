// Package client glues the engine together: the session registry, the
// engine loop that drives connection and timer events, the script bridge,
// the slash command table and the metrics surface.
package client

import (
	"sync"

	"github.com/mudpuppy/mudpuppy/pkg/session"
)

// Registry owns every session in the process. Session IDs are assigned from
// a monotone counter and never reused within a process lifetime.
type Registry struct {
	mu       sync.Mutex
	sessions map[int]*session.Session
	order    []int
	nextID   int
	active   int // focused session, 0 = none
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: map[int]*session.Session{}, nextID: 1}
}

// NextID reserves the next session ID.
func (r *Registry) NextID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	return id
}

// Add registers a session. The first session added becomes focused.
func (r *Registry) Add(s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	r.order = append(r.order, s.ID)
	if r.active == 0 {
		r.active = s.ID
	}
}

// Get returns a session by ID.
func (r *Registry) Get(id int) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove destroys a session. If it was focused, focus moves to the first
// remaining session in creation order.
func (r *Registry) Remove(id int) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)
	for i, sid := range r.order {
		if sid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.active == id {
		r.active = 0
		if len(r.order) > 0 {
			r.active = r.order[0]
		}
	}
	return s, true
}

// Sessions returns all sessions in creation order.
func (r *Registry) Sessions() []*session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*session.Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id])
	}
	return out
}

// IDs returns all session IDs in creation order.
func (r *Registry) IDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.order))
	copy(out, r.order)
	return out
}

// Active returns the focused session ID, if any.
func (r *Registry) Active() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, r.active != 0
}

// SetActive focuses a session.
func (r *Registry) SetActive(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return &session.NotFoundError{Kind: "session", ID: id}
	}
	r.active = id
	return nil
}

// Cycle moves focus forward (dir > 0) or back (dir < 0) through the
// creation order.
func (r *Registry) Cycle(dir int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) == 0 {
		return
	}
	idx := 0
	for i, id := range r.order {
		if id == r.active {
			idx = i
			break
		}
	}
	idx = (idx + dir + len(r.order)) % len(r.order)
	r.active = r.order[idx]
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
