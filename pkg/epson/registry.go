package epson

import (
	"sort"
	"sync"
)

// Registry maps config entry IDs to their open sessions
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]Session)}
}

// StoreIfAbsent stores s unless entryID already has a session, and reports
// whether it did.
func (r *Registry) StoreIfAbsent(entryID string, s Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[entryID]; ok {
		return false
	}
	r.sessions[entryID] = s
	return true
}

func (r *Registry) Get(entryID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[entryID]
	return s, ok
}

// Delete removes and returns the session for entryID
func (r *Registry) Delete(entryID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[entryID]
	delete(r.sessions, entryID)
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) EntryIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
