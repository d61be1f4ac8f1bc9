package network

import (
	"fmt"
	"sort"
	"sync"
)

// DuplicateUserError is returned by Register when the name is already online
type DuplicateUserError struct {
	Username string
}

func (e *DuplicateUserError) Error() string {
	return fmt.Sprintf("user %q is already connected", e.Username)
}

// Registry maps online usernames to their sessions
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Register adds a session under username
func (r *Registry) Register(username string, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[username]; exists {
		return &DuplicateUserError{Username: username}
	}
	r.sessions[username] = s
	return nil
}

// Unregister removes username. Removing an absent name is a no-op.
func (r *Registry) Unregister(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[username]; !exists {
		return false
	}
	delete(r.sessions, username)
	return true
}

// UnregisterSession removes username only while it still maps to s
func (r *Registry) UnregisterSession(username string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, exists := r.sessions[username]; !exists || current != s {
		return false
	}
	delete(r.sessions, username)
	return true
}

// Lookup returns the session registered under username
func (r *Registry) Lookup(username string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[username]
	return s, ok
}

// SnapshotOthers returns a sorted copy of every online name except excluding
func (r *Registry) SnapshotOthers(excluding string) []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		if name != excluding {
			names = append(names, name)
		}
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// SessionsExcept returns the sessions online right now, minus excluding.
// Callers do their I/O on the returned slice after the lock is released.
func (r *Registry) SessionsExcept(excluding string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for name, s := range r.sessions {
		if name != excluding {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Usernames returns every online name, sorted
func (r *Registry) Usernames() []string {
	return r.SnapshotOthers("")
}
