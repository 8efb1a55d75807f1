// Package session tracks which live connection each authenticated user is on.
package session

import "sync"

// Registry maps users to their live connection and back. Binding is
// last-writer-wins per user: a new connection supersedes the previous one.
type Registry struct {
	mu     sync.Mutex
	byUser map[string]string
	byConn map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]string),
		byConn: make(map[string]string),
	}
}

// Bind records that userID is live on connID. A stale binding of connID to
// another user is dropped first, and the user's superseded connection loses
// its reverse entry. It returns the superseded connection, if any.
func (r *Registry) Bind(userID, connID string) (superseded string) {
	if userID == "" || connID == "" {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if previousUser, ok := r.byConn[connID]; ok && previousUser != userID {
		if r.byUser[previousUser] == connID {
			delete(r.byUser, previousUser)
		}
	}
	if previousConn, ok := r.byUser[userID]; ok && previousConn != connID {
		delete(r.byConn, previousConn)
		superseded = previousConn
	}
	r.byUser[userID] = connID
	r.byConn[connID] = userID
	return superseded
}

// Unbind forgets connID. The user's forward entry is removed only while it
// still points at connID, so a disconnect of a superseded connection cannot
// evict the newer one. Unknown connections are a no-op.
func (r *Registry) Unbind(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[connID]
	if !ok {
		return
	}
	delete(r.byConn, connID)
	if r.byUser[userID] == connID {
		delete(r.byUser, userID)
	}
}

// ConnectionOf returns the live connection of userID.
func (r *Registry) ConnectionOf(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	connID, ok := r.byUser[userID]
	return connID, ok
}

// UserOf returns the user bound to connID.
func (r *Registry) UserOf(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userID, ok := r.byConn[connID]
	return userID, ok
}

// Online returns the number of users with a live connection.
func (r *Registry) Online() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser)
}
