// Package hub tracks live connections per user. A user's room is the set of
// connections authenticated as that user.
package hub

import (
	"sync"

	"github.com/nexus-im/ghost/internal/metrics"
)

// Conn is one live connection bound to a single user for its lifetime.
type Conn interface {
	ID() string
	UserID() string
	// Send enqueues payload without blocking. It reports false when the
	// connection is closed or its buffer is full.
	Send(payload []byte) bool
}

// Registry maps user IDs to their open connections.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Conn
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]map[string]Conn)}
}

// Join adds conn to the room of its user.
func (r *Registry) Join(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[conn.UserID()]
	if !ok {
		room = make(map[string]Conn)
		r.rooms[conn.UserID()] = room
	}
	if _, dup := room[conn.ID()]; !dup {
		metrics.ConnectionsActive.Inc()
	}
	room[conn.ID()] = conn
}

// Leave removes conn. It is safe to call more than once.
func (r *Registry) Leave(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[conn.UserID()]
	if !ok {
		return
	}
	if _, ok := room[conn.ID()]; !ok {
		return
	}
	delete(room, conn.ID())
	metrics.ConnectionsActive.Dec()
	if len(room) == 0 {
		delete(r.rooms, conn.UserID())
	}
}

// MembersOf returns a snapshot of the connections of userID.
func (r *Registry) MembersOf(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[userID]
	out := make([]Conn, 0, len(room))
	for _, c := range room {
		out = append(out, c)
	}
	return out
}

// Online reports whether userID has at least one open connection.
func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[userID]) > 0
}

// Count returns the number of open connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, room := range r.rooms {
		n += len(room)
	}
	return n
}
