// Package registry maps live real-time connections to user identities and
// the lobby each is joined to. Each server process holds its own Registry
// instance; cross-instance knowledge travels over the fanout channel, never
// through this table.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pbellew/quizlive/internal/events"
)

// Sink is the outbound side of a connection. Send must not block; it
// reports whether the event was accepted.
type Sink interface {
	Send(ev events.Envelope) bool
}

// Binding ties a connection to a user and, once joined, to a lobby code.
type Binding struct {
	ConnID    string
	UserID    uuid.UUID
	LobbyCode string
	Sink      Sink
	LastSeen  time.Time
}

// Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]*Binding
	byUser map[uuid.UUID]string
}

func New() *Registry {
	return &Registry{
		byConn: make(map[string]*Binding),
		byUser: make(map[uuid.UUID]string),
	}
}

// Register records a new connection. A user reconnecting displaces their
// previous binding.
func (r *Registry) Register(connID string, userID uuid.UUID, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byUser[userID]; ok {
		delete(r.byConn, old)
	}
	r.byConn[connID] = &Binding{
		ConnID:   connID,
		UserID:   userID,
		Sink:     sink,
		LastSeen: time.Now(),
	}
	r.byUser[userID] = connID
}

// BindLobby attaches the connection to a lobby code.
func (r *Registry) BindLobby(connID, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.byConn[connID]; ok {
		b.LobbyCode = code
	}
}

// UnbindLobby detaches the connection from its lobby without releasing it.
func (r *Registry) UnbindLobby(connID string) {
	r.BindLobby(connID, "")
}

// Release drops the connection. Returns the binding that was held, if any.
func (r *Registry) Release(connID string) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byConn[connID]
	if !ok {
		return Binding{}, false
	}
	delete(r.byConn, connID)
	if r.byUser[b.UserID] == connID {
		delete(r.byUser, b.UserID)
	}
	return *b, true
}

// Lookup answers "who is this socket".
func (r *Registry) Lookup(connID string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byConn[connID]
	if !ok {
		return Binding{}, false
	}
	return *b, true
}

// SinkFor answers "how do I reach user X" on this instance.
func (r *Registry) SinkFor(userID uuid.UUID) (Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok := r.byUser[userID]
	if !ok {
		return nil, false
	}
	b, ok := r.byConn[connID]
	if !ok {
		return nil, false
	}
	return b.Sink, true
}

// SinksForLobby returns the local connections joined to the code.
func (r *Registry) SinksForLobby(code string) []Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Sink
	for _, b := range r.byConn {
		if b.LobbyCode == code {
			out = append(out, b.Sink)
		}
	}
	return out
}

// CountForLobby reports how many local connections are joined to the code.
func (r *Registry) CountForLobby(code string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, b := range r.byConn {
		if b.LobbyCode == code {
			n++
		}
	}
	return n
}

// Touch refreshes the connection's liveness clock.
func (r *Registry) Touch(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.byConn[connID]; ok {
		b.LastSeen = time.Now()
	}
}

// Stale returns bindings silent for longer than grace.
func (r *Registry) Stale(grace time.Duration) []Binding {
	cutoff := time.Now().Add(-grace)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Binding
	for _, b := range r.byConn {
		if b.LastSeen.Before(cutoff) {
			out = append(out, *b)
		}
	}
	return out
}
