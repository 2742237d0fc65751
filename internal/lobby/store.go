package lobby

import (
	"sync"

	"github.com/pbellew/quizlive/internal/quizerr"
)

// Store holds active lobbies in memory, keyed by code. Every mutation runs
// through With, which serializes access per code while letting different
// codes proceed fully in parallel.
type Store struct {
	mu      sync.Mutex
	lobbies map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	lobby   *Lobby
	removed bool
}

func NewStore() *Store {
	return &Store{lobbies: make(map[string]*entry)}
}

// Put registers a new lobby. Returns false if the code is already taken.
func (s *Store) Put(l *Lobby) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.lobbies[l.Code]; exists {
		return false
	}
	s.lobbies[l.Code] = &entry{lobby: l}
	return true
}

// With runs fn inside the code's critical section. A concurrent teardown
// that wins the lock makes this a NotFound, the same as an unknown code.
func (s *Store) With(code string, fn func(*Lobby) error) error {
	s.mu.Lock()
	e, ok := s.lobbies[code]
	s.mu.Unlock()
	if !ok {
		return quizerr.NotFound("lobby %s not found", code)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return quizerr.NotFound("lobby %s not found", code)
	}
	return fn(e.lobby)
}

// Delete tears the code down. Safe to call for unknown codes.
func (s *Store) Delete(code string) {
	s.mu.Lock()
	e, ok := s.lobbies[code]
	if ok {
		delete(s.lobbies, code)
	}
	s.mu.Unlock()

	if ok {
		e.mu.Lock()
		e.removed = true
		e.mu.Unlock()
	}
}

// Codes lists active lobby codes.
func (s *Store) Codes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.lobbies))
	for code := range s.lobbies {
		out = append(out, code)
	}
	return out
}
