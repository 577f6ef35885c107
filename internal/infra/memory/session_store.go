package memory

import (
	"context"
	"sync"

	"proctor-engine/internal/app"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*app.Controller
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*app.Controller)}
}

func (s *SessionStore) Put(_ context.Context, c *app.Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[c.ID()] = c
}

func (s *SessionStore) Get(_ context.Context, id string) (*app.Controller, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.sessions[id]
	return c, ok
}

func (s *SessionStore) Delete(_ context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len returns the number of registered sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
