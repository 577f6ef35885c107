package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"proctor-engine/internal/app"
	"proctor-engine/internal/config"
)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Controllers own goroutines, timers and the lockdown token, so they stay in a local map; Redis
// carries a liveness marker per session that other instances (and operators) can see.
type SessionStore struct {
	client *redis.Client
	keys   config.Keys
	ttl    time.Duration
	log    zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*app.Controller
}

func NewSessionStore(client *redis.Client, keys config.Keys, ttl time.Duration, log zerolog.Logger) *SessionStore {
	return &SessionStore{
		client:   client,
		keys:     keys,
		ttl:      ttl,
		log:      log.With().Str("component", "redis_sessions").Logger(),
		sessions: make(map[string]*app.Controller),
	}
}

func (s *SessionStore) Put(ctx context.Context, c *app.Controller) {
	s.mu.Lock()
	s.sessions[c.ID()] = c
	s.mu.Unlock()
	// best-effort liveness marker
	if err := s.client.Set(ctx, s.keys.SessionLiveness(c.ID()), string(c.Type()), s.ttl).Err(); err != nil {
		s.log.Warn().Err(err).Str("session", c.ID()).Msg("mark session live")
	}
}

func (s *SessionStore) Get(_ context.Context, id string) (*app.Controller, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.sessions[id]
	return c, ok
}

func (s *SessionStore) Delete(ctx context.Context, id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	if err := s.client.Del(ctx, s.keys.SessionLiveness(id)).Err(); err != nil {
		s.log.Warn().Err(err).Str("session", id).Msg("clear session liveness")
	}
}

// Touch extends the liveness marker of a session that is still in use.
func (s *SessionStore) Touch(ctx context.Context, id string) error {
	return s.client.Expire(ctx, s.keys.SessionLiveness(id), s.ttl).Err()
}

// KeepAlive refreshes the liveness marker of every local session until ctx is done.
func (s *SessionStore) KeepAlive(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			ids := make([]string, 0, len(s.sessions))
			for id := range s.sessions {
				ids = append(ids, id)
			}
			s.mu.RUnlock()
			for _, id := range ids {
				if err := s.Touch(ctx, id); err != nil {
					s.log.Warn().Err(err).Str("session", id).Msg("refresh session liveness")
				}
			}
		}
	}
}
