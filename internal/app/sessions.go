package app

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sessions hands out one Coordinator, with its own state cache, per user.
type Sessions struct {
	mu       sync.Mutex
	deps     Dependencies
	sessions map[string]*session
}

type session struct {
	coordinator *Coordinator
	lastSeen    time.Time
}

func NewSessions(deps Dependencies) *Sessions {
	return &Sessions{
		deps:     deps.withDefaults(),
		sessions: make(map[string]*session),
	}
}

// For returns the user's coordinator, creating it on first use.
func (s *Sessions) For(userID string) *Coordinator {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.deps.Now()
	if existing, ok := s.sessions[userID]; ok {
		existing.lastSeen = now
		return existing.coordinator
	}
	coordinator := NewCoordinator(userID, s.deps)
	s.sessions[userID] = &session{coordinator: coordinator, lastSeen: now}
	s.deps.Metrics.SetSessions(len(s.sessions))
	s.deps.Log.Debug("session opened", zap.String("user_id", userID))
	return coordinator
}

// Drop forgets the user's coordinator and its cache.
func (s *Sessions) Drop(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	s.deps.Metrics.SetSessions(len(s.sessions))
}

// Sweep drops sessions idle for longer than maxIdle and reports how many.
func (s *Sessions) Sweep(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.deps.Now().Add(-maxIdle)
	dropped := 0
	for userID, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			delete(s.sessions, userID)
			dropped++
		}
	}
	s.deps.Metrics.SetSessions(len(s.sessions))
	return dropped
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
