package memory

import (
	"context"
	"sort"
	"sync"

	"quiz-delivery-service/internal/app"
	"quiz-delivery-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[int64]*app.LiveSession
	owners   map[int64]string
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[int64]*app.LiveSession),
		owners:   make(map[int64]string),
	}
}

func (s *SessionStore) GetOrCreate(resultID int64, create func() *app.LiveSession) *app.LiveSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[resultID]; ok {
		return session
	}
	session := create()
	s.sessions[resultID] = session
	return session
}

func (s *SessionStore) Get(resultID int64) (*app.LiveSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[resultID]
	return session, ok
}

func (s *SessionStore) Delete(resultID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, resultID)
}

// List returns the live sessions ordered by result id.
func (s *SessionStore) List() []*app.LiveSession {
	s.mu.RLock()
	out := make([]*app.LiveSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ResultID() < out[j].ResultID() })
	return out
}

func (s *SessionStore) Lock(_ context.Context, resultID int64, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.owners[resultID]; ok && held != owner {
		return domain.ErrAttemptBusy
	}
	s.owners[resultID] = owner
	return nil
}

func (s *SessionStore) Unlock(_ context.Context, resultID int64, owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owners[resultID] == owner {
		delete(s.owners, resultID)
	}
}
