package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	// ErrUnavailable means the authority could not answer at all.
	ErrUnavailable = errors.New("session authority unavailable")
)

// Session is a browser session issued by the login flow.
type Session struct {
	ID        string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Avatar    string    `json:"avatar,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Authority resolves session identifiers to sessions.
type Authority interface {
	Lookup(ctx context.Context, sessionID string) (Session, error)
}

type Repository interface {
	LoadAll() ([]Session, error)
	Upsert(session Session) error
	Remove(sessionID string) error
}

// Service is an in-memory session authority backed by an optional repository.
type Service struct {
	mu       sync.RWMutex
	repo     Repository
	sessions map[string]Session
	now      func() time.Time
}

func NewWithRepo(repo Repository, initial []Session) (*Service, error) {
	s := &Service{repo: repo, sessions: make(map[string]Session), now: time.Now}
	// preload from repo
	if repo != nil {
		sessions, err := repo.LoadAll()
		if err != nil {
			return nil, err
		}
		for _, sess := range sessions {
			s.sessions[sess.ID] = sess
		}
	}
	for _, sess := range initial {
		if _, ok := s.sessions[sess.ID]; !ok {
			s.sessions[sess.ID] = sess
		}
	}
	return s, nil
}

// Lookup returns the live session for id. Expired sessions are dropped.
func (s *Service) Lookup(_ context.Context, sessionID string) (Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if sess.Expired(s.now()) {
		_ = s.Remove(sessionID)
		return Session{}, ErrSessionExpired
	}
	return sess, nil
}

func (s *Service) Upsert(session Session) error {
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	if s.repo != nil {
		return s.repo.Upsert(session)
	}
	return nil
}

func (s *Service) Remove(sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if s.repo != nil {
		return s.repo.Remove(sessionID)
	}
	return nil
}

func (s *Service) List() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}
