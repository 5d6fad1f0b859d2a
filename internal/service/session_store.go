package service

import (
	"sync"
	"time"

	"github.com/BabyBlinkFeelDark/telebot2exl/internal/domain"
)

// SessionStore holds sessions in memory for the life of the process. Field
// mutation happens under the chat's KeyedQueue slot, not under mu.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[int64]*domain.Session
	now      func() time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: map[int64]*domain.Session{}, now: time.Now}
}

// Get returns the session for chatID, creating it on first use.
func (s *SessionStore) Get(chatID int64, userID int64) *domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[chatID]
	if !ok {
		sess = &domain.Session{ID: chatID, UserID: userID, State: domain.StateIdle, UpdatedAt: s.now()}
		s.sessions[chatID] = sess
	}
	return sess
}

// Snapshot returns a copy of the session. Only safe once the chat's queue is
// idle.
func (s *SessionStore) Snapshot(chatID int64) (domain.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[chatID]
	if !ok {
		return domain.Session{}, false
	}
	return *sess, true
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
