package session

import (
	"errors"
	"sync"
	"time"
)

// ErrTooManySessions is returned when the store is at capacity.
var ErrTooManySessions = errors.New("too many open sessions")

// Store holds live sessions and evicts the ones left idle past the TTL.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	max      int
}

func NewStore(ttl time.Duration, max int) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		max:      max,
	}
}

func (s *Store) Put(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.max > 0 && len(s.sessions) >= s.max {
		return ErrTooManySessions
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *Store) Get(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Cleanup removes sessions idle past the TTL and returns them so the caller
// can close them outside the lock.
func (s *Store) Cleanup() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var evicted []*Session
	for id, sess := range s.sessions {
		if now.Sub(sess.LastUsed()) > s.ttl {
			delete(s.sessions, id)
			evicted = append(evicted, sess)
		}
	}
	return evicted
}

// Drain removes and returns every session.
func (s *Store) Drain() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		out = append(out, sess)
		delete(s.sessions, id)
	}
	return out
}
