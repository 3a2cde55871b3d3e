package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStateStore keeps pending state tokens in process memory. It is the
// default for the single-process CLI and server.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]time.Time
	now    func() time.Time
}

// NewMemoryStateStore creates an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		states: make(map[string]time.Time),
		now:    time.Now,
	}
}

// SetState registers a state token until expiresAt. Expired tokens left
// behind by abandoned logins are evicted here, so the map stays bounded by
// the number of live login attempts.
func (s *MemoryStateStore) SetState(_ context.Context, state string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for token, exp := range s.states {
		if now.After(exp) {
			delete(s.states, token)
		}
	}
	s.states[state] = expiresAt
	return nil
}

// ConsumeState removes the token and reports whether it was present and
// unexpired. An expired token is treated as absent.
func (s *MemoryStateStore) ConsumeState(_ context.Context, state string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiresAt, ok := s.states[state]
	if !ok {
		return false, nil
	}
	delete(s.states, state)
	if s.now().After(expiresAt) {
		return false, nil
	}
	return true, nil
}
