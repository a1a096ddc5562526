package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store for tests and single-node setups.
// One mutex stands in for the backend's atomicity; both halves of a
// record always change inside the same critical section.
type MemoryStore struct {
	mu      sync.Mutex
	forward map[string]entry // user id -> token
	reverse map[string]entry // token -> user id
	now     func() time.Time
}

type entry struct {
	value     string
	expiresAt time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		forward: make(map[string]entry),
		reverse: make(map[string]entry),
		now:     time.Now,
	}
}

// SetClock overrides the time source, for TTL tests.
func (s *MemoryStore) SetClock(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.now = fn
	}
}

func (s *MemoryStore) Put(ctx context.Context, userID, refreshToken string, ttl time.Duration) error {
	if err := validateArgs(userID, refreshToken, ttl); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(userID, refreshToken, ttl)
	return nil
}

func (s *MemoryStore) Rotate(ctx context.Context, userID, expectedOld, newToken string, ttl time.Duration) error {
	if err := validateArgs(userID, newToken, ttl); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.liveForwardLocked(userID)
	if !ok || cur != expectedOld {
		return ErrNotFound
	}
	delete(s.forward, userID)
	delete(s.reverse, cur)
	s.putLocked(userID, newToken, ttl)
	return nil
}

func (s *MemoryStore) GetTokenForUser(ctx context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.liveForwardLocked(userID)
	if !ok {
		return "", ErrNotFound
	}
	return cur, nil
}

func (s *MemoryStore) GetUserForToken(ctx context.Context, refreshToken string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.reverse[refreshToken]
	if !ok || s.now().After(e.expiresAt) {
		return "", ErrNotFound
	}
	return e.value, nil
}

func (s *MemoryStore) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.forward[userID]; ok {
		delete(s.reverse, e.value)
	}
	delete(s.forward, userID)
	return nil
}

func (s *MemoryStore) putLocked(userID, refreshToken string, ttl time.Duration) {
	if old, ok := s.forward[userID]; ok {
		delete(s.reverse, old.value)
	}
	exp := s.now().Add(ttl)
	s.forward[userID] = entry{value: refreshToken, expiresAt: exp}
	s.reverse[refreshToken] = entry{value: userID, expiresAt: exp}
}

func (s *MemoryStore) liveForwardLocked(userID string) (string, bool) {
	e, ok := s.forward[userID]
	if !ok || s.now().After(e.expiresAt) {
		return "", false
	}
	return e.value, true
}
