package user

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for development mode and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byEmail map[string]*User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byEmail: make(map[string]*User)}
}

func (s *MemoryStore) Create(_ context.Context, u *User) error {
	email := strings.ToLower(strings.TrimSpace(u.Email))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[email]; ok {
		return ErrDuplicateEmail
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.Role == "" {
		u.Role = RoleMember
	}
	u.Email = email
	cp := *u
	s.byEmail[email] = &cp
	return nil
}

func (s *MemoryStore) GetByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}
