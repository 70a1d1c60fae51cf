package main

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var errUserExists = errors.New("user already exists")

// user is an account of the in-memory demo user store.
type user struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name,omitempty"`
	passwordHash string
}

// userStore backs the demo auth routes. Emails are case-insensitive.
type userStore struct {
	mu    sync.RWMutex
	users map[string]*user
}

func newUserStore() *userStore {
	return &userStore{users: make(map[string]*user)}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *userStore) create(email, name, passwordHash string) (*user, error) {
	key := normalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[key]; ok {
		return nil, errUserExists
	}

	u := &user{
		ID:           uuid.NewString(),
		Email:        key,
		Name:         name,
		passwordHash: passwordHash,
	}
	s.users[key] = u
	return u, nil
}

func (s *userStore) get(email string) (*user, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[normalizeEmail(email)]
	return u, ok
}
