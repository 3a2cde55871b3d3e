// Package store provides the pluggable SecureStorage backends: a single-slot
// in-memory store for tests and ephemeral sessions, an AEAD-encrypted file
// store for CLI and desktop use, and PostgreSQL / S3-compatible backends for
// server deployments. Backend selection happens once in NewSecureStorage;
// shared logic never switches on the concrete type.
package store

import (
	"context"
	"sync"

	"github.com/openroutes/github-oauth/internal/credential"
)

// MemoryStorage keeps a single account in memory with no persistence.
type MemoryStorage struct {
	mu      sync.Mutex
	account *credential.Account
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// SaveAccount replaces the stored account (last write wins).
func (s *MemoryStorage) SaveAccount(_ context.Context, account *credential.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = account.Clone()
	return nil
}

// GetAccount returns a copy of the stored account, or nil when empty.
func (s *MemoryStorage) GetAccount(_ context.Context) (*credential.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account.Clone(), nil
}

// Clear empties the slot.
func (s *MemoryStorage) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = nil
	return nil
}
