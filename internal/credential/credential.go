// Package credential defines the persisted GitHub account record and the
// storage contract implemented by the pluggable backends in internal/store.
package credential

import (
	"context"
	"fmt"
	"time"
)

// Account is the single credential record persisted per storage instance.
// It exists only while an authorization flow has completed successfully and
// has not been cleared or revoked.
type Account struct {
	// UserID is the stable numeric GitHub identity.
	UserID int64 `json:"user_id"`
	// Login is the GitHub handle at authorization time.
	Login string `json:"login"`
	// AvatarURL points at the user's avatar image.
	AvatarURL string `json:"avatar_url"`
	// AccessToken is the OAuth access token. Secret.
	AccessToken string `json:"access_token"`
	// TokenType is the Authorization scheme GitHub issued, e.g. "bearer".
	TokenType string `json:"token_type"`
	// Scopes are the granted permission scopes; order carries no meaning.
	Scopes []string `json:"scopes"`
	// CreatedAt records when the authorization completed.
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy so callers can hand accounts across goroutines
// without sharing the scope slice.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	copied := *a
	copied.Scopes = append([]string(nil), a.Scopes...)
	return &copied
}

// SecureStorage persists exactly one Account. Implementations must return
// (nil, nil) from GetAccount when no account is stored and must degrade
// read-side decryption or I/O failures to (nil, nil) as well, so a corrupted
// record behaves like an absent one instead of leaking partial secrets.
// Writes surface their failures as *StorageError.
type SecureStorage interface {
	// SaveAccount persists the account, replacing any previous record.
	SaveAccount(ctx context.Context, account *Account) error
	// GetAccount loads the stored account, or nil when absent.
	GetAccount(ctx context.Context) (*Account, error)
	// Clear removes the stored account. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// StorageError reports a write-side storage failure, carrying enough context
// to identify the backend without exposing record contents.
type StorageError struct {
	// Backend names the storage implementation, e.g. "file" or "postgres".
	Backend string
	// Op is the failing operation: "save", "get" or "clear".
	Op string
	// Err is the underlying cause.
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("secure storage (%s): %s failed: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
