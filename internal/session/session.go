// Package session tracks the single-use anti-CSRF state tokens issued while
// an authorization-code flow is in flight.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// StateTokenTTL bounds how long an issued state token stays redeemable.
const StateTokenTTL = 10 * time.Minute

// StateStore registers and consumes authorization state tokens. ConsumeState
// is an atomic test-and-delete: a token is gone after the first call that sees
// it, whether or not the caller's exchange succeeds afterwards.
type StateStore interface {
	SetState(ctx context.Context, state string, expiresAt time.Time) error
	ConsumeState(ctx context.Context, state string) (bool, error)
}

// NewStateToken returns a fresh 128-bit random token in hex form.
func NewStateToken() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate state token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
