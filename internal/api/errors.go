package api

import (
	"errors"
	"fmt"
)

// UnauthenticatedError means no account is stored; the caller must complete
// an authorization flow first.
type UnauthenticatedError struct{}

// Error returns a string representation of the missing-credential condition.
func (e *UnauthenticatedError) Error() string {
	return "not authenticated: no stored GitHub account"
}

// TokenRevokedError means GitHub rejected the stored token as revoked or
// expired. The credential is useless and should be cleared by the caller.
type TokenRevokedError struct {
	Message string
}

func (e *TokenRevokedError) Error() string {
	return fmt.Sprintf("github token revoked or expired: %s", e.Message)
}

// InsufficientScopeError means the token is valid but was not granted the
// scopes the operation needs.
type InsufficientScopeError struct {
	Message string
}

func (e *InsufficientScopeError) Error() string {
	return fmt.Sprintf("insufficient token scope: %s", e.Message)
}

// NotFoundError means the resource does not exist or is invisible to the
// token. GitHub deliberately reports both cases as 404.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("github resource not found: %s", e.Resource)
}

// ValidationFailure describes one rejected field of a 422 response.
type ValidationFailure struct {
	Resource string `json:"resource"`
	Field    string `json:"field"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// ValidationError means GitHub rejected the request body.
type ValidationError struct {
	Message string
	Fields  []ValidationFailure
}

func (e *ValidationError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("github rejected the request: %s (%d invalid fields)", e.Message, len(e.Fields))
	}
	return fmt.Sprintf("github rejected the request: %s", e.Message)
}

// APIError is the catch-all for GitHub failures outside the closed taxonomy.
type APIError struct {
	StatusCode       int
	Message          string
	DocumentationURL string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("github api error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("github api error %d", e.StatusCode)
}

// IsUnauthenticated checks if an error means no credential is stored.
func IsUnauthenticated(err error) bool {
	var target *UnauthenticatedError
	return errors.As(err, &target)
}

// IsTokenRevoked checks if an error means the stored token is dead.
func IsTokenRevoked(err error) bool {
	var target *TokenRevokedError
	return errors.As(err, &target)
}

// IsInsufficientScope checks if an error is a scope problem.
func IsInsufficientScope(err error) bool {
	var target *InsufficientScopeError
	return errors.As(err, &target)
}

// IsNotFound checks if an error is a missing or invisible resource.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsValidationError checks if an error is a rejected request body.
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
