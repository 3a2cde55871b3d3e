package oauth

import (
	"errors"
	"fmt"
)

// CsrfStateError reports a callback whose state parameter could not be
// matched to a pending authorization.
type CsrfStateError struct {
	State string
}

// Error returns a string representation of the state mismatch.
func (e *CsrfStateError) Error() string {
	return "authorization state is missing, expired, or already used"
}

// IsCsrfStateError checks if an error is a CSRF state validation failure.
func IsCsrfStateError(err error) bool {
	var csrfErr *CsrfStateError
	return errors.As(err, &csrfErr)
}

// DeviceFlowErrorKind enumerates the terminal and transient device flow outcomes.
type DeviceFlowErrorKind string

const (
	// DeviceFlowPending means the user has not yet entered the code. Never
	// returned to callers; the poll loop consumes it.
	DeviceFlowPending DeviceFlowErrorKind = "authorization_pending"
	// DeviceFlowSlowDown means the provider wants a longer poll interval.
	// Never returned to callers; the poll loop consumes it.
	DeviceFlowSlowDown DeviceFlowErrorKind = "slow_down"
	// DeviceFlowExpired means the device code lapsed before the user acted.
	DeviceFlowExpired DeviceFlowErrorKind = "expired_token"
	// DeviceFlowDenied means the user rejected the authorization.
	DeviceFlowDenied DeviceFlowErrorKind = "access_denied"
	// DeviceFlowFailed covers every other provider-reported error.
	DeviceFlowFailed DeviceFlowErrorKind = "device_flow_failed"
)

// DeviceFlowError represents a device authorization grant failure.
type DeviceFlowError struct {
	// Kind is the provider error code.
	Kind DeviceFlowErrorKind
	// Description is the provider's human-readable explanation, when given.
	Description string
}

// Error returns a string representation of the device flow error.
func (e *DeviceFlowError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("device flow %s: %s", e.Kind, e.Description)
	}
	switch e.Kind {
	case DeviceFlowExpired:
		return "device code expired before the user authorized it"
	case DeviceFlowDenied:
		return "authorization denied by user"
	default:
		return fmt.Sprintf("device flow failed: %s", e.Kind)
	}
}

// IsDeviceFlowExpired checks if an error is an expired device code.
func IsDeviceFlowExpired(err error) bool {
	var dfErr *DeviceFlowError
	return errors.As(err, &dfErr) && dfErr.Kind == DeviceFlowExpired
}

// IsDeviceFlowDenied checks if an error is a user denial.
func IsDeviceFlowDenied(err error) bool {
	var dfErr *DeviceFlowError
	return errors.As(err, &dfErr) && dfErr.Kind == DeviceFlowDenied
}
