package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors for the authorization flow.
var (
	// ErrAuthorizationDenied is returned when the provider redirects back with an error.
	ErrAuthorizationDenied = errors.New("authorization denied")

	// ErrAuthorizationTimeout is returned when no callback arrives within the bound.
	ErrAuthorizationTimeout = errors.New("authorization timed out")

	// ErrStorageCorruption marks an unreadable credential store. It is only
	// ever logged; LoadAll recovers with an empty store.
	ErrStorageCorruption = errors.New("credential store is corrupted")

	// ErrNeedsReauthorization is returned when a stored credential could not
	// be refreshed and the operator must run the authorization flow again.
	ErrNeedsReauthorization = errors.New("credential needs re-authorization")

	// ErrAttemptInProgress is returned when an authorization attempt is
	// already running on this manager.
	ErrAttemptInProgress = errors.New("an authorization attempt is already in progress")

	// ErrPrincipalNotFound is returned when no credential is stored for a principal.
	ErrPrincipalNotFound = errors.New("principal not found")

	// ErrMissingCode is returned when pasted input carries no authorization code.
	ErrMissingCode = errors.New("no authorization code found")
)

// ConfigurationError reports missing or unusable client configuration.
// It is the only error allowed to escape Manager construction.
type ConfigurationError struct {
	Field   string
	Message string
	Cause   error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

// AuthorizationError carries the reason the provider gave for a denied authorization.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization denied: %s", e.Reason)
}

func (e *AuthorizationError) Unwrap() error {
	return ErrAuthorizationDenied
}

// ExchangeError indicates a failed call to the token endpoint.
type ExchangeError struct {
	Grant      string // "authorization_code" or "refresh_token"
	StatusCode int    // 0 for transport failures
	ErrorCode  string // provider error code, if any
	Cause      error
}

func (e *ExchangeError) Error() string {
	msg := e.Grant + " exchange failed"
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.ErrorCode != "" {
		msg += ": " + e.ErrorCode
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ExchangeError) Unwrap() error {
	return e.Cause
}
