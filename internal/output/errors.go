package output

import (
	"context"
	"errors"
	"fmt"

	"github.com/coachsync/coachsync/internal/auth"
)

// Error is a structured error with code, message, and optional hint.
type Error struct {
	Code       string
	Message    string
	Hint       string
	HTTPStatus int
	Cause      error
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Hint)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ExitCode returns the appropriate exit code for this error.
func (e *Error) ExitCode() int {
	return ExitCodeFor(e.Code)
}

// Error constructors for common cases.

func ErrUsage(msg string) *Error {
	return &Error{Code: CodeUsage, Message: msg}
}

func ErrUsageHint(msg, hint string) *Error {
	return &Error{Code: CodeUsage, Message: msg, Hint: hint}
}

func ErrNotFound(resource, identifier string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, identifier),
	}
}

func ErrNotFoundHint(resource, identifier, hint string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, identifier),
		Hint:    hint,
	}
}

func ErrAuth(msg string) *Error {
	return &Error{
		Code:    CodeAuth,
		Message: msg,
		Hint:    "Run: coachsync athletes add",
	}
}

func ErrConfig(cause error) *Error {
	return &Error{
		Code:    CodeConfig,
		Message: cause.Error(),
		Hint:    "Set STRAVA_CLIENT_ID and STRAVA_CLIENT_SECRET, or run: coachsync config show",
		Cause:   cause,
	}
}

func ErrNetwork(cause error) *Error {
	return &Error{
		Code:    CodeNetwork,
		Message: "Network error",
		Hint:    cause.Error(),
		Cause:   cause,
	}
}

func ErrAPI(status int, msg string) *Error {
	return &Error{
		Code:       CodeAPI,
		Message:    msg,
		HTTPStatus: status,
	}
}

// FromAuth maps an error from the auth package onto a structured Error.
// It returns nil if err is not one auth knows about.
func FromAuth(err error) *Error {
	var cfgErr *auth.ConfigurationError
	var denied *auth.AuthorizationError
	var exchange *auth.ExchangeError

	switch {
	case errors.As(err, &cfgErr):
		return ErrConfig(err)
	case errors.As(err, &denied):
		return &Error{
			Code:    CodeAuthDenied,
			Message: err.Error(),
			Hint:    "The athlete must approve access in the browser",
			Cause:   err,
		}
	case errors.Is(err, auth.ErrAuthorizationTimeout), errors.Is(err, context.DeadlineExceeded):
		return &Error{
			Code:    CodeTimeout,
			Message: "Timed out waiting for authorization",
			Hint:    "Retry with a longer --timeout",
			Cause:   err,
		}
	case errors.Is(err, auth.ErrPrincipalNotFound):
		return &Error{
			Code:    CodeNotFound,
			Message: err.Error(),
			Hint:    "Run: coachsync athletes list",
			Cause:   err,
		}
	case errors.Is(err, auth.ErrNeedsReauthorization):
		e := ErrAuth(err.Error())
		e.Cause = err
		if errors.As(err, &exchange) {
			e.HTTPStatus = exchange.StatusCode
		}
		return e
	case errors.As(err, &exchange):
		if exchange.StatusCode == 0 {
			return ErrNetwork(err)
		}
		e := ErrAPI(exchange.StatusCode, err.Error())
		e.Cause = err
		return e
	case errors.Is(err, auth.ErrAttemptInProgress):
		return &Error{Code: CodeUsage, Message: err.Error(), Cause: err}
	case errors.Is(err, auth.ErrMissingCode):
		return &Error{
			Code:    CodeUsage,
			Message: err.Error(),
			Hint:    "Pass the code, or the full redirect URL, from the authorization page",
			Cause:   err,
		}
	}
	return nil
}

// AsError attempts to convert an error to an *Error.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if e := FromAuth(err); e != nil {
		return e
	}
	return &Error{
		Code:    CodeAPI,
		Message: err.Error(),
		Cause:   err,
	}
}
