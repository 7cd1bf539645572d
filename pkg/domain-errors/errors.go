// Package domainerrors defines coded errors that cross service boundaries.
//
// Services return these so the transport layer can translate a failure into
// the right HTTP status without inspecting error strings. Infrastructure
// facts (row missing, connection refused) live in pkg/platform/sentinel;
// stores return those, services translate them into coded errors here.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for boundary translation.
type Code string

const (
	// CodeInvalidInput marks malformed or failed-validation input. Rejected
	// before any state change.
	CodeInvalidInput Code = "invalid_input"
	// CodeNotFound marks a reference to an entity that does not exist, or a
	// provider that is not enabled for the referenced query.
	CodeNotFound Code = "not_found"
	// CodeConflict marks an operation that lost to a concurrent writer.
	CodeConflict Code = "conflict"
	// CodeUnauthorized marks a missing or invalid credential.
	CodeUnauthorized Code = "unauthorized"
	// CodeUnavailable marks a dependency that is temporarily unreachable.
	CodeUnavailable Code = "unavailable"
	// CodeInvariantViolation marks a broken domain invariant. These indicate
	// a bug, not bad input.
	CodeInvariantViolation Code = "invariant_violation"
	// CodeInternal marks everything else. Details are never sent to clients.
	CodeInternal Code = "internal_error"
)

// Error is a coded domain error. Message is safe to show to API clients for
// every code except CodeInternal.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error with no underlying cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a coded error around an underlying cause. The cause stays
// reachable through errors.Is / errors.As.
func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, cause: cause}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for errors
// that did not originate in this package.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
