// Package errs defines the closed set of error kinds used across the
// service. Callers branch on Kind rather than on concrete types, which
// keeps retry and reporting decisions in one place.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and surfacing decisions.
type Kind string

const (
	// KindAuthentication covers invalid credentials and failed token
	// refreshes. Never retried.
	KindAuthentication Kind = "authentication"
	// KindExternalService covers upstream provider failures. Retried
	// per the caller's retry policy, then surfaced.
	KindExternalService Kind = "external_service"
	// KindValidation covers malformed input. Never retried.
	KindValidation Kind = "validation"
	// KindInfrastructure covers lock/store availability problems.
	KindInfrastructure Kind = "infrastructure"
)

// Error is a tagged error with an optional structured detail map and
// an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Detail  map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds an Error of the given kind.
func E(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// WithDetail attaches a structured detail entry and returns the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Detail == nil {
		e.Detail = make(map[string]any)
	}
	e.Detail[key] = value
	return e
}

// KindOf returns the kind of err, or the zero Kind when err carries no
// classification.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is tagged with kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// TokenRefresh builds the authentication error raised when an OAuth
// refresh cannot be performed or is rejected by the provider.
func TokenRefresh(message string, cause error) *Error {
	return E(KindAuthentication, message, cause)
}

// CatalogAPI builds an external-service error for catalog provider
// failures. The upstream status code rides along as detail.
func CatalogAPI(message string, status int, cause error) *Error {
	return E(KindExternalService, message, cause).WithDetail("status", status)
}

// VerificationSource builds an external-service error for a metadata
// verification provider.
func VerificationSource(provider, message string, cause error) *Error {
	return E(KindExternalService, message, cause).WithDetail("provider", provider)
}

// Validation builds a validation error.
func Validation(message string) *Error {
	return E(KindValidation, message, nil)
}

// LockHeld builds the infrastructure error for a non-blocking
// acquisition that lost to an existing holder.
func LockHeld(name string) *Error {
	return E(KindInfrastructure, fmt.Sprintf("failed to acquire lock: %s (already held)", name), nil).
		WithDetail("lock_name", name).
		WithDetail("reason", "held")
}

// LockTimeout builds the infrastructure error for a blocking
// acquisition that exhausted its maximum wait.
func LockTimeout(name string, waited float64) *Error {
	return E(KindInfrastructure, fmt.Sprintf("lock acquisition timed out: %s (waited %.2fs)", name, waited), nil).
		WithDetail("lock_name", name).
		WithDetail("reason", "timeout")
}

// LockUnavailable builds the infrastructure error for a backing-store
// failure during lock operations.
func LockUnavailable(name string, cause error) *Error {
	return E(KindInfrastructure, fmt.Sprintf("lock store unreachable: %s", name), cause).
		WithDetail("lock_name", name).
		WithDetail("reason", "store")
}

// IsLockHeld reports whether err is a lock-contention failure as
// opposed to a store failure or timeout.
func IsLockHeld(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == KindInfrastructure && e.Detail["reason"] == "held"
}
