// Package apperr defines the error taxonomy shared by the vault,
// gateway, ingestion engine, and HTTP boundary. Handlers map sentinel
// classes to status codes; services wrap causes with %w so callers can
// branch with errors.Is.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation marks bad or oversized input the user can correct.
	ErrValidation = errors.New("validation failed")
	// ErrNotConnected marks an absent or unusable stored credential.
	ErrNotConnected = errors.New("not connected")
	// ErrCapability marks a credential lacking a required grant.
	ErrCapability = errors.New("missing capability")
	// ErrForgery marks a failed anti-forgery check. No state changed.
	ErrForgery = errors.New("anti-forgery check failed")
	// ErrConflict marks a duplicate publish or duplicate import. No state changed.
	ErrConflict = errors.New("conflict")
	// ErrRateLimited marks a provider rate-limit response.
	ErrRateLimited = errors.New("rate limited")
	// ErrTransport marks a sanitized network or protocol failure.
	ErrTransport = errors.New("transport failure")
	// ErrIntegrity marks a storage invariant violation. The unit of work aborts.
	ErrIntegrity = errors.New("integrity violation")
	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("not found")
)

// Error carries a user-facing message alongside the sentinel class.
type Error struct {
	Class   error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Class
}

// Validation builds a user-correctable input error.
func Validation(format string, args ...any) *Error {
	return &Error{Class: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// NotConnected builds an absent-credential error.
func NotConnected(message string) *Error {
	return &Error{Class: ErrNotConnected, Message: message}
}

// Capability builds a missing-grant error instructing re-authorization.
func Capability(message string) *Error {
	return &Error{Class: ErrCapability, Message: message}
}

// Forgery builds a failed anti-forgery error.
func Forgery(message string) *Error {
	return &Error{Class: ErrForgery, Message: message}
}

// Conflict builds a no-state-change duplicate error.
func Conflict(format string, args ...any) *Error {
	return &Error{Class: ErrConflict, Message: fmt.Sprintf(format, args...)}
}

// Transport builds a sanitized transport error. The message must never
// contain request internals or secret material; callers at the lowest
// layer are responsible for impoverishing it before calling this.
func Transport(message string) *Error {
	return &Error{Class: ErrTransport, Message: message}
}

// Integrity builds a storage-invariant error wrapping the cause.
func Integrity(cause error) error {
	return fmt.Errorf("%w: %v", ErrIntegrity, cause)
}

// NotFound builds a missing-record error.
func NotFound(resource string, id any) *Error {
	return &Error{Class: ErrNotFound, Message: fmt.Sprintf("%s %v not found", resource, id)}
}

// RateLimitedError carries the provider's advisory retry delay.
type RateLimitedError struct {
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return e.Message
}

func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}

// RateLimited builds a rate-limit error with an optional advisory delay.
func RateLimited(message string, retryAfter time.Duration) *RateLimitedError {
	return &RateLimitedError{Message: message, RetryAfter: retryAfter}
}
