// Package apperr defines the error taxonomy shared by the core
// engines and the serving layer. Engines propagate these upward and
// never swallow store failures; controllers map them to HTTP statuses.
package apperr

import (
	"errors"
	"fmt"
)

// Reason codes carried by AuthorizationError.
const (
	ReasonNotAMember         = "not_a_member"
	ReasonInsufficientRole   = "insufficient_role"
	ReasonLastOwnerProtected = "last_owner_protected"
)

// AuthenticationError means no or invalid credential. Fatal to the
// request or connection, never retried automatically.
type AuthenticationError struct {
	Msg string
}

func (e *AuthenticationError) Error() string {
	if e.Msg == "" {
		return "authentication required"
	}
	return e.Msg
}

// AuthorizationError means the actor is authenticated but not
// permitted. Reason is machine-readable.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return "not authorized: " + e.Reason
}

// ConflictError means a mutation referenced stale state, e.g. a
// reorder naming task ids that no longer match the bucket, or a
// concurrent reorder detected by the store. The caller should refetch
// and may retry.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Msg
}

// ValidationError means malformed input, rejected before any store
// mutation.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "invalid input: " + e.Msg
}

// TransientStoreError wraps a connectivity or timeout failure talking
// to the store. Safe to retry with backoff because all core mutations
// are atomic.
type TransientStoreError struct {
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("store unavailable: %v", e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// Constructors

func Unauthenticated(msg string) error { return &AuthenticationError{Msg: msg} }

func Forbidden(reason string) error { return &AuthorizationError{Reason: reason} }

func Conflict(format string, a ...interface{}) error {
	return &ConflictError{Msg: fmt.Sprintf(format, a...)}
}
func Invalid(format string, a ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, a...)}
}
func Transient(err error) error { return &TransientStoreError{Err: err} }

// Predicates

func IsAuthentication(err error) bool {
	var e *AuthenticationError
	return errors.As(err, &e)
}

func IsAuthorization(err error) bool {
	var e *AuthorizationError
	return errors.As(err, &e)
}

// AuthorizationReason extracts the reason code, or "" if err is not an
// AuthorizationError.
func AuthorizationReason(err error) string {
	var e *AuthorizationError
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsTransient(err error) bool {
	var e *TransientStoreError
	return errors.As(err, &e)
}
