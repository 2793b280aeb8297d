// Package errs provides the unified error type used across mediavault.
//
// Every subsystem (filestore, staging, vault, notify, …) wraps its native
// errors into *errs.Error before returning them to callers. The HTTP layer
// and the CLI inspect errors only through the Is* predicates, never through
// driver-specific types.
//
// Usage:
//
//	// In a driver, wrap native errors:
//	return errs.Wrap(errs.ErrKindUnavailable, "put object failed", err)
//
//	// In a handler, check the error kind:
//	if errs.IsNotFound(err) {
//	    http.Error(w, "not found", http.StatusNotFound)
//	}
package errs

import (
	"context"
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing subsystem-specific codes.
type ErrKind int

const (
	ErrKindUnknown             ErrKind = iota
	ErrKindNotFound                    // unknown object key, bucket, user
	ErrKindInvalidInput                // malformed upload, bad arguments
	ErrKindStorageFailure              // object-store or staging-disk error
	ErrKindUnavailable                 // transient storage error, safe to retry
	ErrKindConflict                    // object key already taken
	ErrKindUnauthenticated             // missing or invalid credential
	ErrKindUnauthorized                // authenticated but not allowed
	ErrKindNotificationFailure         // publish error, never surfaced to clients
	ErrKindCanceled                    // caller went away
	ErrKindTimeout                     // deadline exceeded
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindNotFound:
		return "not_found"
	case ErrKindInvalidInput:
		return "invalid_input"
	case ErrKindStorageFailure:
		return "storage_failure"
	case ErrKindUnavailable:
		return "unavailable"
	case ErrKindConflict:
		return "conflict"
	case ErrKindUnauthenticated:
		return "unauthenticated"
	case ErrKindUnauthorized:
		return "unauthorized"
	case ErrKindNotificationFailure:
		return "notification_failure"
	case ErrKindCanceled:
		return "canceled"
	case ErrKindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all mediavault subsystems.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original driver-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// FromContext maps a context error to ErrKindCanceled or ErrKindTimeout.
// It returns nil when err is not a context error.
func FromContext(err error, msg string) error {
	switch {
	case errors.Is(err, context.Canceled):
		return Wrap(ErrKindCanceled, msg, err)
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(ErrKindTimeout, msg, err)
	}
	return nil
}

// --- Predicates ---

// IsNotFound reports whether err represents a missing object or user.
func IsNotFound(err error) bool {
	return KindOf(err) == ErrKindNotFound
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return KindOf(err) == ErrKindInvalidInput
}

// IsStorageFailure reports whether err is an object-store or staging failure.
// Transient (retryable) failures count as storage failures too.
func IsStorageFailure(err error) bool {
	k := KindOf(err)
	return k == ErrKindStorageFailure || k == ErrKindUnavailable
}

// IsUnavailable reports whether err is a transient storage failure that a
// caller holding a rewindable source may retry.
func IsUnavailable(err error) bool {
	return KindOf(err) == ErrKindUnavailable
}

// IsConflict reports whether err was caused by an already existing key.
func IsConflict(err error) bool {
	return KindOf(err) == ErrKindConflict
}

// IsUnauthenticated reports whether err is a credential failure.
func IsUnauthenticated(err error) bool {
	return KindOf(err) == ErrKindUnauthenticated
}

// IsUnauthorized reports whether err is an access control failure.
func IsUnauthorized(err error) bool {
	return KindOf(err) == ErrKindUnauthorized
}

// IsNotificationFailure reports whether err came from an event publisher.
func IsNotificationFailure(err error) bool {
	return KindOf(err) == ErrKindNotificationFailure
}

// IsCanceled reports whether err was caused by the caller going away.
func IsCanceled(err error) bool {
	return KindOf(err) == ErrKindCanceled
}

// IsTimeout reports whether err was caused by a deadline.
func IsTimeout(err error) bool {
	return KindOf(err) == ErrKindTimeout
}

// KindOf extracts the ErrKind from any error in the chain.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}
