// Package apperrors defines the error taxonomy shared by all components.
//
// Every failure that crosses a component boundary carries a Kind so callers
// can branch on error class (retry, record-and-skip, fail fast) without
// string matching.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for propagation decisions.
type Kind string

const (
	KindConfiguration     Kind = "configuration"
	KindAuthentication    Kind = "authentication"
	KindValidation        Kind = "validation"
	KindSizing            Kind = "sizing"
	KindInsufficientFunds Kind = "insufficient-funds"
	KindRateLimited       Kind = "rate-limited"
	KindTransient         Kind = "transient"
	KindNonRetryable      Kind = "non-retryable"
	KindStream            Kind = "stream"
	KindStore             Kind = "store"
	KindCircuitOpen       Kind = "circuit-open"
	KindOCOAmbiguous      Kind = "oco-ambiguous"
	KindConflict          Kind = "conflict"
)

// Error is a classified error with an optional wrapped cause.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration // broker-provided hint, only for KindRateLimited
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by Kind so sentinel comparison works through wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New creates a classified error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. A nil cause yields nil.
func Wrap(kind Kind, msg string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// KindOf extracts the Kind from an error chain. A nil error has no kind.
// Unclassified non-nil errors report KindTransient: an unknown failure is
// assumed recoverable and fed to the circuit breaker rather than silently
// dropped.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// IsTransient reports whether the error should be retried by the dispatcher.
// A nil error is not transient.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindRateLimited:
		return true
	}
	return false
}

// RetryAfter returns the broker-provided retry hint, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.RetryAfter > 0 {
		return e.RetryAfter, true
	}
	return 0, false
}
