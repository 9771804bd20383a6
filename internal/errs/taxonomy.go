// Package errs defines the engine's error taxonomy (§7): stable machine
// codes and kinds, not a per-language exception hierarchy. Every error
// that crosses a component boundary is (or wraps) one of these.
package errs

import "fmt"

// Code is a stable machine-readable error code, audited alongside the
// human message (§7: "every error carries a stable machine code...").
type Code string

// Error codes, one per taxonomy entry in §7.
const (
	CodeValidation       Code = "VALIDATION_ERROR"
	CodeNotFound         Code = "NOT_FOUND"
	CodeConfiguration    Code = "CONFIGURATION_ERROR"
	CodeBrokerTransient  Code = "BROKER_TRANSIENT"
	CodeBrokerPermanent  Code = "BROKER_PERMANENT"
	CodeSafety           Code = "SAFETY_ERROR"
	CodeRateLimit        Code = "RATE_LIMIT"
	CodeTaskTimeout      Code = "TASK_TIMEOUT"
	CodeOcoDesync        Code = "OCO_DESYNC"
)

// Retryable reports whether the engine should apply bounded retry/backoff
// to an error of this code (§7 propagation policy).
func (c Code) Retryable() bool {
	return c == CodeBrokerTransient
}

// Fatal reports whether this code is fatal at startup (lock, config,
// broker auth) rather than isolable per-strategy.
func (c Code) Fatal() bool {
	return c == CodeConfiguration
}

// Error is the engine's structured error type: a stable code, a human
// message, and an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// New constructs a taxonomy error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs a taxonomy error wrapping cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}
