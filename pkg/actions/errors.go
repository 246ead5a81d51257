// Package actions implements the polymorphic action dispatcher and its
// handlers. Every handler shares the execute(config, ctx) contract and
// returns a uniform, duration-stamped ActionResult.
package actions

import (
	"errors"
	"fmt"
)

// ErrorKind classifies action failures for retry and reporting decisions.
type ErrorKind string

const (
	// KindValidation covers bad params, unknown action types, and illegal
	// state transitions. Never retried.
	KindValidation ErrorKind = "validation"
	// KindNetwork covers DNS, connect, and 5xx failures. Retried with
	// backoff inside the handler.
	KindNetwork ErrorKind = "network"
	// KindTimeout covers action or run deadline expiry.
	KindTimeout ErrorKind = "timeout"
	// KindAuth covers non-token auth failures.
	KindAuth ErrorKind = "auth"
	// KindNotFound covers missing assistants and rule set targets.
	KindNotFound ErrorKind = "not_found"
	// KindOverloaded covers full mailboxes and open circuits.
	KindOverloaded ErrorKind = "overloaded"
	// KindInternal covers programming errors surfaced at runtime.
	KindInternal ErrorKind = "internal"
)

// ActionError is the ordinary failure of an action. It is absorbed into
// the ActionResult and never escapes the rule engine.
type ActionError struct {
	Kind ErrorKind
	Err  error
}

// Error returns the formatted error message.
func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *ActionError) Unwrap() error {
	return e.Err
}

// NewActionError wraps an error with a failure kind.
func NewActionError(kind ErrorKind, err error) *ActionError {
	return &ActionError{Kind: kind, Err: err}
}

// Validationf builds a validation error from a format string.
func Validationf(format string, args ...any) *ActionError {
	return &ActionError{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

// TokenAuthError is the distinguished auth failure raised when the
// caller's token is expired or rejected mid-run. Unlike ActionError it
// propagates past the rule engine so the coordinator can refresh the
// credential and re-drive the event exactly once.
type TokenAuthError struct {
	Err error
}

// Error returns the formatted error message.
func (e *TokenAuthError) Error() string {
	return fmt.Sprintf("token auth failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *TokenAuthError) Unwrap() error {
	return e.Err
}

// IsTokenAuth reports whether err is (or wraps) a TokenAuthError.
func IsTokenAuth(err error) bool {
	var tae *TokenAuthError
	return errors.As(err, &tae)
}
