// Package apperr defines the error-kind taxonomy shared across the core:
// Event Log, Session Store, Streaming Engine, Tool Executor, and RPC Router
// all classify failures into one of these kinds so callers can apply the
// right policy (surface as a stream error, reject an RPC, retry, or ignore).
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purposes of the streaming/RPC error
// policy.
type Kind string

const (
	NotFound          Kind = "NotFound"
	InvariantViolated Kind = "InvariantViolated"
	SessionBusy       Kind = "SessionBusy"
	ProviderAuth      Kind = "ProviderAuth"
	ProviderNetwork   Kind = "ProviderNetwork"
	ProviderProtocol  Kind = "ProviderProtocol"
	ToolValidation    Kind = "ToolValidation"
	ToolExecution     Kind = "ToolExecution"
	Cancelled         Kind = "Cancelled"
	StorageFailed     Kind = "StorageFailed"
)

// Error is a kinded, wrappable error.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind around an existing cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, defaulting to "" if err is not (or does
// not wrap) an *Error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
