// Package domain provides the core types and canonical error kinds for the
// triage pipeline.
package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind categorizes a pipeline error. The orchestrator selects fallback
// paths by kind, never by inspecting message text.
type ErrorKind string

const (
	// KindInvalidInput indicates a malformed ticket or request. Fails fast,
	// before any external call.
	KindInvalidInput ErrorKind = "invalid_input"

	// KindNotFound indicates a missing resource, e.g. no customer profile
	// for the given external id. Surfaced to the caller, never retried.
	KindNotFound ErrorKind = "not_found"

	// KindTransient indicates a collaborator timeout or 5xx. Absorbed by
	// stage-local fallbacks; retryable inside collaborator clients.
	KindTransient ErrorKind = "transient"

	// KindInternal indicates an unexpected programming error.
	KindInternal ErrorKind = "internal"
)

// Error is the canonical error carried across the pipeline. Messages must
// never contain ticket bodies, customer names, or other PII.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Param   string    `json:"param,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Param, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// WithParam records the offending parameter name.
func (e *Error) WithParam(param string) *Error {
	e.Param = param
	return e
}

// WithCause attaches the underlying error for wrapping chains.
func (e *Error) WithCause(cause error) *Error {
	e.cause = cause
	return e
}

// HTTPStatusCode maps the kind to a transport status for the ingress layer.
func (e *Error) HTTPStatusCode() int {
	switch e.Kind {
	case KindInvalidInput:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrInvalidInput creates an invalid input error.
func ErrInvalidInput(message string) *Error {
	return &Error{Kind: KindInvalidInput, Message: message}
}

// ErrNotFound creates a not found error.
func ErrNotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// ErrTransient creates a transient collaborator failure.
func ErrTransient(message string) *Error {
	return &Error{Kind: KindTransient, Message: message}
}

// ErrInternal creates an internal error.
func ErrInternal(message string) *Error {
	return &Error{Kind: KindInternal, Message: message}
}

// KindOf extracts the error kind from any error in the chain. Context
// deadline and cancellation errors count as transient. Unrecognized errors
// are internal.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	return KindInternal
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsTransient reports whether err is a transient collaborator failure.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsInvalidInput reports whether err is an invalid input error.
func IsInvalidInput(err error) bool { return KindOf(err) == KindInvalidInput }
