package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "kind and message",
			err:      ErrTransient("search unavailable"),
			expected: "transient: search unavailable",
		},
		{
			name:     "kind, param, and message",
			err:      ErrInvalidInput("must not be empty").WithParam("subject"),
			expected: "invalid_input (subject): must not be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestError_HTTPStatusCode(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected int
	}{
		{
			name:     "invalid input",
			err:      ErrInvalidInput("bad ticket"),
			expected: http.StatusUnprocessableEntity,
		},
		{
			name:     "not found",
			err:      ErrNotFound("no customer"),
			expected: http.StatusNotFound,
		},
		{
			name:     "transient",
			err:      ErrTransient("timeout"),
			expected: http.StatusServiceUnavailable,
		},
		{
			name:     "internal",
			err:      ErrInternal("bug"),
			expected: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.HTTPStatusCode(); got != tt.expected {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorKind
	}{
		{
			name:     "direct domain error",
			err:      ErrNotFound("gone"),
			expected: KindNotFound,
		},
		{
			name:     "wrapped domain error",
			err:      fmt.Errorf("stage failed: %w", ErrTransient("timeout")),
			expected: KindTransient,
		},
		{
			name:     "deadline exceeded",
			err:      context.DeadlineExceeded,
			expected: KindTransient,
		},
		{
			name:     "cancellation",
			err:      context.Canceled,
			expected: KindTransient,
		},
		{
			name:     "unrecognized error",
			err:      errors.New("boom"),
			expected: KindInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.expected {
				t.Errorf("KindOf() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := ErrTransient("store unavailable").WithCause(cause)

	if !errors.Is(err, cause) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
	if !IsTransient(fmt.Errorf("outer: %w", err)) {
		t.Error("IsTransient should see through wrapping")
	}
}
