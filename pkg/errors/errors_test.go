package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    *AppError
		status int
	}{
		{"auth", NewAuthError(""), http.StatusUnauthorized},
		{"scope", NewScopeError(""), http.StatusForbidden},
		{"validation", NewValidationError("bad input"), http.StatusBadRequest},
		{"unprocessable", NewUnprocessableError("bad dims"), http.StatusUnprocessableEntity},
		{"not_found", NewNotFoundError("node"), http.StatusNotFound},
		{"conflict", NewConflictError("version mismatch"), http.StatusConflict},
		{"rate_limited", NewRateLimitedError(""), http.StatusTooManyRequests},
		{"dependency", NewDependencyError("embedding backend", nil), http.StatusServiceUnavailable},
		{"storage", NewStorageError("insert failed", nil), http.StatusInternalServerError},
		{"config", NewConfigError("decryption failed"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.status, tc.err.Status())
			assert.Equal(t, tc.status, StatusOf(tc.err))
		})
	}
}

func TestWrapPreservesChain(t *testing.T) {
	base := errors.New("connection refused")
	wrapped := Wrap(base, ErrorTypeStorage, "node insert failed")

	require.NotNil(t, wrapped)
	assert.True(t, errors.Is(wrapped, base))
	assert.True(t, IsStorage(wrapped))
	assert.Contains(t, wrapped.Error(), "node insert failed")
	assert.Contains(t, wrapped.Error(), "connection refused")
}

func TestWrapIdempotentForSameType(t *testing.T) {
	inner := NewConflictError("stale version")
	outer := Wrap(fmt.Errorf("update: %w", inner), ErrorTypeConflict, "update failed")

	// Wrapping an error that already carries the same type keeps the
	// original message rather than stacking a second AppError.
	assert.Equal(t, inner, outer)
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeStorage, "ignored"))
}

func TestPredicatesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("handler: %w", NewNotFoundError("node"))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsConflict(err))
	assert.Equal(t, ErrorTypeNotFound, TypeOf(err))
	assert.Equal(t, http.StatusNotFound, StatusOf(err))
}

func TestPlainErrorDefaults(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, ErrorTypeInternal, TypeOf(err))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(err))
}

func TestConnectorClassification(t *testing.T) {
	transient := NewTransientConnectorError("fetch timeout", errors.New("deadline"))
	permanent := NewPermanentConnectorError("object gone", nil)

	assert.True(t, IsTransientConnector(transient))
	assert.False(t, IsPermanentConnector(transient))
	assert.True(t, IsPermanentConnector(permanent))
	assert.False(t, IsTransientConnector(permanent))
}

func TestDetailsAndCause(t *testing.T) {
	cause := errors.New("pq: duplicate key")
	err := NewConflictError("version mismatch").
		WithDetails(map[string]any{"expected": 3, "got": 2}).
		WithCause(cause)

	assert.Equal(t, 3, err.Details["expected"])
	assert.True(t, errors.Is(err, cause))
}
