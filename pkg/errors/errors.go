package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
)

// ErrorType classifies an error for HTTP mapping and metrics labels.
type ErrorType string

const (
	// Request-surface errors
	ErrorTypeAuth        ErrorType = "AUTH"
	ErrorTypeScope       ErrorType = "SCOPE"
	ErrorTypeValidation  ErrorType = "VALIDATION"
	ErrorTypeNotFound    ErrorType = "NOT_FOUND"
	ErrorTypeConflict    ErrorType = "CONFLICT"
	ErrorTypeRateLimited ErrorType = "RATE_LIMITED"

	// Infrastructure errors
	ErrorTypeDependency ErrorType = "DEPENDENCY"
	ErrorTypeStorage    ErrorType = "STORAGE"
	ErrorTypeConfig     ErrorType = "CONFIG"
	ErrorTypeInternal   ErrorType = "INTERNAL"

	// Ingestion classification: transient errors are retried with backoff,
	// permanent errors go straight to the DLQ.
	ErrorTypeTransientConnector ErrorType = "TRANSIENT_CONNECTOR"
	ErrorTypePermanentConnector ErrorType = "PERMANENT_CONNECTOR"
)

// AppError is the application error carried across layers. Handlers render
// it as `{detail, error_type}` with the mapped HTTP status.
type AppError struct {
	Type       ErrorType      `json:"type"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
	StackTrace string         `json:"-"`
	HTTPStatus int            `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails attaches structured details.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// WithCause wraps an underlying error.
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// Status returns the HTTP status for the error, defaulting to 500.
func (e *AppError) Status() int {
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}

func captureStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	stack := ""
	for {
		frame, more := frames.Next()
		stack += fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return stack
}

func newError(t ErrorType, status int, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		HTTPStatus: status,
		StackTrace: captureStackTrace(),
	}
}

// NewAuthError creates a 401 error for missing/invalid/expired credentials.
func NewAuthError(message string) *AppError {
	if message == "" {
		message = "authentication required"
	}
	return newError(ErrorTypeAuth, http.StatusUnauthorized, message)
}

// NewScopeError creates a 403 error for a missing scope.
func NewScopeError(message string) *AppError {
	if message == "" {
		message = "insufficient scope"
	}
	return newError(ErrorTypeScope, http.StatusForbidden, message)
}

// NewValidationError creates a 400 error.
func NewValidationError(message string) *AppError {
	return newError(ErrorTypeValidation, http.StatusBadRequest, message)
}

// NewUnprocessableError creates a 422 error for semantically invalid input.
func NewUnprocessableError(message string) *AppError {
	return newError(ErrorTypeValidation, http.StatusUnprocessableEntity, message)
}

// NewNotFoundError creates a 404 error. RLS-invisible rows surface here too,
// so the message never confirms existence.
func NewNotFoundError(resource string) *AppError {
	return newError(ErrorTypeNotFound, http.StatusNotFound, fmt.Sprintf("%s not found", resource))
}

// NewConflictError creates a 409 error (optimistic version mismatch).
func NewConflictError(message string) *AppError {
	return newError(ErrorTypeConflict, http.StatusConflict, message)
}

// NewRateLimitedError creates a 429 error.
func NewRateLimitedError(message string) *AppError {
	if message == "" {
		message = "rate limit exceeded"
	}
	return newError(ErrorTypeRateLimited, http.StatusTooManyRequests, message)
}

// NewDependencyError creates a 503 error for an unavailable collaborator
// (LLM, embedding backend, KV store).
func NewDependencyError(dependency string, cause error) *AppError {
	e := newError(ErrorTypeDependency, http.StatusServiceUnavailable,
		fmt.Sprintf("%s unavailable", dependency))
	e.Cause = cause
	return e
}

// NewStorageError creates a 500 error after storage retries are exhausted.
func NewStorageError(message string, cause error) *AppError {
	e := newError(ErrorTypeStorage, http.StatusInternalServerError, message)
	e.Cause = cause
	return e
}

// NewConfigError creates an error for configuration/decryption failures.
// Never include ciphertext or key material in the message.
func NewConfigError(message string) *AppError {
	return newError(ErrorTypeConfig, http.StatusInternalServerError, message)
}

// NewInternalError creates a generic 500 error.
func NewInternalError(message string, cause error) *AppError {
	e := newError(ErrorTypeInternal, http.StatusInternalServerError, message)
	e.Cause = cause
	return e
}

// NewTransientConnectorError marks an ingestion failure as retryable.
func NewTransientConnectorError(message string, cause error) *AppError {
	e := newError(ErrorTypeTransientConnector, http.StatusServiceUnavailable, message)
	e.Cause = cause
	return e
}

// NewPermanentConnectorError marks an ingestion failure as terminal (DLQ).
func NewPermanentConnectorError(message string, cause error) *AppError {
	e := newError(ErrorTypePermanentConnector, http.StatusBadRequest, message)
	e.Cause = cause
	return e
}

// Wrap wraps err in an AppError of the given type, preserving the chain.
func Wrap(err error, t ErrorType, message string) *AppError {
	if err == nil {
		return nil
	}
	var app *AppError
	if errors.As(err, &app) && app.Type == t {
		return app
	}
	e := newError(t, statusFor(t), message)
	e.Cause = err
	return e
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, t ErrorType, format string, args ...any) *AppError {
	return Wrap(err, t, fmt.Sprintf(format, args...))
}

func statusFor(t ErrorType) int {
	switch t {
	case ErrorTypeAuth:
		return http.StatusUnauthorized
	case ErrorTypeScope:
		return http.StatusForbidden
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeRateLimited:
		return http.StatusTooManyRequests
	case ErrorTypeDependency, ErrorTypeTransientConnector:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// TypeOf returns the ErrorType of err, or ErrorTypeInternal for plain errors.
func TypeOf(err error) ErrorType {
	var app *AppError
	if errors.As(err, &app) {
		return app.Type
	}
	return ErrorTypeInternal
}

// StatusOf returns the HTTP status for err, defaulting to 500.
func StatusOf(err error) int {
	var app *AppError
	if errors.As(err, &app) {
		return app.Status()
	}
	return http.StatusInternalServerError
}

func is(err error, t ErrorType) bool {
	var app *AppError
	return errors.As(err, &app) && app.Type == t
}

// IsAuth reports whether err is an authentication error.
func IsAuth(err error) bool { return is(err, ErrorTypeAuth) }

// IsScope reports whether err is a scope error.
func IsScope(err error) bool { return is(err, ErrorTypeScope) }

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return is(err, ErrorTypeValidation) }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return is(err, ErrorTypeNotFound) }

// IsConflict reports whether err is a version-conflict error.
func IsConflict(err error) bool { return is(err, ErrorTypeConflict) }

// IsRateLimited reports whether err is a rate-limit error.
func IsRateLimited(err error) bool { return is(err, ErrorTypeRateLimited) }

// IsDependency reports whether err is a dependency error.
func IsDependency(err error) bool { return is(err, ErrorTypeDependency) }

// IsStorage reports whether err is a storage error.
func IsStorage(err error) bool { return is(err, ErrorTypeStorage) }

// IsTransientConnector reports whether an ingestion error should be retried.
func IsTransientConnector(err error) bool { return is(err, ErrorTypeTransientConnector) }

// IsPermanentConnector reports whether an ingestion error is terminal.
func IsPermanentConnector(err error) bool { return is(err, ErrorTypePermanentConnector) }
