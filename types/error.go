package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the pipeline.
type ErrorCode string

const (
	// Fatal: missing credentials or collection configuration. Never retried.
	ErrConfiguration ErrorCode = "CONFIGURATION"
	// Fatal: the provider rejected the configured credentials. Never retried.
	ErrAuthentication ErrorCode = "AUTHENTICATION"
	// Transient: provider or store throttled the request.
	ErrRateLimited ErrorCode = "RATE_LIMITED"
	// Transient: request or connection timed out.
	ErrTimeout ErrorCode = "TIMEOUT"
	// Transient: upstream 5xx or connection failure.
	ErrUpstreamError ErrorCode = "UPSTREAM_ERROR"
	// Fatal: malformed request rejected by the provider.
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	// A stream ended without a terminal usage event; the partial answer
	// must not be treated as complete.
	ErrGenerationInterrupted ErrorCode = "GENERATION_INTERRUPTED"
	ErrInternalError         ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// AsError extracts a *Error from anywhere in the error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks whether an error is marked retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsFatal reports whether an error must never be retried regardless of
// transport-level signals.
func IsFatal(err error) bool {
	switch GetErrorCode(err) {
	case ErrConfiguration, ErrAuthentication, ErrInvalidRequest:
		return true
	}
	return false
}
