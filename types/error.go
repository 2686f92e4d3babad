package types

import "fmt"

// ErrorCode represents a unified error code across the service.
type ErrorCode string

// Browser automation error codes
const (
	ErrBrowserStartFailed ErrorCode = "BROWSER_START_FAILED"
	ErrNavigationTimeout  ErrorCode = "NAVIGATION_TIMEOUT"
	ErrSelectorNotFound   ErrorCode = "SELECTOR_NOT_FOUND"
	ErrFrameNotFound      ErrorCode = "FRAME_NOT_FOUND"
	ErrAccessDenied       ErrorCode = "ACCESS_DENIED"
	ErrTimeout            ErrorCode = "TIMEOUT"
)

// Flow / session error codes
const (
	ErrChannelUnsupported ErrorCode = "CHANNEL_UNSUPPORTED"
	ErrDuplicateRequest   ErrorCode = "DUPLICATE_REQUEST"
	ErrSessionNotFound    ErrorCode = "SESSION_NOT_FOUND"
	ErrSessionExpired     ErrorCode = "SESSION_EXPIRED"
	ErrSessionLimit       ErrorCode = "SESSION_LIMIT"
)

// API error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Step       string    `json:"step,omitempty"`
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

// WithStep records the flow step the error occurred in.
func (e *Error) WithStep(step string) *Error {
	e.Step = step
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
