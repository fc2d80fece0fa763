package opsboard

import (
	"errors"
	"fmt"

	"github.com/opsboard/opsboard-go/internal/types"
)

// Sentinel errors. The transport layer returns the internal instances, so
// these are aliases rather than fresh values to keep errors.Is working
// across the package boundary.
var (
	// ErrNotAuthenticated is returned when authentication is required
	ErrNotAuthenticated = types.ErrNotAuthenticated

	// ErrLoginFailed is returned when login fails
	ErrLoginFailed = types.ErrLoginFailed

	// ErrSessionExpired is returned when the session has expired
	ErrSessionExpired = types.ErrSessionExpired

	// ErrRateLimited is returned when rate limited
	ErrRateLimited = types.ErrRateLimited

	// ErrTimeout is returned on timeout
	ErrTimeout = types.ErrTimeout

	// ErrNotFound is returned when resource not found
	ErrNotFound = types.ErrNotFound

	// ErrServerError is returned for server errors
	ErrServerError = types.ErrServerError

	// ErrPollerStopped is returned when a poller is used after teardown
	ErrPollerStopped = errors.New("poller stopped")
)

// Error represents an API error
type Error struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	StatusCode int                    `json:"statusCode"`
	Details    map[string]interface{} `json:"details,omitempty"`
	RequestID  string                 `json:"requestId,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is checks if the error matches target
func (e *Error) Is(target error) bool {
	if e.Err != nil {
		return errors.Is(e.Err, target)
	}

	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return e.Code == t.Code
}

// NewError creates a new API error
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an error with additional context
func WrapError(err error, code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsAuthError checks if error is authentication related
func IsAuthError(err error) bool {
	return errors.Is(err, ErrNotAuthenticated) ||
		errors.Is(err, ErrLoginFailed) ||
		errors.Is(err, ErrSessionExpired)
}

// IsRetryable checks if error is retryable
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrServerError) {
		return true
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == 429
	}

	return false
}
