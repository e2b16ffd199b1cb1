// Package errors defines the service error type shared by the HTTP layer
// and the application services. Errors carry a stable machine-readable code
// and the HTTP status the API layer should respond with.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies an error category in API responses.
type ErrorCode string

const (
	CodeInvalidInput  ErrorCode = "invalid_input"
	CodeNotFound      ErrorCode = "not_found"
	CodeAlreadyExists ErrorCode = "already_exists"
	CodeUnauthorized  ErrorCode = "unauthorized"
	CodeForbidden     ErrorCode = "forbidden"
	CodeRateLimited   ErrorCode = "rate_limited"
	CodeRenderFailed  ErrorCode = "render_failed"
	CodeInternal      ErrorCode = "internal"
)

// ServiceError is the canonical error shape surfaced over the API.
type ServiceError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	cause      error
}

func (e *ServiceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap exposes the underlying cause to errors.Is and errors.As.
func (e *ServiceError) Unwrap() error {
	return e.cause
}

// WithDetails attaches a key/value pair to the error and returns it for
// chaining.
func (e *ServiceError) WithDetails(key string, value any) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// GetServiceError returns the ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return nil
}

// New builds a ServiceError with an explicit code and status.
func New(code ErrorCode, status int, message string, cause error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: status,
		cause:      cause,
	}
}

// InvalidInput marks a request the caller can fix.
func InvalidInput(message string, cause error) *ServiceError {
	return New(CodeInvalidInput, http.StatusBadRequest, message, cause)
}

// NotFound marks a missing resource.
func NotFound(resource, id string) *ServiceError {
	msg := resource + " not found"
	if id != "" {
		msg = fmt.Sprintf("%s %q not found", resource, id)
	}
	return New(CodeNotFound, http.StatusNotFound, msg, nil)
}

// AlreadyExists marks a uniqueness conflict.
func AlreadyExists(resource, id string) *ServiceError {
	return New(CodeAlreadyExists, http.StatusConflict, fmt.Sprintf("%s %q already exists", resource, id), nil)
}

// Unauthorized marks a missing or unusable credential.
func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "authentication required"
	}
	return New(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

// InvalidToken marks a credential that was presented but rejected.
func InvalidToken(cause error) *ServiceError {
	return New(CodeUnauthorized, http.StatusUnauthorized, "invalid or expired token", cause)
}

// Forbidden marks an authenticated caller without permission.
func Forbidden(message string) *ServiceError {
	if message == "" {
		message = "permission denied"
	}
	return New(CodeForbidden, http.StatusForbidden, message, nil)
}

// RateLimitExceeded marks a caller over their request budget.
func RateLimitExceeded(limit int, window string) *ServiceError {
	e := New(CodeRateLimited, http.StatusTooManyRequests, "rate limit exceeded", nil)
	return e.WithDetails("limit", limit).WithDetails("window", window)
}

// RenderFailed marks a template that could not be rendered.
func RenderFailed(templateID string, cause error) *ServiceError {
	e := New(CodeRenderFailed, http.StatusUnprocessableEntity, "template render failed", cause)
	return e.WithDetails("template_id", templateID)
}

// Internal marks an unexpected server-side failure.
func Internal(message string, cause error) *ServiceError {
	if message == "" {
		message = "internal error"
	}
	return New(CodeInternal, http.StatusInternalServerError, message, cause)
}
