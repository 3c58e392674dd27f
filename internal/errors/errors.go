// Package errors defines the service error type used by the HTTP surface.
// Internal packages return plain wrapped errors; handlers and middleware
// convert them to ServiceError values with stable codes for clients.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ServiceError is an error with a stable machine-readable code and an HTTP
// status for the API boundary.
type ServiceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *ServiceError) Unwrap() error { return e.Err }

// BadRequest returns a 400 error.
func BadRequest(message string) *ServiceError {
	return &ServiceError{Code: "bad_request", Message: message, Status: http.StatusBadRequest}
}

// Unauthorized returns a 401 error.
func Unauthorized(message string) *ServiceError {
	return &ServiceError{Code: "unauthorized", Message: message, Status: http.StatusUnauthorized}
}

// Forbidden returns a 403 error.
func Forbidden(message string) *ServiceError {
	return &ServiceError{Code: "forbidden", Message: message, Status: http.StatusForbidden}
}

// NotFound returns a 404 error.
func NotFound(message string) *ServiceError {
	return &ServiceError{Code: "not_found", Message: message, Status: http.StatusNotFound}
}

// RateLimited returns a 429 error.
func RateLimited(message string) *ServiceError {
	return &ServiceError{Code: "rate_limited", Message: message, Status: http.StatusTooManyRequests}
}

// Internal returns a 500 error wrapping the underlying cause.
func Internal(message string, err error) *ServiceError {
	return &ServiceError{Code: "internal", Message: message, Status: http.StatusInternalServerError, Err: err}
}

// AsServiceError converts err to a *ServiceError, wrapping unknown errors
// as internal.
func AsServiceError(err error) *ServiceError {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return Internal("internal error", err)
}
