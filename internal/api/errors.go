// errors.go - Structured error handling for API responses
package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"gitlab.com/tozd/go/errors"

	"github.com/filedeck/backend/internal/accounts"
	"github.com/filedeck/backend/internal/auth"
	"github.com/filedeck/backend/internal/remote"
	"github.com/filedeck/backend/internal/tracker"
)

// ShowErrorDetails includes the underlying error text in unexpected-error
// responses. The server turns it on with --debug.
var ShowErrorDetails = false

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error for a specific field
func NewValidationError(field string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("validation failed for field: %s", field),
	}
}

// NewUnauthorizedError creates a 401 error. The browser treats it as a
// signal to return to sign-in.
func NewUnauthorizedError(message string) *APIError {
	return &APIError{
		Status:  http.StatusUnauthorized,
		Code:    "UNAUTHORIZED",
		Message: message,
	}
}

// NewForbiddenError creates a 403 error
func NewForbiddenError(message string) *APIError {
	return &APIError{
		Status:  http.StatusForbidden,
		Code:    "FORBIDDEN",
		Message: message,
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewConflictError creates a 409 Conflict error
func NewConflictError(message string) *APIError {
	return &APIError{
		Status:  http.StatusConflict,
		Code:    "CONFLICT",
		Message: message,
	}
}

// NewInternalError creates a 500 Internal Server Error. The cause is only
// exposed when ShowErrorDetails is set.
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil && ShowErrorDetails {
		err.Details = cause.Error()
	}
	return err
}

// NewServiceUnavailableError creates a 503 Service Unavailable error
func NewServiceUnavailableError(message string) *APIError {
	return &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
	}
}

// FromDomain converts an error returned by the tracker, the account store or
// the remote client into an APIError. id names the addressed resource.
func FromDomain(err error, id string) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, tracker.ErrNotFound):
		return NewNotFoundError("file", id)
	case errors.Is(err, tracker.ErrNotRetryable),
		errors.Is(err, tracker.ErrInFlight),
		errors.Is(err, tracker.ErrNotPending):
		return NewConflictError(err.Error())
	case errors.Is(err, tracker.ErrInvalidFile):
		e := NewValidationError("file")
		e.Details = err.Error()
		return e
	case errors.Is(err, tracker.ErrSyncUnsupported):
		return NewBadRequestError("sync is only available in remote mode", nil)

	case errors.Is(err, accounts.ErrNotFound):
		return NewNotFoundError("user", id)
	case errors.Is(err, accounts.ErrEmailImmutable):
		e := NewValidationError("email")
		e.Details = err.Error()
		return e
	case errors.Is(err, accounts.ErrInvalidName):
		e := NewValidationError("name")
		e.Details = err.Error()
		return e
	case errors.Is(err, accounts.ErrInvalidAccount):
		return NewBadRequestError("invalid account data", err)
	case errors.Is(err, accounts.ErrEmailTaken):
		return NewConflictError(err.Error())
	case errors.Is(err, accounts.ErrNoPendingDelete):
		return NewNotFoundError("pending delete", id)
	case errors.Is(err, accounts.ErrInvalidCredential):
		return NewUnauthorizedError("invalid email or password")
	case errors.Is(err, accounts.ErrInactive):
		return NewForbiddenError("account is inactive")

	case errors.Is(err, auth.ErrExpiredToken):
		return NewUnauthorizedError("session expired")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, remote.ErrUnauthorized):
		return NewUnauthorizedError("authentication required")
	}

	var statusErr *remote.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusNotFound {
			return NewNotFoundError("file", id)
		}
		return &APIError{
			Status:  http.StatusBadGateway,
			Code:    "REMOTE_ERROR",
			Message: statusErr.Message,
		}
	}

	return NewInternalError("unexpected error", err)
}

// ErrorHandler middleware for Echo
// Usage: e.HTTPErrorHandler = api.ErrorHandler
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	var httpErr *echo.HTTPError

	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &httpErr):
		apiErr = &APIError{
			Status:  httpErr.Code,
			Code:    httpCode(httpErr.Code),
			Message: fmt.Sprintf("%v", httpErr.Message),
		}
	default:
		apiErr = &APIError{
			Status:  http.StatusInternalServerError,
			Code:    "UNKNOWN_ERROR",
			Message: "An unexpected error occurred",
		}
		if ShowErrorDetails {
			apiErr.Details = err.Error()
		}
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(apiErr.Status)
		return
	}
	_ = c.JSON(apiErr.Status, apiErr)
}

func httpCode(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusRequestEntityTooLarge:
		return "TOO_LARGE"
	default:
		return "HTTP_ERROR"
	}
}
