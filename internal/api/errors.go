// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/photo-gallery/backend/internal/gallery"
	"github.com/photo-gallery/backend/internal/identity"
	"github.com/photo-gallery/backend/internal/records"
	"github.com/photo-gallery/backend/internal/storage"
	"github.com/photo-gallery/backend/internal/upload"
	"go.uber.org/zap"
)

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

// Error constructors for consistent error handling

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

// NewUnauthorizedError creates a 401 Unauthorized error
func NewUnauthorizedError(cause error) *APIError {
	err := &APIError{
		Status:  http.StatusUnauthorized,
		Code:    "UNAUTHORIZED",
		Message: "authentication required",
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewForbiddenError creates a 403 Forbidden error
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

// NewPayloadTooLargeError creates a 413 error for files over limit bytes
func NewPayloadTooLargeError(name string, limit int64) *APIError {
	return &APIError{
		Status:  http.StatusRequestEntityTooLarge,
		Code:    "PAYLOAD_TOO_LARGE",
		Message: fmt.Sprintf("%s exceeds the %d byte limit", name, limit),
	}
}

// NewUnsupportedTypeError creates a 415 error
func NewUnsupportedTypeError(message string) *APIError {
	return &APIError{
		Status:  http.StatusUnsupportedMediaType,
		Code:    "UNSUPPORTED_MEDIA_TYPE",
		Message: message,
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
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

// toAPIError maps domain errors to their HTTP representation.
func toAPIError(err error, development bool) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return &APIError{
			Status:  httpErr.Code,
			Code:    "HTTP_ERROR",
			Message: fmt.Sprintf("%v", httpErr.Message),
		}
	}

	var out *APIError
	switch {
	case errors.Is(err, identity.ErrUnauthenticated):
		out = NewUnauthorizedError(nil)
	case errors.Is(err, identity.ErrForbidden):
		out = NewForbiddenError("access to another owner's gallery is not allowed")
	case errors.Is(err, upload.ErrPayloadTooLarge):
		out = &APIError{Status: http.StatusRequestEntityTooLarge, Code: "PAYLOAD_TOO_LARGE", Message: "file too large"}
	case errors.Is(err, upload.ErrUnsupportedType):
		out = NewUnsupportedTypeError("unsupported content type")
	case errors.Is(err, upload.ErrInvalidState):
		out = NewConflictError("operation not allowed in the current state")
	case errors.Is(err, upload.ErrBatchNotFound):
		out = &APIError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: "batch not found"}
	case errors.Is(err, upload.ErrNotFound):
		out = &APIError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: "item not found"}
	case errors.Is(err, gallery.ErrNotFound), errors.Is(err, records.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		out = &APIError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: "image not found"}
	case errors.Is(err, gallery.ErrInvalidName), errors.Is(err, storage.ErrInvalidKey):
		out = NewBadRequestError("invalid owner or file name", nil)
	default:
		out = &APIError{
			Status:  http.StatusInternalServerError,
			Code:    "UNKNOWN_ERROR",
			Message: "An unexpected error occurred",
		}
		if development {
			out.Details = err.Error()
		}
		return out
	}
	if development {
		out.Details = err.Error()
	}
	return out
}

// NewErrorHandler returns an echo error handler that renders APIErrors and
// logs server-side failures.
// Usage: e.HTTPErrorHandler = api.NewErrorHandler(logger, dev)
func NewErrorHandler(logger *zap.Logger, development bool) echo.HTTPErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		apiErr := toAPIError(err, development)
		if apiErr.Status >= http.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Request().URL.Path),
				zap.Error(err),
			)
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(apiErr.Status)
			return
		}
		_ = c.JSON(apiErr.Status, apiErr)
	}
}

// ErrorHandler renders errors without logging.
func ErrorHandler(err error, c echo.Context) {
	NewErrorHandler(nil, false)(err, c)
}

// RespondWithError is a helper to respond with an APIError
func RespondWithError(c echo.Context, err *APIError) error {
	return c.JSON(err.Status, err)
}
