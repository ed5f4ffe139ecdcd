package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/photo-gallery/backend/internal/gallery"
	"github.com/photo-gallery/backend/internal/identity"
	"github.com/photo-gallery/backend/internal/records"
	"github.com/photo-gallery/backend/internal/upload"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestToAPIError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{NewConflictError("busy"), http.StatusConflict, "CONFLICT"},
		{echo.NewHTTPError(http.StatusMethodNotAllowed, "nope"), http.StatusMethodNotAllowed, "HTTP_ERROR"},
		{fmt.Errorf("x: %w", identity.ErrUnauthenticated), http.StatusUnauthorized, "UNAUTHORIZED"},
		{fmt.Errorf("x: %w", identity.ErrForbidden), http.StatusForbidden, "FORBIDDEN"},
		{&upload.RejectedError{Name: "a", Err: upload.ErrPayloadTooLarge}, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"},
		{fmt.Errorf("x: %w", upload.ErrUnsupportedType), http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE"},
		{fmt.Errorf("x: %w", upload.ErrInvalidState), http.StatusConflict, "CONFLICT"},
		{fmt.Errorf("x: %w", upload.ErrBatchNotFound), http.StatusNotFound, "NOT_FOUND"},
		{fmt.Errorf("x: %w", gallery.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{fmt.Errorf("x: %w", records.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{fmt.Errorf("x: %w", gallery.ErrInvalidName), http.StatusBadRequest, "BAD_REQUEST"},
		{errors.New("boom"), http.StatusInternalServerError, "UNKNOWN_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			got := toAPIError(tt.err, false)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantCode, got.Code)
		})
	}
}

func TestErrorHandlerDetails(t *testing.T) {
	e := echo.New()

	for _, dev := range []bool{false, true} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		NewErrorHandler(zaptest.NewLogger(t), dev)(errors.New("disk on fire"), e.NewContext(req, rec))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		if dev {
			assert.Contains(t, rec.Body.String(), "disk on fire")
		} else {
			assert.NotContains(t, rec.Body.String(), "disk on fire")
		}
	}
}

func TestDomainError(t *testing.T) {
	err := domainError("failed", fmt.Errorf("x: %w", gallery.ErrNotFound))
	assert.ErrorIs(t, err, gallery.ErrNotFound)

	err = domainError("failed", errors.New("db down"))
	var apiErr *APIError
	if assert.True(t, errors.As(err, &apiErr)) {
		assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
		assert.Equal(t, "db down", apiErr.Details)
	}
}
