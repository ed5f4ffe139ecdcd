// handlers_images.go - Single-request upload, list and delete handlers
package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/labstack/echo/v4"
	"github.com/photo-gallery/backend/internal/identity"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// multipartOverhead is the allowance for form fields and part headers on
// top of the file size limit.
const multipartOverhead = 64 << 10

const mimeMsgpack = "application/msgpack"

// ImageHandlerImpl implements the ImageHandler interface
type ImageHandlerImpl struct {
	gallery      Gallery
	maxBytes     int64
	allowedTypes []string
	logger       *zap.Logger
}

// NewImageHandler creates a new image handler instance
func NewImageHandler(g Gallery, maxBytes int64, allowedTypes []string, logger *zap.Logger) ImageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImageHandlerImpl{
		gallery:      g,
		maxBytes:     maxBytes,
		allowedTypes: allowedTypes,
		logger:       logger.Named("images"),
	}
}

// HandleUpload accepts a multipart "image" (or "file") part and a userId
// field and stores the file as <userId>/<filename>.
func (h *ImageHandlerImpl) HandleUpload(c echo.Context) error {
	if h.maxBytes > 0 {
		c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, h.maxBytes+multipartOverhead)
	}

	fh, err := h.formFile(c, "image", "file")
	if err != nil {
		return err
	}
	owner, err := ownerOf(c, c.FormValue("userId"))
	if err != nil {
		return err
	}
	if h.maxBytes > 0 && fh.Size > h.maxBytes {
		return NewPayloadTooLargeError(fh.Filename, h.maxBytes)
	}

	src, err := fh.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	contentType, err := h.detectType(src)
	if err != nil {
		return err
	}

	img, err := h.gallery.Upload(c.Request().Context(), owner, fh.Filename, src, fh.Size, contentType, nil)
	if err != nil {
		return domainError("failed to upload file", err)
	}
	return c.JSON(http.StatusOK, img)
}

// HandleListImages returns the owner's images with signed URLs. Clients
// sending Accept: application/msgpack get a MessagePack body.
func (h *ImageHandlerImpl) HandleListImages(c echo.Context) error {
	owner := c.Param("ownerId")
	if owner == "" {
		return NewValidationError("ownerId")
	}

	images, err := h.gallery.List(c.Request().Context(), owner)
	if err != nil {
		return domainError("failed to list images", err)
	}

	if wantsMsgpack(c) {
		data, err := msgpack.Marshal(images)
		if err != nil {
			return NewInternalError("failed to encode images", err)
		}
		return c.Blob(http.StatusOK, mimeMsgpack, data)
	}
	return c.JSON(http.StatusOK, images)
}

// HandleDeleteImage deletes <ownerId>/<name>
func (h *ImageHandlerImpl) HandleDeleteImage(c echo.Context) error {
	owner, name := c.Param("ownerId"), c.Param("name")
	if owner == "" {
		return NewValidationError("ownerId")
	}
	if name == "" {
		return NewValidationError("name")
	}

	if err := h.gallery.Delete(c.Request().Context(), owner, name); err != nil {
		return domainError("failed to delete image", err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "File deleted successfully",
		"name":    name,
	})
}

// HandleDeleteImageByID deletes an image by its record ID
func (h *ImageHandlerImpl) HandleDeleteImageByID(c echo.Context) error {
	owner, id := c.Param("ownerId"), c.Param("imageId")
	if owner == "" {
		return NewValidationError("ownerId")
	}
	if id == "" {
		return NewValidationError("imageId")
	}

	if err := h.gallery.DeleteByID(c.Request().Context(), owner, id); err != nil {
		return domainError("failed to delete image", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// formFile returns the first present file among fields.
func (h *ImageHandlerImpl) formFile(c echo.Context, fields ...string) (*multipart.FileHeader, error) {
	for _, field := range fields {
		fh, err := c.FormFile(field)
		if err == nil {
			return fh, nil
		}
		if tooLarge(err) {
			return nil, NewPayloadTooLargeError("request", h.maxBytes)
		}
		if !errors.Is(err, http.ErrMissingFile) {
			return nil, NewBadRequestError("invalid multipart form", err)
		}
	}
	return nil, NewBadRequestError("No file uploaded.", nil)
}

// detectType sniffs src and rewinds it.
func (h *ImageHandlerImpl) detectType(src multipart.File) (string, error) {
	mt, err := mimetype.DetectReader(src)
	if err != nil {
		return "", NewInternalError("failed to read uploaded file", err)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return "", NewInternalError("failed to read uploaded file", err)
	}
	if len(h.allowedTypes) > 0 && !mimetype.EqualsAny(mt.String(), h.allowedTypes...) {
		return "", NewUnsupportedTypeError(fmt.Sprintf("content type %s is not allowed", mt.String()))
	}
	return mt.String(), nil
}

// ownerOf resolves the gallery owner of a request. An authenticated user
// may only act on their own gallery and is the default owner.
func ownerOf(c echo.Context, requested string) (string, error) {
	u, authenticated := identity.UserFrom(c)
	switch {
	case requested == "" && authenticated:
		return u.ID, nil
	case requested == "":
		return "", NewBadRequestError("No user ID provided.", nil)
	case authenticated && requested != u.ID:
		return "", fmt.Errorf("user %s cannot access %s: %w", u.ID, requested, identity.ErrForbidden)
	}
	return requested, nil
}

// domainError keeps client errors as they are and wraps everything else
// in an internal error with message.
func domainError(message string, err error) error {
	if toAPIError(err, false).Status < http.StatusInternalServerError {
		return err
	}
	return NewInternalError(message, err)
}

func wantsMsgpack(c echo.Context) bool {
	accept := c.Request().Header.Get(echo.HeaderAccept)
	return strings.Contains(accept, mimeMsgpack) || strings.Contains(accept, "application/x-msgpack")
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
