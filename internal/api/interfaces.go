// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"
	"io"

	"github.com/labstack/echo/v4"
	"github.com/photo-gallery/backend/internal/models"
	"github.com/photo-gallery/backend/internal/storage"
	"github.com/photo-gallery/backend/internal/upload"
)

// ImageHandler handles the single-request upload, list and delete routes
type ImageHandler interface {
	HandleUpload(c echo.Context) error
	HandleListImages(c echo.Context) error
	HandleDeleteImage(c echo.Context) error
	HandleDeleteImageByID(c echo.Context) error
}

// BatchHandler handles server-side upload batches
type BatchHandler interface {
	HandleCreateBatch(c echo.Context) error
	HandleGetBatch(c echo.Context) error
	HandleAddFiles(c echo.Context) error
	HandleRemoveItem(c echo.Context) error
	HandleStartUpload(c echo.Context) error
	HandleDiscardBatch(c echo.Context) error
	HandlePreview(c echo.Context) error
	HandleBatchEvents(c echo.Context) error
}

// AuthHandler handles sign-in and sign-out
type AuthHandler interface {
	HandleSignIn(c echo.Context) error
	HandleSignOut(c echo.Context) error
	HandleMe(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// BatchStreamHandler streams batch progress over a WebSocket
type BatchStreamHandler interface {
	HandleWebSocket(c echo.Context) error
}

// Gallery is the image service used by the handlers.
// This allows mocking in tests
type Gallery interface {
	Upload(ctx context.Context, owner, name string, body io.Reader, size int64, contentType string, progress storage.ProgressFunc) (*models.Image, error)
	List(ctx context.Context, owner string) ([]models.Image, error)
	Delete(ctx context.Context, owner, name string) error
	DeleteByID(ctx context.Context, owner, id string) error
	StorageName() string
}

// BatchManager defines the batch operations used by the handlers
type BatchManager interface {
	CreateBatch(owner string, blobs []upload.Blob) (*upload.Batch, error)
	GetBatch(id string) (*upload.Batch, bool)
	AddFiles(id string, blobs []upload.Blob) ([]upload.Item, error)
	RemoveItem(id, itemID string) error
	Preview(id, itemID string) ([]byte, error)
	Subscribe(id string, fn func(upload.Event)) (func(), error)
	StartUpload(id string) (*upload.Batch, error)
	Discard(id string) error
	DiscardOwner(owner string) int
}
