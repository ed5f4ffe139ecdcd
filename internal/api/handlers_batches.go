// handlers_batches.go - Server-side upload batch handlers
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/photo-gallery/backend/internal/upload"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// maxBatchFiles bounds the number of files accepted by one request.
const maxBatchFiles = 50

// batchStreamTimeout ends event streams of batches that never finish.
const batchStreamTimeout = 10 * time.Minute

// BatchHandlerImpl implements the BatchHandler interface
type BatchHandlerImpl struct {
	batches  BatchManager
	maxBytes int64
	logger   *zap.Logger
}

// NewBatchHandler creates a new batch handler instance
func NewBatchHandler(batches BatchManager, maxBytes int64, logger *zap.Logger) BatchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchHandlerImpl{
		batches:  batches,
		maxBytes: maxBytes,
		logger:   logger.Named("batches"),
	}
}

// rejection describes a file refused by the pipeline
type rejection struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Reason string `json:"reason"`
}

type createBatchResponse struct {
	Batch    *upload.Batch `json:"batch"`
	Rejected []rejection   `json:"rejected"`
}

type addFilesResponse struct {
	Items    []upload.Item `json:"items"`
	Rejected []rejection   `json:"rejected"`
}

// HandleCreateBatch creates a batch from the multipart "files" parts
func (h *BatchHandlerImpl) HandleCreateBatch(c echo.Context) error {
	blobs, err := h.readBlobs(c)
	if err != nil {
		return err
	}
	owner, err := ownerOf(c, c.FormValue("userId"))
	if err != nil {
		return err
	}

	b, err := h.batches.CreateBatch(owner, blobs)
	if b == nil {
		return domainError("failed to create batch", err)
	}
	return c.JSON(http.StatusCreated, createBatchResponse{
		Batch:    b,
		Rejected: rejections(err),
	})
}

// HandleGetBatch returns a batch snapshot
func (h *BatchHandlerImpl) HandleGetBatch(c echo.Context) error {
	b, err := h.batchFor(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

// HandleAddFiles appends files to an existing batch
func (h *BatchHandlerImpl) HandleAddFiles(c echo.Context) error {
	b, err := h.batchFor(c)
	if err != nil {
		return err
	}
	blobs, err := h.readBlobs(c)
	if err != nil {
		return err
	}

	items, err := h.batches.AddFiles(b.ID, blobs)
	rejected := rejections(err)
	if err != nil && len(rejected) == 0 {
		return domainError("failed to add files", err)
	}
	return c.JSON(http.StatusOK, addFilesResponse{
		Items:    lo.Ternary(items == nil, []upload.Item{}, items),
		Rejected: rejected,
	})
}

// HandleRemoveItem removes one item; 409 while it is uploading
func (h *BatchHandlerImpl) HandleRemoveItem(c echo.Context) error {
	b, err := h.batchFor(c)
	if err != nil {
		return err
	}
	itemID := c.Param("itemId")
	if itemID == "" {
		return NewValidationError("itemId")
	}
	if err := h.batches.RemoveItem(b.ID, itemID); err != nil {
		return domainError("failed to remove item", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleStartUpload starts uploading a batch in the background
func (h *BatchHandlerImpl) HandleStartUpload(c echo.Context) error {
	b, err := h.batchFor(c)
	if err != nil {
		return err
	}
	started, err := h.batches.StartUpload(b.ID)
	if err != nil {
		return domainError("failed to start upload", err)
	}
	return c.JSON(http.StatusAccepted, started)
}

// HandleDiscardBatch drops a batch and its previews
func (h *BatchHandlerImpl) HandleDiscardBatch(c echo.Context) error {
	b, err := h.batchFor(c)
	if err != nil {
		return err
	}
	if err := h.batches.Discard(b.ID); err != nil {
		return domainError("failed to discard batch", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandlePreview returns the JPEG thumbnail of an item
func (h *BatchHandlerImpl) HandlePreview(c echo.Context) error {
	b, err := h.batchFor(c)
	if err != nil {
		return err
	}
	itemID := c.Param("itemId")
	data, err := h.batches.Preview(b.ID, itemID)
	if err != nil {
		return domainError("failed to load preview", err)
	}
	if len(data) == 0 {
		return NewNotFoundError("preview", itemID)
	}
	c.Response().Header().Set("Cache-Control", "private, max-age=300")
	return c.Blob(http.StatusOK, "image/jpeg", data)
}

// HandleBatchEvents streams pipeline events via SSE until the run finishes
func (h *BatchHandlerImpl) HandleBatchEvents(c echo.Context) error {
	b, err := h.batchFor(c)
	if err != nil {
		return err
	}

	events := make(chan upload.Event, 64)
	finished := make(chan struct{})
	var once sync.Once
	unsubscribe, err := h.batches.Subscribe(b.ID, func(e upload.Event) {
		select {
		case events <- e:
		default:
		}
		if e.Type == upload.EventFinished {
			once.Do(func() { close(finished) })
		}
	})
	if err != nil {
		return domainError("failed to subscribe", err)
	}
	defer unsubscribe()

	// Re-read after subscribing so a run that ended in between is seen as done.
	cur, ok := h.batches.GetBatch(b.ID)
	if !ok {
		return NewNotFoundError("batch", b.ID)
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	// Initial snapshot, so late subscribers see finished batches too
	h.sendSSE(c, "batch", cur)
	if cur.Status == upload.BatchStatusDone {
		return nil
	}

	timeout := time.NewTimer(batchStreamTimeout)
	defer timeout.Stop()

	for {
		select {
		case e := <-events:
			h.sendSSE(c, string(e.Type), eventPayload(e))
			if e.Type == upload.EventFinished {
				h.sendFinal(c, b.ID)
				return nil
			}
		case <-finished:
			h.drain(c, events)
			return nil
		case <-timeout.C:
			h.sendSSE(c, "error", map[string]string{"error": "stream timeout"})
			return nil
		case <-c.Request().Context().Done():
			return nil
		}
	}
}

// batchFor looks up the batch named by the request and checks ownership.
func (h *BatchHandlerImpl) batchFor(c echo.Context) (*upload.Batch, error) {
	id := c.Param("batchId")
	if id == "" {
		return nil, NewValidationError("batchId")
	}
	b, ok := h.batches.GetBatch(id)
	if !ok {
		return nil, NewNotFoundError("batch", id)
	}
	if _, err := ownerOf(c, b.Owner); err != nil {
		return nil, err
	}
	return b, nil
}

// readBlobs reads the "files" parts of a multipart request. The optional
// "lastModified" fields give each file's modification time in Unix
// milliseconds, in part order.
func (h *BatchHandlerImpl) readBlobs(c echo.Context) ([]upload.Blob, error) {
	if h.maxBytes > 0 {
		c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, maxBatchFiles*(h.maxBytes+multipartOverhead))
	}
	form, err := c.MultipartForm()
	if err != nil {
		if tooLarge(err) {
			return nil, NewPayloadTooLargeError("request", maxBatchFiles*h.maxBytes)
		}
		return nil, NewBadRequestError("invalid multipart form", err)
	}
	files := form.File["files"]
	if len(files) == 0 {
		return nil, NewBadRequestError("No file uploaded.", nil)
	}
	if len(files) > maxBatchFiles {
		return nil, NewBadRequestError(fmt.Sprintf("at most %d files per request", maxBatchFiles), nil)
	}
	modTimes := form.Value["lastModified"]

	now := time.Now()
	blobs := make([]upload.Blob, 0, len(files))
	for i, fh := range files {
		data, err := readPart(fh)
		if err != nil {
			return nil, NewInternalError("failed to read uploaded file", err)
		}
		modTime := now
		if i < len(modTimes) {
			if ms, err := strconv.ParseInt(modTimes[i], 10, 64); err == nil {
				modTime = time.UnixMilli(ms)
			}
		}
		blobs = append(blobs, upload.Blob{Name: fh.Filename, ModTime: modTime, Data: data})
	}
	return blobs, nil
}

// drain flushes buffered events and ends with the final batch snapshot.
func (h *BatchHandlerImpl) drain(c echo.Context, events <-chan upload.Event) {
	defer h.sendFinal(c, c.Param("batchId"))
	for {
		select {
		case e := <-events:
			h.sendSSE(c, string(e.Type), eventPayload(e))
			if e.Type == upload.EventFinished {
				return
			}
		default:
			return
		}
	}
}

// sendFinal writes the batch as it stands once the run has finished.
func (h *BatchHandlerImpl) sendFinal(c echo.Context, id string) {
	if b, ok := h.batches.GetBatch(id); ok {
		h.sendSSE(c, "batch", b)
	}
}

func (h *BatchHandlerImpl) sendSSE(c echo.Context, event string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		h.logger.Warn("encoding event failed", zap.String("event", event), zap.Error(err))
		return
	}
	fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", event, jsonData)
	c.Response().Flush()
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func rejections(err error) []rejection {
	return lo.Map(upload.Rejections(err), func(r *upload.RejectedError, _ int) rejection {
		return rejection{Name: r.Name, Size: r.Size, Reason: r.Error()}
	})
}

// eventPayload is the wire form of a pipeline event.
func eventPayload(e upload.Event) map[string]interface{} {
	out := map[string]interface{}{"type": e.Type}
	if e.Item != nil {
		out["item"] = e.Item
	}
	if e.Total > 0 {
		out["index"] = e.Index
		out["total"] = e.Total
	}
	if e.Summary != nil {
		out["summary"] = e.Summary
	}
	if e.Err != nil {
		out["error"] = e.Err.Error()
	}
	return out
}
