package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Status represents the lifecycle state of an upload item.
type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether no further automatic transition happens from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Errors returned by the pipeline.
var (
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrTransferFailed  = errors.New("transfer failed")
	ErrInvalidState    = errors.New("invalid state")
	ErrNotFound        = errors.New("item not found")
	ErrClosed          = errors.New("pipeline closed")
)

// RejectedError describes a file refused by AddFiles.
type RejectedError struct {
	Name        string
	Size        int64
	Limit       int64
	ContentType string
	Err         error
}

func (e *RejectedError) Error() string {
	if errors.Is(e.Err, ErrPayloadTooLarge) {
		return fmt.Sprintf("%s: %v (%d bytes, limit %d)", e.Name, e.Err, e.Size, e.Limit)
	}
	if e.ContentType != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Name, e.Err, e.ContentType)
	}
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// Rejections flattens the error returned by AddFiles into its per-file parts.
func Rejections(err error) []*RejectedError {
	if err == nil {
		return nil
	}
	var out []*RejectedError
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			out = append(out, Rejections(e)...)
		}
		return out
	}
	var rej *RejectedError
	if errors.As(err, &rej) {
		out = append(out, rej)
	}
	return out
}

// Blob is a user-selected file.
type Blob struct {
	Name    string
	ModTime time.Time
	Data    []byte
}

// Item is a snapshot of one file in an upload batch.
type Item struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType,omitempty"`
	ModTime     time.Time `json:"modTime"`
	Status      Status    `json:"status"`
	Progress    float64   `json:"progress"`
	URL         string    `json:"url,omitempty"`
	Error       string    `json:"error,omitempty"`
	Attempts    int       `json:"attempts"`
	PreviewID   string    `json:"previewId,omitempty"`
}

// Summary reports the outcome of an UploadAll run.
type Summary struct {
	Attempted int `json:"attempted"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Transfer describes one payload handed to the storage collaborator.
type Transfer struct {
	ItemID      string
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// ProgressFunc receives the number of bytes sent so far out of total.
type ProgressFunc func(sent, total int64)

// Transferer is the storage collaborator used by the pipeline. It returns
// the public URL of the stored payload.
type Transferer interface {
	Transfer(ctx context.Context, t Transfer, progress ProgressFunc) (string, error)
}

// TransferFunc adapts a function to the Transferer interface.
type TransferFunc func(ctx context.Context, t Transfer, progress ProgressFunc) (string, error)

// Transfer calls f.
func (f TransferFunc) Transfer(ctx context.Context, t Transfer, progress ProgressFunc) (string, error) {
	return f(ctx, t, progress)
}

// EventType identifies pipeline notifications.
type EventType string

const (
	EventAdded     EventType = "added"
	EventRemoved   EventType = "removed"
	EventStarted   EventType = "started"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventFinished  EventType = "finished"
)

// Event is delivered to pipeline subscribers. Index and Total locate the
// item within the current UploadAll run.
type Event struct {
	Type    EventType `json:"type"`
	Item    *Item     `json:"item,omitempty"`
	Index   int       `json:"index,omitempty"`
	Total   int       `json:"total,omitempty"`
	Summary *Summary  `json:"summary,omitempty"`
	Err     error     `json:"-"`
}
