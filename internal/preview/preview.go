// Package preview manages locally scoped preview handles for pending uploads.
package preview

import (
	"bytes"
	"errors"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// DefaultSize is the bounding box of generated thumbnails, in pixels.
const DefaultSize = 256

// ErrReleased is returned when reading a handle that has been released.
var ErrReleased = errors.New("preview released")

// Handle is a reference to a renderable preview of an upload payload.
type Handle interface {
	// ID identifies the handle within its registry.
	ID() string
	// Thumbnail returns the JPEG thumbnail, or nil if the payload is not an image.
	Thumbnail() ([]byte, error)
	// Release frees the preview. Calling it more than once is a no-op.
	Release()
}

// Registry creates and tracks preview handles.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*handle
	size    int
}

// NewRegistry creates a registry producing thumbnails that fit in size x size.
// A non-positive size falls back to DefaultSize.
func NewRegistry(size int) *Registry {
	if size <= 0 {
		size = DefaultSize
	}
	return &Registry{
		handles: make(map[string]*handle),
		size:    size,
	}
}

// Create builds a preview for data. Payloads that do not decode as images
// still get a handle, with an empty thumbnail.
func (r *Registry) Create(name string, data []byte) (Handle, error) {
	h := &handle{id: uuid.New().String(), name: name, registry: r}

	if img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true)); err == nil {
		thumb := imaging.Thumbnail(img, r.size, r.size, imaging.Lanczos)
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
			return nil, err
		}
		h.thumb = buf.Bytes()
	}

	r.mu.Lock()
	r.handles[h.id] = h
	r.mu.Unlock()
	return h, nil
}

// Get looks up a live handle by ID.
func (r *Registry) Get(id string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return nil, false
	}
	return h, true
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Close releases every live handle.
func (r *Registry) Close() {
	r.mu.Lock()
	handles := make([]*handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.Release()
	}
}

func (r *Registry) forget(id string) {
	r.mu.Lock()
	delete(r.handles, id)
	r.mu.Unlock()
}

type handle struct {
	mu       sync.Mutex
	id       string
	name     string
	thumb    []byte
	released bool
	registry *Registry
}

func (h *handle) ID() string { return h.id }

func (h *handle) Thumbnail() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil, ErrReleased
	}
	return h.thumb, nil
}

func (h *handle) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	h.thumb = nil
	h.mu.Unlock()

	h.registry.forget(h.id)
}
