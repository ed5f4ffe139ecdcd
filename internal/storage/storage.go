// Package storage holds the object storage collaborators that receive image
// payloads and hand out their URLs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/photo-gallery/backend/internal/config"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// ErrInvalidKey is returned for keys that are empty or escape the store.
var ErrInvalidKey = errors.New("invalid object key")

// ProgressFunc receives bytes sent so far out of total.
type ProgressFunc func(sent, total int64)

// Object describes a stored payload.
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"contentType,omitempty"`
	URL          string    `json:"url,omitempty"`
	LastModified time.Time `json:"lastModified"`
}

// ObjectStore defines the interface for object storage.
type ObjectStore interface {
	// Put stores body under key. An empty contentType is sniffed from the body.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string, progress ProgressFunc) (*Object, error)
	List(ctx context.Context, prefix string) ([]Object, error)
	Delete(ctx context.Context, key string) error
	// URL returns a URL for key valid for at least ttl.
	URL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Name() string
}

// Open builds the object store selected by cfg. publicURL is the server's
// externally visible base URL, used by the local backend.
func Open(ctx context.Context, cfg config.StorageConfig, publicURL string) (ObjectStore, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalStore(cfg.UploadsDirectory, publicURL)
	case "s3":
		return NewS3Store(ctx, S3Options{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			PathStyle: cfg.PathStyle,
		})
	case "minio":
		return NewMinioStore(MinioOptions{
			Endpoint:  cfg.Endpoint,
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
		})
	case "oss":
		return NewOSSStore(OSSOptions{
			Endpoint:  cfg.Endpoint,
			Region:    cfg.Region,
			Bucket:    cfg.Bucket,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
		})
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

// cleanKey rejects keys that are empty, absolute, or contain dot segments.
func cleanKey(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("%q: %w", key, ErrInvalidKey)
		}
	}
	return key, nil
}
