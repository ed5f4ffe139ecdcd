package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// LocalStore implements ObjectStore using the local filesystem. Objects are
// served by the HTTP server under /media/.
type LocalStore struct {
	mu        sync.RWMutex
	uploadDir string
	baseURL   string
}

// NewLocalStore creates a new LocalStore.
func NewLocalStore(uploadDir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}

	return &LocalStore{
		uploadDir: uploadDir,
		baseURL:   strings.TrimRight(baseURL, "/"),
	}, nil
}

// Name identifies the backend.
func (s *LocalStore) Name() string { return "local" }

// Root returns the directory holding the objects.
func (s *LocalStore) Root() string { return s.uploadDir }

// Put writes the object to a temporary file and renames it into place, so
// readers never see a partial payload.
func (s *LocalStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string, progress ProgressFunc) (*Object, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		if contentType, body, err = sniffContentType(body); err != nil {
			return nil, fmt.Errorf("reading payload: %w", err)
		}
	}

	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating object directory: %w", err)
	}

	tmp := filepath.Join(filepath.Dir(path), ".upload-"+uuid.New().String())
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}

	pr := newProgressReader(&ctxReader{ctx: ctx, r: body}, size, progress)
	written, err := io.Copy(f, pr)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("writing file: %w", err)
	}

	s.mu.Lock()
	err = os.Rename(tmp, path)
	s.mu.Unlock()
	if err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("storing file: %w", err)
	}
	pr.complete()

	return &Object{
		Key:          key,
		Size:         written,
		ContentType:  contentType,
		URL:          s.publicURL(key),
		LastModified: time.Now(),
	}, nil
}

// List returns the objects under prefix, most recent first.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []Object
	err := filepath.WalkDir(s.uploadDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(s.uploadDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		obj := Object{
			Key:          key,
			Size:         info.Size(),
			URL:          s.publicURL(key),
			LastModified: info.ModTime(),
		}
		if mt, err := mimetype.DetectFile(path); err == nil {
			obj.ContentType = mt.String()
		}
		list = append(list, obj)
		return ctx.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("listing %q: %w", prefix, err)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].LastModified.After(list[j].LastModified)
	})

	return list, nil
}

// Delete removes an object from storage.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// URL returns the public URL of key. Local URLs do not expire.
func (s *LocalStore) URL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return s.publicURL(key), nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.uploadDir, filepath.FromSlash(key))
}

func (s *LocalStore) publicURL(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return s.baseURL + "/media/" + strings.Join(parts, "/")
}

// ctxReader stops reading once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
