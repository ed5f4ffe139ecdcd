// mock_storage.go - In-memory collaborators for testing
package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/photo-gallery/backend/internal/events"
	"github.com/photo-gallery/backend/internal/storage"
)

// MockObjectStore implements storage.ObjectStore in memory.
type MockObjectStore struct {
	mu      sync.RWMutex
	objects map[string]storage.Object
	data    map[string][]byte
	signed  int

	// PutErr, when set, is returned by Put for keys it matches.
	PutErr func(key string) error
	// URLPrefix is prepended to keys to build URLs.
	URLPrefix string
}

// NewMockObjectStore creates an empty in-memory object store.
func NewMockObjectStore() *MockObjectStore {
	return &MockObjectStore{
		objects:   make(map[string]storage.Object),
		data:      make(map[string][]byte),
		URLPrefix: "https://objects.test/",
	}
}

func (m *MockObjectStore) Name() string { return "mock" }

func (m *MockObjectStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string, progress storage.ProgressFunc) (*storage.Object, error) {
	if m.PutErr != nil {
		if err := m.PutErr(key); err != nil {
			return nil, err
		}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}
	total := int64(len(data))
	if progress != nil {
		progress(total/2, total)
		progress(total, total)
	}

	obj := storage.Object{
		Key:          key,
		Size:         total,
		ContentType:  contentType,
		LastModified: time.Now(),
	}

	m.mu.Lock()
	m.objects[key] = obj
	m.data[key] = data
	m.mu.Unlock()

	obj.URL = m.URLPrefix + key
	return &obj, nil
}

func (m *MockObjectStore) List(ctx context.Context, prefix string) ([]storage.Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var list []storage.Object
	for k, o := range m.objects {
		if strings.HasPrefix(k, prefix) {
			list = append(list, o)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Key < list[j].Key })
	return list, nil
}

func (m *MockObjectStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	delete(m.objects, key)
	delete(m.data, key)
	return nil
}

// URL returns a fake signed URL that changes on every call.
func (m *MockObjectStore) URL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signed++
	return fmt.Sprintf("%s%s?ttl=%s&sig=%d", m.URLPrefix, key, ttl, m.signed), nil
}

// Data returns the stored payload of key.
func (m *MockObjectStore) Data(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.data[key]
	return d, ok
}

// Len returns the number of stored objects.
func (m *MockObjectStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// FailKeys returns a PutErr func failing the given keys.
func FailKeys(keys ...string) func(string) error {
	return func(key string) error {
		for _, k := range keys {
			if k == key {
				return errors.New("storage unavailable")
			}
		}
		return nil
	}
}

// RecordingPublisher collects published events.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *RecordingPublisher) Publish(ctx context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *RecordingPublisher) Close() error { return nil }

// Events returns a copy of the published events.
func (p *RecordingPublisher) Events() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

// Types returns the types of the published events in order.
func (p *RecordingPublisher) Types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}
