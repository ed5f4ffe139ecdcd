package records

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/photo-gallery/backend/internal/models"
)

// MemoryStore keeps records in a map. Used for tests and ephemeral runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.Image
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]models.Image)}
}

func (s *MemoryStore) Insert(ctx context.Context, img *models.Image) (string, error) {
	rec := prepare(img)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.records {
		if r.Owner == rec.Owner && r.Name == rec.Name {
			delete(s.records, id)
		}
	}
	s.records[rec.ID] = rec
	img.ID = rec.ID
	img.UploadedAt = rec.UploadedAt
	return rec.ID, nil
}

func (s *MemoryStore) List(ctx context.Context, f Filter) ([]models.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]models.Image, 0, len(s.records))
	for _, r := range s.records {
		if f.Owner != "" && r.Owner != f.Owner {
			continue
		}
		if f.Name != "" && r.Name != f.Name {
			continue
		}
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].UploadedAt.Equal(list[j].UploadedAt) {
			return list[i].Name < list[j].Name
		}
		return list[i].UploadedAt.After(list[j].UploadedAt)
	})
	if f.Limit > 0 && len(list) > f.Limit {
		list = list[:f.Limit]
	}
	return list, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return &r, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// prepare fills the generated fields of a record about to be inserted.
func prepare(img *models.Image) models.Image {
	rec := *img
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Key == "" {
		rec.Key = models.ObjectKey(rec.Owner, rec.Name)
	}
	if rec.UploadedAt.IsZero() {
		rec.UploadedAt = time.Now()
	}
	rec.UploadedAt = rec.UploadedAt.UTC().Truncate(time.Microsecond)
	return rec
}
