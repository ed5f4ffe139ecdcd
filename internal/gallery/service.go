// Package gallery implements the image gallery on top of an object store,
// a record store, a listing cache and an event publisher.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/photo-gallery/backend/internal/cache"
	"github.com/photo-gallery/backend/internal/events"
	"github.com/photo-gallery/backend/internal/models"
	"github.com/photo-gallery/backend/internal/records"
	"github.com/photo-gallery/backend/internal/storage"
	"github.com/photo-gallery/backend/internal/upload"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

var (
	ErrNotFound    = errors.New("image not found")
	ErrInvalidName = errors.New("invalid owner or file name")
)

// DefaultURLTTL is how long listed image URLs stay valid.
const DefaultURLTTL = time.Hour

const rollbackTimeout = 10 * time.Second

// Service is the gallery.
type Service struct {
	objects  storage.ObjectStore
	records  records.Store
	listings *cache.ListingCache
	events   events.Publisher
	urlTTL   time.Duration
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithURLTTL sets the lifetime of signed image URLs.
func WithURLTTL(d time.Duration) Option {
	return func(s *Service) { s.urlTTL = d }
}

// WithListingCache caches owner listings in c for ttl.
func WithListingCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) { s.listings = cache.NewListingCache(c, ttl) }
}

// WithEvents publishes gallery notifications to p.
func WithEvents(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a gallery over objects and recs.
func NewService(objects storage.ObjectStore, recs records.Store, opts ...Option) *Service {
	s := &Service{
		objects:  objects,
		records:  recs,
		listings: cache.NewListingCache(cache.Nop{}, 0),
		events:   events.Nop{},
		urlTTL:   DefaultURLTTL,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("gallery")
	return s
}

// StorageName returns the name of the object store backend.
func (s *Service) StorageName() string { return s.objects.Name() }

// Upload stores body as owner's file name and records it. An existing image
// with the same name is replaced.
func (s *Service) Upload(ctx context.Context, owner, name string, body io.Reader, size int64, contentType string, progress storage.ProgressFunc) (*models.Image, error) {
	if err := validName(owner, name); err != nil {
		return nil, err
	}
	key := models.ObjectKey(owner, name)

	obj, err := s.objects.Put(ctx, key, body, size, contentType, progress)
	if err != nil {
		return nil, fmt.Errorf("storing %s: %w", key, err)
	}
	url, err := s.objects.URL(ctx, key, s.urlTTL)
	if err != nil {
		return nil, fmt.Errorf("signing %s: %w", key, err)
	}

	img := &models.Image{
		Owner:       owner,
		Name:        name,
		Key:         key,
		URL:         url,
		Size:        obj.Size,
		ContentType: obj.ContentType,
	}
	if _, err := s.records.Insert(ctx, img); err != nil {
		s.rollback(key)
		return nil, fmt.Errorf("recording %s: %w", key, err)
	}

	s.invalidate(ctx, owner)
	s.publish(ctx, events.Event{
		Type:    events.ImageUploaded,
		Owner:   owner,
		Name:    name,
		ImageID: img.ID,
		URL:     url,
	})
	s.logger.Info("image uploaded",
		zap.String("owner", owner),
		zap.String("name", name),
		zap.Int64("size", img.Size),
		zap.String("backend", s.objects.Name()),
	)
	return img, nil
}

// List returns owner's images, newest first, with freshly signed URLs. The
// object store decides which images exist; records supply their metadata.
func (s *Service) List(ctx context.Context, owner string) ([]models.Image, error) {
	if owner == "" {
		return nil, ErrInvalidName
	}
	if images, ok, err := s.listings.Get(ctx, owner); err != nil {
		s.logger.Warn("listing cache read failed", zap.String("owner", owner), zap.Error(err))
	} else if ok {
		return images, nil
	}

	objects, err := s.objects.List(ctx, owner+"/")
	if err != nil {
		return nil, fmt.Errorf("listing objects of %s: %w", owner, err)
	}
	recs, err := s.records.List(ctx, records.Filter{Owner: owner})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", owner, err)
	}
	images := merge(owner, objects, recs)

	for i := range images {
		url, err := s.objects.URL(ctx, images[i].Key, s.urlTTL)
		if err != nil {
			return nil, fmt.Errorf("signing %s: %w", images[i].Key, err)
		}
		images[i].URL = url
	}

	if err := s.listings.Set(ctx, owner, images); err != nil {
		s.logger.Warn("listing cache write failed", zap.String("owner", owner), zap.Error(err))
	}
	return images, nil
}

// Delete removes owner's file name from storage and its record.
func (s *Service) Delete(ctx context.Context, owner, name string) error {
	if err := validName(owner, name); err != nil {
		return err
	}
	key := models.ObjectKey(owner, name)

	recs, err := s.records.List(ctx, records.Filter{Owner: owner, Name: name})
	if err != nil {
		return fmt.Errorf("looking up %s: %w", key, err)
	}

	objErr := s.objects.Delete(ctx, key)
	if objErr != nil && !errors.Is(objErr, storage.ErrNotFound) {
		return fmt.Errorf("deleting %s: %w", key, objErr)
	}
	if len(recs) == 0 && objErr != nil {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	// The object is gone, so listings must drop the image even if a record
	// outlives it.
	s.invalidate(ctx, owner)

	var errs []error
	for _, r := range recs {
		if err := s.records.Delete(ctx, r.ID); err != nil && !errors.Is(err, records.ErrNotFound) {
			errs = append(errs, fmt.Errorf("deleting record of %s: %w", key, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.publish(ctx, events.Event{Type: events.ImageDeleted, Owner: owner, Name: name})
	s.logger.Info("image deleted", zap.String("owner", owner), zap.String("name", name))
	return nil
}

// DeleteByID removes the image with record id, which must belong to owner.
func (s *Service) DeleteByID(ctx context.Context, owner, id string) error {
	img, err := s.records.Get(ctx, id)
	if errors.Is(err, records.ErrNotFound) || (err == nil && img.Owner != owner) {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return s.Delete(ctx, owner, img.Name)
}

// Transferer adapts the gallery to the upload pipeline for one owner.
func (s *Service) Transferer(owner string) upload.Transferer {
	return upload.TransferFunc(func(ctx context.Context, t upload.Transfer, progress upload.ProgressFunc) (string, error) {
		img, err := s.Upload(ctx, owner, t.Name, t.Body, t.Size, t.ContentType, storage.ProgressFunc(progress))
		if err != nil {
			s.publish(ctx, events.Event{Type: events.UploadFailed, Owner: owner, Name: t.Name, Error: err.Error()})
			return "", err
		}
		return img.URL, nil
	})
}

// BatchFinished publishes the outcome of a server-side batch.
func (s *Service) BatchFinished(ctx context.Context, owner, batchID string, sum upload.Summary) {
	s.publish(ctx, events.Event{
		Type:      events.BatchFinished,
		Owner:     owner,
		BatchID:   batchID,
		Completed: sum.Completed,
		Failed:    sum.Failed,
	})
}

// rollback removes an object whose record could not be written.
func (s *Service) rollback(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), rollbackTimeout)
	defer cancel()
	if err := s.objects.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("orphaned object", zap.String("key", key), zap.Error(err))
	}
}

func (s *Service) invalidate(ctx context.Context, owner string) {
	if err := s.listings.Invalidate(ctx, owner); err != nil {
		s.logger.Warn("listing cache invalidation failed", zap.String("owner", owner), zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Warn("event publish failed", zap.String("type", string(e.Type)), zap.Error(err))
	}
}

// merge builds owner's listing from the objects under the owner's prefix.
// Recorded metadata wins; objects without a record are listed from their
// storage attributes. Records whose object is gone are left out.
func merge(owner string, objects []storage.Object, recs []models.Image) []models.Image {
	byKey := lo.KeyBy(recs, func(img models.Image) string { return img.Key })
	images := make([]models.Image, 0, len(objects))
	for _, obj := range objects {
		name := strings.TrimPrefix(obj.Key, owner+"/")
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		if img, ok := byKey[obj.Key]; ok {
			images = append(images, img)
			continue
		}
		images = append(images, models.Image{
			Owner:       owner,
			Name:        name,
			Key:         obj.Key,
			Size:        obj.Size,
			ContentType: obj.ContentType,
			UploadedAt:  obj.LastModified,
		})
	}
	sort.SliceStable(images, func(i, j int) bool {
		if images[i].UploadedAt.Equal(images[j].UploadedAt) {
			return images[i].Name < images[j].Name
		}
		return images[i].UploadedAt.After(images[j].UploadedAt)
	})
	return images
}

func validName(owner, name string) error {
	if owner == "" || name == "" {
		return ErrInvalidName
	}
	for _, v := range []string{owner, name} {
		if strings.Contains(v, "/") || strings.Contains(v, "\\") || v == "." || v == ".." {
			return fmt.Errorf("%q: %w", v, ErrInvalidName)
		}
	}
	return nil
}
