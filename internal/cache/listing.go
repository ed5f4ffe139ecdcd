package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/photo-gallery/backend/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

const listingKeyPrefix = "gallery:images:"

// ListingCache caches an owner's signed image listing.
type ListingCache struct {
	cache Cache
	ttl   time.Duration
}

// NewListingCache stores listings in c for ttl. The ttl must stay below the
// signed URL lifetime so cached URLs are still valid when served.
func NewListingCache(c Cache, ttl time.Duration) *ListingCache {
	return &ListingCache{cache: c, ttl: ttl}
}

func listingKey(owner string) string {
	return fmt.Sprintf("%s%s", listingKeyPrefix, owner)
}

// Get returns the cached listing of owner, if any.
func (lc *ListingCache) Get(ctx context.Context, owner string) ([]models.Image, bool, error) {
	data, ok, err := lc.cache.Get(ctx, listingKey(owner))
	if err != nil || !ok {
		return nil, false, err
	}
	var images []models.Image
	if err := msgpack.Unmarshal(data, &images); err != nil {
		return nil, false, fmt.Errorf("decoding listing of %s: %w", owner, err)
	}
	return images, true, nil
}

// Set caches the listing of owner.
func (lc *ListingCache) Set(ctx context.Context, owner string, images []models.Image) error {
	data, err := msgpack.Marshal(images)
	if err != nil {
		return fmt.Errorf("encoding listing of %s: %w", owner, err)
	}
	return lc.cache.Set(ctx, listingKey(owner), data, lc.ttl)
}

// Invalidate drops the cached listing of owner.
func (lc *ListingCache) Invalidate(ctx context.Context, owner string) error {
	return lc.cache.Del(ctx, listingKey(owner))
}
