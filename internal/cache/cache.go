// Package cache provides the byte cache used for owner listings.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/photo-gallery/backend/internal/config"
)

// Cache stores opaque values with a TTL. A miss is reported by ok=false,
// not by an error.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Close() error
}

// Open builds the cache selected by cfg.
func Open(cfg config.CacheConfig) (Cache, error) {
	switch cfg.Backend {
	case "", "none":
		return Nop{}, nil
	case "memory":
		return NewMemory(), nil
	case "redis":
		return ConnectRedis(cfg.Addr, cfg.Password, cfg.DB)
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Nop) Del(context.Context, ...string) error { return nil }
func (Nop) Close() error { return nil }
