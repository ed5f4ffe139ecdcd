// Package records stores image metadata: one record per owner and file name.
package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/photo-gallery/backend/internal/config"
	"github.com/photo-gallery/backend/internal/models"
)

// ErrNotFound is returned when no record matches.
var ErrNotFound = errors.New("record not found")

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Owner string
	Name  string
	Limit int
}

// Store persists image records. Insert replaces any record with the same
// owner and name.
type Store interface {
	Insert(ctx context.Context, img *models.Image) (string, error)
	List(ctx context.Context, f Filter) ([]models.Image, error)
	Get(ctx context.Context, id string) (*models.Image, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Open builds the record store selected by cfg.
func Open(ctx context.Context, cfg config.RecordsConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "duckdb":
		return NewDuckDBStore(cfg.DSN, DuckDBOptions{Threads: cfg.Threads, MemoryLimit: cfg.MemoryLimit})
	case "sqlite":
		return NewSQLiteStore(cfg.DSN)
	case "postgres":
		return NewPostgresStore(ctx, cfg.DSN)
	}
	return nil, fmt.Errorf("unknown records backend %q", cfg.Backend)
}
