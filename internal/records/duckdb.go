package records

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"github.com/marcboeker/go-duckdb"
)

// DuckDBOptions tunes the embedded database.
type DuckDBOptions struct {
	Threads     int
	MemoryLimit string
}

// DuckDBStore keeps records in an embedded DuckDB file.
type DuckDBStore struct {
	*sqlStore
}

// NewDuckDBStore opens (or creates) the database at path. An empty path or
// ":memory:" opens an in-memory database.
func NewDuckDBStore(path string, opts DuckDBOptions) (*DuckDBStore, error) {
	if path == ":memory:" {
		path = ""
	}
	if opts.Threads <= 0 {
		opts.Threads = 2
	}
	if opts.MemoryLimit == "" {
		opts.MemoryLimit = "256MB"
	}

	connector, err := duckdb.NewConnector(path, func(execer driver.ExecerContext) error {
		pragmas := []string{
			fmt.Sprintf("PRAGMA memory_limit='%s'", opts.MemoryLimit),
			fmt.Sprintf("PRAGMA threads=%d", opts.Threads),
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return fmt.Errorf("failed to set %s: %w", pragma, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create duckdb connector: %w", err)
	}

	db := sql.OpenDB(connector)

	store, err := newSQLStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &DuckDBStore{sqlStore: store}, nil
}
