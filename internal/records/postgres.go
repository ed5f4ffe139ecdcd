package records

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/photo-gallery/backend/internal/models"
)

const pgSchema = `CREATE TABLE IF NOT EXISTS images (
	id           TEXT PRIMARY KEY,
	owner        TEXT NOT NULL,
	name         TEXT NOT NULL,
	object_key   TEXT NOT NULL,
	url          TEXT NOT NULL,
	size         BIGINT NOT NULL,
	content_type TEXT NOT NULL,
	uploaded_at  TIMESTAMPTZ NOT NULL,
	UNIQUE (owner, name)
)`

// PostgresStore keeps records in PostgreSQL through a pgx pool.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore connects to dsn and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return NewPostgresRepo(pool), nil
}

// NewPostgresRepo wraps an existing pool.
func NewPostgresRepo(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (r *PostgresStore) Insert(ctx context.Context, img *models.Image) (string, error) {
	rec := prepare(img)

	query := `INSERT INTO images (` + imageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (owner, name) DO UPDATE SET
			id = EXCLUDED.id, object_key = EXCLUDED.object_key, url = EXCLUDED.url,
			size = EXCLUDED.size, content_type = EXCLUDED.content_type, uploaded_at = EXCLUDED.uploaded_at`

	_, err := r.db.Exec(ctx, query, rec.ID, rec.Owner, rec.Name, rec.Key, rec.URL, rec.Size, rec.ContentType, rec.UploadedAt)
	if err != nil {
		return "", fmt.Errorf("inserting %s: %w", rec.Key, err)
	}

	img.ID = rec.ID
	img.UploadedAt = rec.UploadedAt
	return rec.ID, nil
}

func (r *PostgresStore) List(ctx context.Context, f Filter) ([]models.Image, error) {
	var (
		where []string
		args  []any
	)
	if f.Owner != "" {
		args = append(args, f.Owner)
		where = append(where, fmt.Sprintf("owner = $%d", len(args)))
	}
	if f.Name != "" {
		args = append(args, f.Name)
		where = append(where, fmt.Sprintf("name = $%d", len(args)))
	}

	query := `SELECT ` + imageColumns + ` FROM images`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY uploaded_at DESC, name ASC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}
	defer rows.Close()

	list := []models.Image{}
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *img)
	}
	return list, rows.Err()
}

func (r *PostgresStore) Get(ctx context.Context, id string) (*models.Image, error) {
	row := r.db.QueryRow(ctx, `SELECT `+imageColumns+` FROM images WHERE id = $1`, id)
	var img models.Image
	err := row.Scan(&img.ID, &img.Owner, &img.Name, &img.Key, &img.URL, &img.Size, &img.ContentType, &img.UploadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning image: %w", err)
	}
	img.UploadedAt = img.UploadedAt.UTC()
	return &img, nil
}

func (r *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM images WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *PostgresStore) Close() error {
	r.db.Close()
	return nil
}
