package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/photo-gallery/backend/internal/models"
)

const imagesSchema = `CREATE TABLE IF NOT EXISTS images (
	id           VARCHAR PRIMARY KEY,
	owner        VARCHAR NOT NULL,
	name         VARCHAR NOT NULL,
	object_key   VARCHAR NOT NULL,
	url          VARCHAR NOT NULL,
	size         BIGINT NOT NULL,
	content_type VARCHAR NOT NULL,
	uploaded_at  TIMESTAMP NOT NULL
)`

const imagesIndex = `CREATE INDEX IF NOT EXISTS images_owner_name ON images (owner, name)`

const imageColumns = `id, owner, name, object_key, url, size, content_type, uploaded_at`

// sqlStore implements Store over database/sql with "?" placeholders, shared
// by the DuckDB and SQLite backends.
type sqlStore struct {
	db *sql.DB
}

func newSQLStore(db *sql.DB) (*sqlStore, error) {
	for _, stmt := range []string{imagesSchema, imagesIndex} {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	return &sqlStore{db: db}, nil
}

func (s *sqlStore) Insert(ctx context.Context, img *models.Image) (string, error) {
	rec := prepare(img)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM images WHERE owner = ? AND name = ?`, rec.Owner, rec.Name); err != nil {
		return "", fmt.Errorf("replacing %s: %w", rec.Key, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO images (`+imageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Owner, rec.Name, rec.Key, rec.URL, rec.Size, rec.ContentType, rec.UploadedAt,
	)
	if err != nil {
		return "", fmt.Errorf("inserting %s: %w", rec.Key, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	img.ID = rec.ID
	img.UploadedAt = rec.UploadedAt
	return rec.ID, nil
}

func (s *sqlStore) List(ctx context.Context, f Filter) ([]models.Image, error) {
	var (
		where []string
		args  []any
	)
	if f.Owner != "" {
		where = append(where, "owner = ?")
		args = append(args, f.Owner)
	}
	if f.Name != "" {
		where = append(where, "name = ?")
		args = append(args, f.Name)
	}

	query := `SELECT ` + imageColumns + ` FROM images`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY uploaded_at DESC, name ASC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *sqlStore) Get(ctx context.Context, id string) (*models.Image, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+imageColumns+` FROM images WHERE id = ?`, id)
	img, err := scanImage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return img, err
}

func (s *sqlStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM images WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanImage(row scanner) (*models.Image, error) {
	var img models.Image
	err := row.Scan(&img.ID, &img.Owner, &img.Name, &img.Key, &img.URL, &img.Size, &img.ContentType, &img.UploadedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning image: %w", err)
	}
	img.UploadedAt = img.UploadedAt.UTC()
	return &img, nil
}
