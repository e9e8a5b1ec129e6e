package upload

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Compile-time check that SQLiteRepository implements Repository.
var _ Repository = (*SQLiteRepository)(nil)

// SQLiteRepository is the durable implementation of Repository backed by
// the uploads table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates an upload repository on top of an open database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const uploadColumns = `id, original_filename, storage_key, mime_type, file_size,
	status, duration_sec, resolution, created_at, updated_at`

// Save upserts the full upload record.
func (r *SQLiteRepository) Save(ctx context.Context, u *Upload) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO uploads (`+uploadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			original_filename = excluded.original_filename,
			storage_key = excluded.storage_key,
			mime_type = excluded.mime_type,
			file_size = excluded.file_size,
			status = excluded.status,
			duration_sec = excluded.duration_sec,
			resolution = excluded.resolution,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		u.ID,
		u.OriginalFilename,
		u.StorageKey,
		u.MimeType,
		u.FileSize,
		string(u.Status),
		nullFloat64(u.DurationSec),
		nullString(u.Resolution),
		formatTime(u.CreatedAt),
		formatTime(u.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save upload %s: %w", u.ID, err)
	}
	return nil
}

// FindByID retrieves an upload by its ID.
// Returns ErrUploadNotFound if the upload does not exist.
func (r *SQLiteRepository) FindByID(ctx context.Context, id string) (*Upload, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE id = ?`, id)
	u, err := scanUpload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUploadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find upload %s: %w", id, err)
	}
	return u, nil
}

// List returns uploads newest first, bounded by limit and offset.
func (r *SQLiteRepository) List(ctx context.Context, limit, offset int) ([]*Upload, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+uploadColumns+` FROM uploads ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]*Upload, 0)
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate uploads: %w", err)
	}
	return result, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUpload(row rowScanner) (*Upload, error) {
	var (
		u           Upload
		status      string
		durationSec sql.NullFloat64
		resolution  sql.NullString
		createdAt   string
		updatedAt   sql.NullString
	)

	if err := row.Scan(
		&u.ID, &u.OriginalFilename, &u.StorageKey, &u.MimeType, &u.FileSize,
		&status, &durationSec, &resolution, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	u.Status = Status(status)
	u.DurationSec = durationSec.Float64
	u.Resolution = resolution.String

	var err error
	if u.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if updatedAt.Valid {
		if u.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt.String); err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
	}

	return &u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat64(f float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: f, Valid: f != 0}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
