// Package db provides the SQLite database connection and schema management.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // sqlite driver
)

const createUploads = `
CREATE TABLE IF NOT EXISTS uploads (
    id                TEXT PRIMARY KEY,
    original_filename TEXT NOT NULL,
    storage_key       TEXT NOT NULL,
    mime_type         TEXT NOT NULL,
    file_size         INTEGER NOT NULL,
    status            TEXT NOT NULL DEFAULT 'uploading',
    duration_sec      REAL,
    resolution        TEXT,
    created_at        TEXT NOT NULL,
    updated_at        TEXT
);`

const createJobs = `
CREATE TABLE IF NOT EXISTS jobs (
    id            TEXT PRIMARY KEY,
    upload_id     TEXT NOT NULL REFERENCES uploads(id),
    model_name    TEXT NOT NULL,
    prediction_id TEXT,
    status        TEXT NOT NULL DEFAULT 'pending',
    progress      REAL NOT NULL DEFAULT 0,
    output_key    TEXT,
    output_size   INTEGER,
    output_url    TEXT,
    error_message TEXT,
    created_at    TEXT NOT NULL,
    started_at    TEXT,
    completed_at  TEXT
);`

const createJobIndexes = `
CREATE INDEX IF NOT EXISTS idx_jobs_upload_id ON jobs(upload_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);`

// Open opens the SQLite database at the given path and applies the schema.
// Parent directories are created if missing. The returned handle is limited
// to a single open connection: sqlite serializes writers anyway, and one
// connection gives every reader read-after-write consistency.
func Open(ctx context.Context, path string, logger *slog.Logger) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("db: create database directory: %w", err)
	}

	handle, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("db: open database: %w", err)
	}
	handle.SetMaxOpenConns(1)

	if err := handle.PingContext(ctx); err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("db: ping database: %w", err)
	}

	for _, stmt := range []string{createUploads, createJobs, createJobIndexes} {
		if _, err := handle.ExecContext(ctx, stmt); err != nil {
			_ = handle.Close()
			return nil, fmt.Errorf("db: apply schema: %w", err)
		}
	}

	logger.Info("database ready", slog.String("path", path))
	return handle, nil
}

// Close closes the database connection gracefully.
func Close(handle *sql.DB, logger *slog.Logger) {
	if handle == nil {
		return
	}
	if err := handle.Close(); err != nil {
		logger.Error("failed to close database", slog.String("error", err.Error()))
		return
	}
	logger.Info("database closed")
}
