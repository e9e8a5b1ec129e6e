package job

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
// the jobs table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a job repository on top of an open database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const jobColumns = `id, upload_id, model_name, prediction_id, status, progress,
	output_key, output_size, output_url, error_message,
	created_at, started_at, completed_at`

// Save upserts the full job record. Last writer wins; the orchestrator
// guarantees a single writer per job id.
func (r *SQLiteRepository) Save(ctx context.Context, job *Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			upload_id = excluded.upload_id,
			model_name = excluded.model_name,
			prediction_id = excluded.prediction_id,
			status = excluded.status,
			progress = excluded.progress,
			output_key = excluded.output_key,
			output_size = excluded.output_size,
			output_url = excluded.output_url,
			error_message = excluded.error_message,
			created_at = excluded.created_at,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at`,
		job.ID,
		job.UploadID,
		job.ModelName,
		nullString(job.PredictionID),
		string(job.Status),
		job.Progress,
		nullString(job.OutputKey),
		nullInt64(job.OutputSize),
		nullString(job.OutputURL),
		nullString(job.Error),
		formatTime(job.CreatedAt),
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

// FindByID retrieves a job by its ID.
// Returns ErrJobNotFound if the job does not exist.
func (r *SQLiteRepository) FindByID(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find job %s: %w", id, err)
	}
	return job, nil
}

// ListByUpload returns all jobs for an upload, newest first.
func (r *SQLiteRepository) ListByUpload(ctx context.Context, uploadID string) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE upload_id = ? ORDER BY created_at DESC`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("list jobs for upload %s: %w", uploadID, err)
	}
	defer func() { _ = rows.Close() }()
	return scanJobs(rows)
}

// ListActive returns all pending or processing jobs, oldest first.
func (r *SQLiteRepository) ListActive(ctx context.Context) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status IN (?, ?) ORDER BY created_at ASC`,
		string(StatusPending), string(StatusProcessing))
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanJobs(rows)
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j            Job
		predictionID sql.NullString
		status       string
		outputKey    sql.NullString
		outputSize   sql.NullInt64
		outputURL    sql.NullString
		errorMessage sql.NullString
		createdAt    string
		startedAt    sql.NullString
		completedAt  sql.NullString
	)

	if err := row.Scan(
		&j.ID, &j.UploadID, &j.ModelName, &predictionID, &status, &j.Progress,
		&outputKey, &outputSize, &outputURL, &errorMessage,
		&createdAt, &startedAt, &completedAt,
	); err != nil {
		return nil, err
	}

	j.PredictionID = predictionID.String
	j.Status = Status(status)
	j.OutputKey = outputKey.String
	j.OutputSize = outputSize.Int64
	j.OutputURL = outputURL.String
	j.Error = errorMessage.String

	var err error
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if j.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if j.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}

	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	result := make([]*Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		result = append(result, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return result, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullTime(ns sql.NullString) (time.Time, error) {
	if !ns.Valid {
		return time.Time{}, nil
	}
	return parseTime(ns.String)
}
