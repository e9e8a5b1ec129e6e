package job

import (
	"context"
	"errors"
)

// ErrJobNotFound is returned when a job cannot be found by ID.
var ErrJobNotFound = errors.New("job not found")

// Repository defines the interface for job persistence.
// It acts as a port in the hexagonal architecture pattern.
//
// Save is last-writer-wins on a per-call basis; the repository performs no
// business validation. The orchestrator guarantees at most one writer per
// job id, so no optimistic concurrency control is needed.
type Repository interface {
	// Save persists a job to the storage.
	// If the job already exists, it is overwritten.
	Save(ctx context.Context, job *Job) error

	// FindByID retrieves a job by its unique identifier.
	// Returns ErrJobNotFound if the job does not exist.
	FindByID(ctx context.Context, id string) (*Job, error)

	// ListByUpload returns all jobs for an upload, newest first.
	ListByUpload(ctx context.Context, uploadID string) ([]*Job, error)

	// ListActive returns all jobs in pending or processing state,
	// oldest first, for recovery scans.
	ListActive(ctx context.Context) ([]*Job, error)
}
