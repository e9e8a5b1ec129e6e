// Package upload provides the Upload aggregate: ingested source videos that
// enhancement jobs read from. Uploads move through uploading → uploaded and
// are never mutated by the job orchestrator.
package upload

import (
	"context"
	"errors"
	"time"

	"github.com/skyframe/skyframe-api/internal/job/id"
	"github.com/skyframe/skyframe-api/internal/storage"
)

// Status represents the current state of an Upload.
type Status string

const (
	// StatusUploading indicates the upload record exists but bytes may still be arriving.
	StatusUploading Status = "uploading"
	// StatusUploaded indicates the file is fully stored and ready for enhancement.
	StatusUploaded Status = "uploaded"
	// StatusFailed indicates ingestion failed.
	StatusFailed Status = "failed"
)

// ErrUploadNotFound is returned when an upload cannot be found by ID.
var ErrUploadNotFound = errors.New("upload not found")

// Upload represents one ingested source video.
type Upload struct {
	// ID is the unique identifier for this upload.
	ID string
	// OriginalFilename is the filename as sent by the client.
	OriginalFilename string
	// StorageKey locates the raw bytes in blob storage.
	StorageKey string
	// MimeType is the declared MIME type of the file.
	MimeType string
	// FileSize is the size in bytes.
	FileSize int64
	// Status is the current ingestion state.
	Status Status
	// DurationSec is the probed video duration, if known.
	DurationSec float64
	// Resolution is the probed video resolution ("WIDTHxHEIGHT"), if known.
	Resolution string
	// CreatedAt is when the upload was initiated.
	CreatedAt time.Time
	// UpdatedAt is when the record was last updated.
	UpdatedAt time.Time
}

// New creates a new Upload in uploading state with a generated ID and
// a storage key derived from the ID and filename.
func New(filename, mimeType string, fileSize int64) *Upload {
	uploadID := id.NewUploadID()
	now := time.Now().UTC()
	return &Upload{
		ID:               uploadID,
		OriginalFilename: filename,
		StorageKey:       storage.UploadKey(uploadID, filename),
		MimeType:         mimeType,
		FileSize:         fileSize,
		Status:           StatusUploading,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Clone creates a copy of the upload for safe reads.
func (u *Upload) Clone() *Upload {
	clone := *u
	return &clone
}

// Repository defines the interface for upload persistence.
type Repository interface {
	// Save persists an upload. If the upload already exists, it is overwritten.
	Save(ctx context.Context, upload *Upload) error

	// FindByID retrieves an upload by its unique identifier.
	// Returns ErrUploadNotFound if the upload does not exist.
	FindByID(ctx context.Context, id string) (*Upload, error)

	// List returns uploads newest first, bounded by limit and offset.
	List(ctx context.Context, limit, offset int) ([]*Upload, error)
}
