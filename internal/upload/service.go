package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/skyframe/skyframe-api/internal/media"
	"github.com/skyframe/skyframe-api/internal/storage"
)

// Static errors for ingestion validation.
var (
	// ErrUnsupportedFormat is returned for file extensions other than .mp4/.mov.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrUnsupportedMimeType is returned for MIME types other than video/mp4 and video/quicktime.
	ErrUnsupportedMimeType = errors.New("unsupported MIME type")
	// ErrFileTooLarge is returned when the declared or actual size exceeds the limit.
	ErrFileTooLarge = errors.New("file too large")
	// ErrNotUploading is returned when bytes arrive for an upload that is not in uploading state.
	ErrNotUploading = errors.New("upload is not accepting content")
	// ErrContentMissing is returned when an upload is completed before any bytes were stored.
	ErrContentMissing = errors.New("upload content not found in storage")
)

var (
	allowedExtensions = map[string]bool{".mp4": true, ".mov": true}
	allowedMimeTypes  = map[string]bool{"video/mp4": true, "video/quicktime": true}
)

// Service handles video ingestion: metadata validation, byte streaming into
// blob storage, and completion with ffprobe metadata.
type Service struct {
	repo    Repository
	store   storage.Storage
	prober  media.Prober
	logger  *slog.Logger
	maxSize int64
}

// NewService creates a new upload Service.
// The prober is optional; when nil, completed uploads carry no probed metadata.
func NewService(repo Repository, store storage.Storage, prober media.Prober, maxSize int64, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		store:   store,
		prober:  prober,
		logger:  logger,
		maxSize: maxSize,
	}
}

// Init validates the declared file metadata and creates an upload record
// in uploading state.
func (s *Service) Init(ctx context.Context, filename, mimeType string, fileSize int64) (*Upload, error) {
	if err := s.validateMeta(filename, mimeType, fileSize); err != nil {
		return nil, err
	}

	u := New(filename, mimeType, fileSize)
	if err := s.repo.Save(ctx, u); err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}

	s.logger.Info("upload initiated",
		slog.String("upload_id", u.ID),
		slog.String("filename", filename),
		slog.Int64("declared_size", fileSize),
	)

	return u, nil
}

// Put streams the raw video bytes into blob storage for the given upload.
// The stream is capped at the configured size limit.
func (s *Service) Put(ctx context.Context, uploadID string, data io.Reader) (int64, error) {
	u, err := s.repo.FindByID(ctx, uploadID)
	if err != nil {
		return 0, err
	}
	if u.Status != StatusUploading {
		return 0, ErrNotUploading
	}

	written, err := s.store.Save(ctx, u.StorageKey, io.LimitReader(data, s.maxSize+1))
	if err != nil {
		s.markFailed(ctx, u)
		return 0, fmt.Errorf("store upload content: %w", err)
	}
	if written > s.maxSize {
		_ = s.store.Delete(ctx, u.StorageKey)
		return 0, ErrFileTooLarge
	}

	u.FileSize = written
	u.UpdatedAt = time.Now().UTC()
	if err := s.repo.Save(ctx, u); err != nil {
		return 0, fmt.Errorf("save upload: %w", err)
	}

	return written, nil
}

// Complete verifies the stored content and marks the upload as uploaded.
// Duration and resolution are probed on a best-effort basis: a probe failure
// is logged but does not fail the upload.
func (s *Service) Complete(ctx context.Context, uploadID string) (*Upload, error) {
	u, err := s.repo.FindByID(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if u.Status == StatusUploaded {
		return u, nil
	}
	if !s.store.Exists(u.StorageKey) {
		s.markFailed(ctx, u)
		return nil, ErrContentMissing
	}

	if s.prober != nil {
		info, probeErr := s.prober.Probe(ctx, s.store.Path(u.StorageKey))
		if probeErr != nil {
			s.logger.Warn("probe failed, completing without metadata",
				slog.String("upload_id", u.ID),
				slog.String("error", probeErr.Error()),
			)
		} else {
			u.DurationSec = info.DurationSec
			u.Resolution = info.Resolution
		}
	}

	u.Status = StatusUploaded
	u.UpdatedAt = time.Now().UTC()
	if err := s.repo.Save(ctx, u); err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}

	s.logger.Info("upload completed",
		slog.String("upload_id", u.ID),
		slog.Int64("size", u.FileSize),
		slog.String("resolution", u.Resolution),
	)

	return u, nil
}

// Get retrieves an upload by ID.
func (s *Service) Get(ctx context.Context, uploadID string) (*Upload, error) {
	return s.repo.FindByID(ctx, uploadID)
}

// List returns uploads newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*Upload, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, limit, offset)
}

// markFailed moves an upload to failed on a best-effort basis. The caller's
// error is the one that matters; a persistence failure here is only logged.
func (s *Service) markFailed(ctx context.Context, u *Upload) {
	u.Status = StatusFailed
	u.UpdatedAt = time.Now().UTC()
	if err := s.repo.Save(ctx, u); err != nil {
		s.logger.Error("failed to mark upload as failed",
			slog.String("upload_id", u.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) validateMeta(filename, mimeType string, fileSize int64) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if !allowedMimeTypes[mimeType] {
		return fmt.Errorf("%w: %s", ErrUnsupportedMimeType, mimeType)
	}
	if fileSize > s.maxSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, fileSize, s.maxSize)
	}
	return nil
}
