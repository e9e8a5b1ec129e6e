package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrS3NotConfigured is returned when S3 operations are attempted
// without proper configuration.
var ErrS3NotConfigured = errors.New("S3 storage is not configured")

// LocalStorage implements the Storage interface using local disk.
// Storage keys map directly to paths below the configured data directory.
type LocalStorage struct {
	dataDir string
}

// NewLocalStorage creates a new LocalStorage instance rooted at dataDir.
// If dataDir is empty, a "skyframe" directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(dataDir string) (*LocalStorage, error) {
	if dataDir == "" {
		dataDir = filepath.Join(os.TempDir(), "skyframe")
	}

	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	return &LocalStorage{dataDir: dataDir}, nil
}

// DataDir returns the root data directory path.
func (s *LocalStorage) DataDir() string {
	return s.dataDir
}

// Path resolves a storage key to an absolute local file path.
func (s *LocalStorage) Path(key string) string {
	return filepath.Join(s.dataDir, filepath.FromSlash(key))
}

// Save streams data into the file for the given key, creating any missing
// parent directories, and returns the number of bytes written.
func (s *LocalStorage) Save(ctx context.Context, key string, data io.Reader) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	dest := s.Path(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return 0, fmt.Errorf("create storage path: %w", err)
	}

	f, err := os.Create(dest) // #nosec G304 - dest is derived from a generated storage key
	if err != nil {
		return 0, fmt.Errorf("create storage file: %w", err)
	}

	written, err := io.Copy(f, data)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(dest)
		return 0, fmt.Errorf("write storage file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(dest)
		return 0, fmt.Errorf("close storage file: %w", err)
	}

	return written, nil
}

// Open returns a reader for the blob identified by key.
// The caller is responsible for closing the returned ReadCloser.
func (s *LocalStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.Open(s.Path(key)) // #nosec G304 - path is derived from a generated storage key
	if err != nil {
		return nil, fmt.Errorf("open storage file: %w", err)
	}

	return f, nil
}

// Exists reports whether a blob exists for the given key.
func (s *LocalStorage) Exists(key string) bool {
	info, err := os.Stat(s.Path(key))
	return err == nil && !info.IsDir()
}

// Delete removes the blob identified by key. Missing blobs are not an error.
func (s *LocalStorage) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.Path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove storage file: %w", err)
	}
	return nil
}

// UploadToS3 is not supported by LocalStorage and returns ErrS3NotConfigured.
func (s *LocalStorage) UploadToS3(_ context.Context, _ string, _ io.Reader) (string, error) {
	return "", ErrS3NotConfigured
}
