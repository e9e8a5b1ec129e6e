// Package storage provides blob storage for uploaded and enhanced videos.
// It defines the Storage interface (port) for hexagonal architecture, a
// local disk implementation, and an S3 wrapper for mirroring outputs.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// Storage defines the interface for durable blob storage keyed by storage keys.
type Storage interface {
	// Save streams data into the blob identified by key and returns the
	// number of bytes written. Missing parent path segments are created.
	Save(ctx context.Context, key string, data io.Reader) (int64, error)

	// Open returns a reader for the blob identified by key.
	// The caller is responsible for closing the returned ReadCloser.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Path resolves a storage key to an absolute local file path.
	Path(key string) string

	// Exists reports whether a blob exists for the given key.
	Exists(key string) bool

	// Delete removes the blob identified by key. Missing blobs are not an error.
	Delete(ctx context.Context, key string) error

	// UploadToS3 mirrors data to S3 under the given key and returns the
	// public URL. Returns ErrS3NotConfigured when S3 is not configured.
	UploadToS3(ctx context.Context, key string, data io.Reader) (url string, err error)
}

// UploadKey builds the storage key for a raw upload.
// Layout: uploads/YYYY/MM/DD/<uploadID>_<sanitized filename>.
func UploadKey(uploadID, filename string) string {
	return datedKey("uploads", uploadID, filename)
}

// OutputKey builds the storage key for an enhancement output.
// Layout: outputs/YYYY/MM/DD/<jobID>_<sanitized filename>.
func OutputKey(jobID, filename string) string {
	return datedKey("outputs", jobID, filename)
}

func datedKey(prefix, id, filename string) string {
	now := time.Now().UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s_%s",
		prefix, now.Year(), now.Month(), now.Day(), id, sanitizeFilename(filename))
}

// sanitizeFilename replaces any character outside [a-zA-Z0-9._-] with an
// underscore so filenames cannot escape the key layout.
func sanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
