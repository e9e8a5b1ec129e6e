// Package id provides unique identifier generation for jobs and uploads.
package id

import (
	"strings"

	"github.com/google/uuid"
)

// NewJobID creates a new unique job ID.
// Format: job_<12 hex chars>, e.g. job_a1b2c3d4e5f6.
func NewJobID() string {
	return generate("job")
}

// NewUploadID creates a new unique upload ID.
// Format: upl_<12 hex chars>, e.g. upl_a1b2c3d4e5f6.
func NewUploadID() string {
	return generate("upl")
}

func generate(prefix string) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "_" + hex[:12]
}
