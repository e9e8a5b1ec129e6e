// Package server provides the HTTP server for the SkyFrame API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/skyframe/skyframe-api/internal/job"
	"github.com/skyframe/skyframe-api/internal/upload"
)

// InitUploadRequest is the HTTP request body for initiating an upload.
type InitUploadRequest struct {
	// Filename is the original filename of the video.
	Filename string `json:"filename" validate:"required"`
	// MimeType is the declared MIME type of the video.
	MimeType string `json:"mimeType" validate:"required"`
	// FileSize is the declared size in bytes.
	FileSize int64 `json:"fileSize" validate:"required,min=1"`
}

// InitUploadResponse is the HTTP response after initiating an upload.
type InitUploadResponse struct {
	// UploadID is the unique identifier for the created upload.
	UploadID string `json:"uploadId"`
	// StorageKey locates where the bytes will be stored.
	StorageKey string `json:"storageKey"`
	// Status is the initial upload status.
	Status string `json:"status"`
}

// PutContentResponse is the HTTP response after storing upload content.
type PutContentResponse struct {
	// UploadID is the upload the bytes were stored for.
	UploadID string `json:"uploadId"`
	// Size is the number of bytes received.
	Size int64 `json:"size"`
}

// UploadResponse is the HTTP projection of an upload.
type UploadResponse struct {
	ID          string   `json:"id"`
	Filename    string   `json:"filename"`
	FileSize    int64    `json:"fileSize"`
	MimeType    string   `json:"mimeType"`
	Status      string   `json:"status"`
	DurationSec *float64 `json:"durationSec,omitempty"`
	Resolution  string   `json:"resolution,omitempty"`
	CreatedAt   string   `json:"createdAt"`
}

// CreateJobRequest is the HTTP request body for creating an enhancement job.
type CreateJobRequest struct {
	// UploadID references the source upload.
	UploadID string `json:"uploadId" validate:"required"`
	// Model is the optional model key ("upscale" or "upscale_premium").
	// Empty selects the configured default.
	Model string `json:"model"`
}

// JobResponse is the HTTP projection of an enhancement job.
type JobResponse struct {
	ID            string  `json:"id"`
	UploadID      string  `json:"uploadId"`
	ModelName     string  `json:"modelName"`
	Status        string  `json:"status"`
	Progress      float64 `json:"progress"`
	ErrorMessage  string  `json:"errorMessage,omitempty"`
	OutputURL     string  `json:"outputUrl,omitempty"`
	CreatedAt     string  `json:"createdAt"`
	CompletedAt   *string `json:"completedAt,omitempty"`
	DownloadReady bool    `json:"downloadReady"`
}

// ModelEntry describes one enhancement model offered by the API.
type ModelEntry struct {
	// Key is the public model key sent in CreateJobRequest.
	Key string `json:"key"`
	// Name is the Replicate model identifier behind the key.
	Name string `json:"name"`
	// Available reports whether the model can be used right now.
	Available bool `json:"available"`
}

// ModelsResponse is the HTTP response listing available enhancement models.
type ModelsResponse struct {
	Models  []ModelEntry `json:"models"`
	Default string       `json:"default"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

// toUploadResponse maps an upload to its HTTP projection.
func toUploadResponse(u *upload.Upload) UploadResponse {
	resp := UploadResponse{
		ID:         u.ID,
		Filename:   u.OriginalFilename,
		FileSize:   u.FileSize,
		MimeType:   u.MimeType,
		Status:     string(u.Status),
		Resolution: u.Resolution,
		CreatedAt:  u.CreatedAt.Format(time.RFC3339),
	}
	if u.DurationSec > 0 {
		d := u.DurationSec
		resp.DurationSec = &d
	}
	return resp
}

// toJobResponse maps a job to its HTTP projection.
// downloadReady is always derived, never read from storage.
func toJobResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		ID:            j.ID,
		UploadID:      j.UploadID,
		ModelName:     j.ModelName,
		Status:        string(j.Status),
		Progress:      j.Progress,
		ErrorMessage:  j.Error,
		OutputURL:     j.OutputURL,
		CreatedAt:     j.CreatedAt.Format(time.RFC3339),
		DownloadReady: j.DownloadReady(),
	}
	if !j.CompletedAt.IsZero() {
		completed := j.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &completed
	}
	return resp
}
