package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/skyframe/skyframe-api/internal/config"
	"github.com/skyframe/skyframe-api/internal/job"
	"github.com/skyframe/skyframe-api/internal/storage"
	"github.com/skyframe/skyframe-api/internal/upload"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	uploads      *upload.Service
	jobs         *job.EnhanceService
	store        storage.Storage
	defaultModel string
	validator    *validator.Validate
	logger       *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(uploads *upload.Service, jobs *job.EnhanceService, store storage.Storage, defaultModel string, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		uploads:      uploads,
		jobs:         jobs,
		store:        store,
		defaultModel: defaultModel,
		validator:    validator.New(),
		logger:       logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// ListModels handles GET /api/models requests.
func (h *Handlers) ListModels(w http.ResponseWriter, r *http.Request) {
	available := h.jobs.Enabled()

	entries := make([]ModelEntry, 0, len(config.Models))
	for _, key := range config.ModelKeys() {
		entries = append(entries, ModelEntry{
			Key:       key,
			Name:      config.Models[key],
			Available: available,
		})
	}

	writeJSON(w, http.StatusOK, ModelsResponse{
		Models:  entries,
		Default: h.defaultModel,
	})
}

// InitUpload handles POST /api/uploads/init requests.
func (h *Handlers) InitUpload(w http.ResponseWriter, r *http.Request) {
	var req InitUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	u, err := h.uploads.Init(r.Context(), req.Filename, req.MimeType, req.FileSize)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, InitUploadResponse{
		UploadID:   u.ID,
		StorageKey: u.StorageKey,
		Status:     string(u.Status),
	})
}

// PutUploadContent handles PUT /api/uploads/{id}/content requests.
// The request body is the raw video bytes.
func (h *Handlers) PutUploadContent(w http.ResponseWriter, r *http.Request) {
	uploadID := r.PathValue("id")

	size, err := h.uploads.Put(r.Context(), uploadID, r.Body)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PutContentResponse{UploadID: uploadID, Size: size})
}

// CompleteUpload handles POST /api/uploads/{id}/complete requests.
func (h *Handlers) CompleteUpload(w http.ResponseWriter, r *http.Request) {
	u, err := h.uploads.Complete(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeUploadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUploadResponse(u))
}

// GetUpload handles GET /api/uploads/{id} requests.
func (h *Handlers) GetUpload(w http.ResponseWriter, r *http.Request) {
	u, err := h.uploads.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeUploadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUploadResponse(u))
}

// DownloadUploadContent handles GET /api/uploads/{id}/download requests.
// It serves the original source video back under its original filename.
func (h *Handlers) DownloadUploadContent(w http.ResponseWriter, r *http.Request) {
	u, err := h.uploads.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeUploadError(w, err)
		return
	}

	if u.Status != upload.StatusUploaded {
		writeError(w, http.StatusConflict, "upload is not complete", "NOT_READY")
		return
	}
	if !h.store.Exists(u.StorageKey) {
		writeError(w, http.StatusNotFound, "file not found in storage", "CONTENT_MISSING")
		return
	}

	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", u.OriginalFilename))
	w.Header().Set("Content-Type", u.MimeType)
	http.ServeFile(w, r, h.store.Path(u.StorageKey))
}

// ListUploads handles GET /api/uploads requests.
func (h *Handlers) ListUploads(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	uploads, err := h.uploads.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list uploads", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list uploads", "UPLOAD_LIST_FAILED")
		return
	}

	resp := make([]UploadResponse, 0, len(uploads))
	for _, u := range uploads {
		resp = append(resp, toUploadResponse(u))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateJob handles POST /api/jobs requests.
// The job is created synchronously; enhancement runs in the background and
// is observed by polling GET /api/jobs/{id}.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	created, err := h.jobs.CreateJob(r.Context(), req.UploadID, req.Model)
	if err != nil {
		h.writeJobError(w, err)
		return
	}

	h.logger.Info("job accepted",
		slog.String("job_id", created.ID),
		slog.String("upload_id", created.UploadID),
	)

	writeJSON(w, http.StatusAccepted, toJobResponse(created))
}

// GetJob handles GET /api/jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	found, err := h.jobs.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(found))
}

// ListJobsForUpload handles GET /api/uploads/{id}/jobs requests.
func (h *Handlers) ListJobsForUpload(w http.ResponseWriter, r *http.Request) {
	uploadID := r.PathValue("id")

	jobs, err := h.jobs.ListJobsForUpload(r.Context(), uploadID)
	if err != nil {
		h.logger.Error("failed to list jobs",
			slog.String("upload_id", uploadID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_LIST_FAILED")
		return
	}

	resp := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// DownloadJobOutput handles GET /api/jobs/{id}/download requests.
func (h *Handlers) DownloadJobOutput(w http.ResponseWriter, r *http.Request) {
	found, err := h.jobs.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeJobError(w, err)
		return
	}

	if !found.DownloadReady() {
		writeError(w, http.StatusConflict, "enhanced video is not ready", "NOT_READY")
		return
	}

	path := h.store.Path(found.OutputKey)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

// writeUploadError maps ingestion errors to HTTP responses.
func (h *Handlers) writeUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, upload.ErrUploadNotFound):
		writeError(w, http.StatusNotFound, "upload not found", "UPLOAD_NOT_FOUND")
	case errors.Is(err, upload.ErrUnsupportedFormat):
		writeError(w, http.StatusBadRequest, err.Error(), "UNSUPPORTED_FORMAT")
	case errors.Is(err, upload.ErrUnsupportedMimeType):
		writeError(w, http.StatusBadRequest, err.Error(), "UNSUPPORTED_MIME_TYPE")
	case errors.Is(err, upload.ErrFileTooLarge):
		writeError(w, http.StatusBadRequest, err.Error(), "FILE_TOO_LARGE")
	case errors.Is(err, upload.ErrNotUploading):
		writeError(w, http.StatusConflict, err.Error(), "UPLOAD_NOT_ACCEPTING")
	case errors.Is(err, upload.ErrContentMissing):
		writeError(w, http.StatusConflict, err.Error(), "CONTENT_MISSING")
	default:
		h.logger.Error("upload operation failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}

// writeJobError maps job precondition errors to HTTP responses.
// Execution errors never surface here; they live on the job record.
func (h *Handlers) writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
	case errors.Is(err, upload.ErrUploadNotFound):
		writeError(w, http.StatusNotFound, "upload not found", "UPLOAD_NOT_FOUND")
	case errors.Is(err, job.ErrUploadNotReady):
		writeError(w, http.StatusConflict, err.Error(), "UPLOAD_NOT_READY")
	case errors.Is(err, job.ErrUnknownModel):
		writeError(w, http.StatusBadRequest, err.Error(), "UNKNOWN_MODEL")
	case errors.Is(err, job.ErrMissingCredential):
		writeError(w, http.StatusServiceUnavailable, err.Error(), "ENHANCEMENT_DISABLED")
	default:
		h.logger.Error("job operation failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
