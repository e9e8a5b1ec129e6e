package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /api/models", h.ListModels)

	mux.HandleFunc("POST /api/uploads/init", h.InitUpload)
	mux.HandleFunc("PUT /api/uploads/{id}/content", h.PutUploadContent)
	mux.HandleFunc("POST /api/uploads/{id}/complete", h.CompleteUpload)
	mux.HandleFunc("GET /api/uploads", h.ListUploads)
	mux.HandleFunc("GET /api/uploads/{id}", h.GetUpload)
	mux.HandleFunc("GET /api/uploads/{id}/download", h.DownloadUploadContent)
	mux.HandleFunc("GET /api/uploads/{id}/jobs", h.ListJobsForUpload)

	mux.HandleFunc("POST /api/jobs", h.CreateJob)
	mux.HandleFunc("GET /api/jobs/{id}", h.GetJob)
	mux.HandleFunc("GET /api/jobs/{id}/download", h.DownloadJobOutput)

	// Apply middleware chain
	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
