// Package bootstrap provides dependency initialization for the SkyFrame API.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/skyframe/skyframe-api/internal/config"
	"github.com/skyframe/skyframe-api/internal/db"
	"github.com/skyframe/skyframe-api/internal/fetch"
	"github.com/skyframe/skyframe-api/internal/job"
	"github.com/skyframe/skyframe-api/internal/media"
	"github.com/skyframe/skyframe-api/internal/replicate"
	"github.com/skyframe/skyframe-api/internal/storage"
	"github.com/skyframe/skyframe-api/internal/upload"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	DB            *sql.DB
	Store         storage.Storage
	UploadService *upload.Service
	JobService    *job.EnhanceService
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	database, err := db.Open(ctx, cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}

	store, err := initStorage(cfg, logger)
	if err != nil {
		db.Close(database, logger)
		return nil, err
	}

	client, err := initReplicate(cfg, logger)
	if err != nil {
		db.Close(database, logger)
		return nil, err
	}

	uploadSvc := upload.NewService(
		upload.NewSQLiteRepository(database),
		store,
		media.NewFFprobeProber(""),
		cfg.MaxUploadSize(),
		logger,
	)

	jobSvc := job.NewEnhanceService(
		job.NewSQLiteRepository(database),
		upload.NewSQLiteRepository(database),
		store,
		client,
		fetch.New(),
		cfg.ResolveModel,
		logger,
		job.WithWorkers(cfg.MaxConcurrentJobs),
		job.WithScaleFactor(cfg.ScaleFactor),
		job.WithOutputMirroring(cfg.S3Enabled()),
	)

	return &Dependencies{
		DB:            database,
		Store:         store,
		UploadService: uploadSvc,
		JobService:    jobSvc,
	}, nil
}

// Close releases resources held by the dependencies.
func (d *Dependencies) Close(logger *slog.Logger) {
	db.Close(d.DB, logger)
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.DataDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 output mirroring configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("data_dir", cfg.DataDir),
	)
	return localStore, nil
}

// initReplicate creates the Replicate client when a token is configured.
// Without a token the client is nil: uploads and status reads keep working,
// and job creation fails with a typed error.
func initReplicate(cfg *config.Config, logger *slog.Logger) (replicate.Client, error) {
	if !cfg.ReplicateConfigured() {
		logger.Warn("REPLICATE_API_TOKEN not set; AI enhancement is disabled")
		return nil, nil
	}

	client, err := replicate.NewClient(
		replicate.WithToken(cfg.ReplicateAPIToken),
		replicate.WithBaseURL(cfg.ReplicateBaseURL),
		replicate.WithPollInterval(cfg.PollInterval()),
		replicate.WithMaxWait(cfg.MaxWait()),
	)
	if err != nil {
		return nil, fmt.Errorf("create Replicate client: %w", err)
	}
	return client, nil
}
