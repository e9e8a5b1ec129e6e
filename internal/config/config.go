// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Models maps public model keys to Replicate model identifiers.
// The key is what API clients send; the value is what gets submitted.
var Models = map[string]string{
	"upscale":         "lucataco/real-esrgan-video",
	"upscale_premium": "topazlabs/video-upscale",
}

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Replicate settings. The token is optional at startup: job creation
	// fails with a typed error when it is missing, so the rest of the API
	// (uploads, status reads) keeps working without it.
	ReplicateAPIToken string `env:"REPLICATE_API_TOKEN" json:"-"` // Masked in JSON
	ReplicateBaseURL  string `env:"REPLICATE_BASE_URL, default=https://api.replicate.com/v1" json:"replicate_base_url"`

	// Enhancement settings
	DefaultModel string `env:"DEFAULT_ENHANCE_MODEL, default=upscale" json:"default_model"`
	ScaleFactor  int    `env:"DEFAULT_SCALE_FACTOR, default=2" json:"scale_factor"`

	// Job polling settings
	PollIntervalSec int `env:"JOB_POLL_INTERVAL_SEC, default=5" json:"poll_interval_sec"`
	MaxWaitSec      int `env:"JOB_MAX_WAIT_SEC, default=600" json:"max_wait_sec"`

	// Worker pool settings
	MaxConcurrentJobs int `env:"MAX_CONCURRENT_JOBS, default=3" json:"max_concurrent_jobs"`

	// Storage settings
	DataDir string `env:"DATA_DIR, default=./data" json:"data_dir"`
	DBPath  string `env:"DB_PATH" json:"db_path"`

	// Upload limits
	MaxUploadSizeMB int `env:"MAX_UPLOAD_SIZE_MB, default=500" json:"max_upload_size_mb"`

	// Optional S3 settings for mirroring completed outputs
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "skyframe.db")
	}

	return cfg, nil
}

// S3Enabled returns true if S3 mirroring is configured.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// ReplicateConfigured returns true if the Replicate API token is set.
func (c *Config) ReplicateConfigured() bool {
	return c.ReplicateAPIToken != ""
}

// ResolveModel resolves a public model key to a Replicate model identifier.
// An empty key resolves to the configured default model.
func (c *Config) ResolveModel(key string) (string, bool) {
	if key == "" {
		key = c.DefaultModel
	}
	model, ok := Models[key]
	return model, ok
}

// ModelKeys returns the known model keys in sorted order.
func ModelKeys() []string {
	keys := make([]string, 0, len(Models))
	for k := range Models {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PollInterval returns the poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// MaxWait returns the maximum per-job wait as a duration.
func (c *Config) MaxWait() time.Duration {
	return time.Duration(c.MaxWaitSec) * time.Second
}

// MaxUploadSize returns the maximum upload size in bytes.
func (c *Config) MaxUploadSize() int64 {
	return int64(c.MaxUploadSizeMB) * 1024 * 1024
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, DataDir: %s, DBPath: %s, DefaultModel: %s, MaxConcurrentJobs: %d, MaxWaitSec: %d, S3Bucket: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.DataDir,
		c.DBPath,
		c.DefaultModel,
		c.MaxConcurrentJobs,
		c.MaxWaitSec,
		c.S3Bucket,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
