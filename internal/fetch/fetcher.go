// Package fetch streams prediction result artifacts into local storage.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Static errors for fetch operations.
var (
	// ErrURLRequired is returned when the source URL is not provided.
	ErrURLRequired = errors.New("fetch: URL is required")
	// ErrBadStatus is returned when the remote responds with a non-success status.
	ErrBadStatus = errors.New("fetch: download failed")
	// ErrInterrupted is returned when the connection drops mid-stream.
	ErrInterrupted = errors.New("fetch: download interrupted")
	// ErrEmptyDownload is returned when the download completes with zero bytes.
	ErrEmptyDownload = errors.New("fetch: downloaded zero bytes")
)

// copyBufSize bounds how much of the artifact is held in memory at once.
const copyBufSize = 1 << 20 // 1 MiB

// Fetcher downloads result artifacts over HTTP into local files.
type Fetcher struct {
	httpClient *http.Client
}

// Option is a function that configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.httpClient = c
	}
}

// New creates a new Fetcher. The default HTTP client allows five minutes
// per download to accommodate large videos.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch streams the artifact at url into destPath and returns the number of
// bytes written. Missing parent directories are created. The copy proceeds
// in bounded chunks; the artifact is never held in memory whole. A partial
// file left by an interrupted stream is removed.
func (f *Fetcher) Fetch(ctx context.Context, url, destPath string) (int64, error) {
	if url == "" {
		return 0, ErrURLRequired
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("fetch: create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("%w: status %d", ErrBadStatus, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0750); err != nil {
		return 0, fmt.Errorf("fetch: create destination path: %w", err)
	}

	out, err := os.Create(destPath) // #nosec G304 - destPath is derived from a generated storage key
	if err != nil {
		return 0, fmt.Errorf("fetch: create destination file: %w", err)
	}

	written, err := io.CopyBuffer(out, resp.Body, make([]byte, copyBufSize))
	if err != nil {
		_ = out.Close()
		_ = os.Remove(destPath)
		return 0, fmt.Errorf("%w: %v", ErrInterrupted, err)
	}

	if err := out.Close(); err != nil {
		_ = os.Remove(destPath)
		return 0, fmt.Errorf("fetch: close destination file: %w", err)
	}

	if written == 0 {
		_ = os.Remove(destPath)
		return 0, ErrEmptyDownload
	}

	return written, nil
}
