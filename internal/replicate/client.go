package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Static errors for Replicate client operations.
var (
	// ErrTokenNotSet is returned when no API token is provided.
	ErrTokenNotSet = errors.New("replicate: REPLICATE_API_TOKEN is not set")
	// ErrModelRequired is returned when the model identifier is not provided.
	ErrModelRequired = errors.New("replicate: model is required")
	// ErrPredictionIDRequired is returned when the prediction ID is not provided.
	ErrPredictionIDRequired = errors.New("replicate: prediction ID is required")
	// ErrNoPredictionID is returned when the create response contains no prediction ID.
	ErrNoPredictionID = errors.New("replicate: submit failed: no prediction ID returned")
	// ErrSubmitFailed is returned when the submission is rejected.
	ErrSubmitFailed = errors.New("replicate: submit failed")
	// ErrNoFileURL is returned when the files API response carries no URL.
	ErrNoFileURL = errors.New("replicate: file upload returned no URL")
	// ErrWaitTimeout is returned when a prediction does not reach a terminal
	// state within the configured maximum wait.
	ErrWaitTimeout = errors.New("replicate: timed out waiting for prediction")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("replicate: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("replicate: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("replicate: request failed")
)

// Client defines the interface for interacting with the Replicate API.
type Client interface {
	// UploadFile uploads a local file to Replicate's files API and returns
	// a URL usable as a prediction input value.
	UploadFile(ctx context.Context, path string) (fileURL string, err error)

	// CreatePrediction submits a prediction for the given model and input
	// and returns the accepted prediction.
	CreatePrediction(ctx context.Context, model string, input map[string]any) (Prediction, error)

	// GetPrediction fetches the current state of a prediction.
	GetPrediction(ctx context.Context, predictionID string) (Prediction, error)

	// Wait polls a prediction until it reaches a terminal state or the
	// configured maximum wait elapses (ErrWaitTimeout).
	Wait(ctx context.Context, predictionID string) (Prediction, error)
}

// HTTPClient is the HTTP implementation of the Replicate Client interface.
type HTTPClient struct {
	token        string
	baseURL      string
	httpClient   *http.Client
	maxRetries   int
	baseBackoff  time.Duration
	pollInterval time.Duration
	maxWait      time.Duration
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithToken sets the API token for authentication.
func WithToken(token string) ClientOption {
	return func(hc *HTTPClient) {
		hc.token = token
	}
}

// WithBaseURL sets a custom base URL for the Replicate API.
func WithBaseURL(url string) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// WithPollInterval sets how often Wait polls the prediction status.
func WithPollInterval(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.pollInterval = d
	}
}

// WithMaxWait sets the overall maximum wait per prediction in Wait.
func WithMaxWait(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxWait = d
	}
}

// NewClient creates a new Replicate HTTP client.
// The token can be set via the WithToken option. If not provided,
// it is read from the environment variable REPLICATE_API_TOKEN.
func NewClient(opts ...ClientOption) (*HTTPClient, error) {
	c := &HTTPClient{
		baseURL:      "https://api.replicate.com/v1",
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		maxRetries:   3,
		baseBackoff:  1 * time.Second,
		pollInterval: 5 * time.Second,
		maxWait:      10 * time.Minute,
	}

	// Apply options first to allow WithToken to set the token
	for _, opt := range opts {
		opt(c)
	}

	// If token was not set via option, try environment variable
	if c.token == "" {
		c.token = os.Getenv("REPLICATE_API_TOKEN")
	}

	if c.token == "" {
		return nil, ErrTokenNotSet
	}

	return c, nil
}

// UploadFile uploads a local file to Replicate's files API and returns a URL
// usable as a prediction input value. The request body is streamed, so large
// videos are never held in memory; the upload is not retried because the
// stream cannot be replayed.
func (c *HTTPClient) UploadFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 - path is resolved from a generated storage key
	if err != nil {
		return "", fmt.Errorf("replicate: open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("content", filepath.Base(path))
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", pr)
	if err != nil {
		return "", fmt.Errorf("replicate: create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("replicate: upload request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("replicate: read upload response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
	}

	var file fileResponse
	if err := json.Unmarshal(respBody, &file); err != nil {
		return "", fmt.Errorf("replicate: unmarshal upload response: %w", err)
	}
	if file.URLs.Get == "" {
		return "", ErrNoFileURL
	}

	return file.URLs.Get, nil
}

// CreatePrediction submits a prediction for the given model and input.
func (c *HTTPClient) CreatePrediction(ctx context.Context, model string, input map[string]any) (Prediction, error) {
	if model == "" {
		return Prediction{}, ErrModelRequired
	}

	bodyBytes, err := json.Marshal(predictionRequest{Input: input})
	if err != nil {
		return Prediction{}, fmt.Errorf("replicate: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s/predictions", c.baseURL, model)

	var resp predictionResponse
	if err := c.doRequestWithRetry(ctx, http.MethodPost, url, bodyBytes, &resp); err != nil {
		return Prediction{}, err
	}

	if resp.ID == "" {
		if msg := resp.toPrediction().Error; msg != "" {
			return Prediction{}, fmt.Errorf("%w: %s", ErrSubmitFailed, msg)
		}
		return Prediction{}, ErrNoPredictionID
	}

	p := resp.toPrediction()
	if p.Model == "" {
		p.Model = model
	}
	return p, nil
}

// GetPrediction fetches the current state of a prediction.
func (c *HTTPClient) GetPrediction(ctx context.Context, predictionID string) (Prediction, error) {
	if predictionID == "" {
		return Prediction{}, ErrPredictionIDRequired
	}

	url := fmt.Sprintf("%s/predictions/%s", c.baseURL, predictionID)

	var resp predictionResponse
	if err := c.doRequestWithRetry(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return Prediction{}, err
	}

	return resp.toPrediction(), nil
}

// Wait polls a prediction until it reaches a terminal state or the configured
// maximum wait elapses. A timeout produces ErrWaitTimeout, distinct from a
// prediction that terminates as failed.
func (c *HTTPClient) Wait(ctx context.Context, predictionID string) (Prediction, error) {
	if predictionID == "" {
		return Prediction{}, ErrPredictionIDRequired
	}

	deadline := time.NewTimer(c.maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		p, err := c.GetPrediction(ctx, predictionID)
		if err != nil {
			return Prediction{}, err
		}
		if p.Status.IsTerminal() {
			return p, nil
		}

		select {
		case <-ctx.Done():
			return Prediction{}, fmt.Errorf("replicate: context cancelled: %w", ctx.Err())
		case <-deadline.C:
			return Prediction{}, fmt.Errorf("%w %s after %s", ErrWaitTimeout, predictionID, c.maxWait)
		case <-ticker.C:
		}
	}
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, method, url string, body []byte, result interface{}) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("replicate: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2 // Exponential backoff
			}
		}

		err := c.doRequest(ctx, method, url, body, result)
		if err == nil {
			return nil
		}

		// Check if error is retryable
		if !isRetryable(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("replicate: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (c *HTTPClient) doRequest(ctx context.Context, method, url string, body []byte, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("replicate: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("replicate: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("replicate: read response: %w", err)}
	}

	// Handle non-2xx status codes
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// 5xx errors are retryable
		if resp.StatusCode >= 500 {
			return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))}
		}
		// 429 (rate limit) is retryable
		if resp.StatusCode == 429 {
			return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, string(respBody))}
		}
		// Other errors are not retryable
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("replicate: unmarshal response: %w", err)
		}
	}

	return nil
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
