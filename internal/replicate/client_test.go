package replicate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, serverURL string, opts ...ClientOption) *HTTPClient {
	t.Helper()
	base := []ClientOption{
		WithToken("test-token"),
		WithBaseURL(serverURL),
		WithBaseBackoff(time.Millisecond),
		WithPollInterval(5 * time.Millisecond),
		WithMaxWait(time.Second),
	}
	c, err := NewClient(append(base, opts...)...)
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresToken(t *testing.T) {
	t.Setenv("REPLICATE_API_TOKEN", "")

	_, err := NewClient()
	assert.ErrorIs(t, err, ErrTokenNotSet)
}

func TestNewClientTokenFromEnv(t *testing.T) {
	t.Setenv("REPLICATE_API_TOKEN", "env-token")

	c, err := NewClient()
	require.NoError(t, err)
	assert.Equal(t, "env-token", c.token)
}

func TestCreatePrediction(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody predictionRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": "pred_123", "status": "starting"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	pred, err := c.CreatePrediction(context.Background(), "lucataco/real-esrgan-video", map[string]any{
		"video_path": "https://files.example.com/src.mp4",
		"scale":      2,
	})

	require.NoError(t, err)
	assert.Equal(t, "pred_123", pred.ID)
	assert.Equal(t, StatusStarting, pred.Status)
	assert.Equal(t, "lucataco/real-esrgan-video", pred.Model)
	assert.Equal(t, "/models/lucataco/real-esrgan-video/predictions", gotPath)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "https://files.example.com/src.mp4", gotBody.Input["video_path"])
}

func TestCreatePredictionModelRequired(t *testing.T) {
	c := newTestClient(t, "http://unused")

	_, err := c.CreatePrediction(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrModelRequired)
}

func TestCreatePredictionRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"detail": "model version not found"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.CreatePrediction(context.Background(), "acme/missing", nil)

	require.ErrorIs(t, err, ErrSubmitFailed)
	assert.Contains(t, err.Error(), "model version not found")
}

func TestCreatePredictionRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id": "pred_123", "status": "starting"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	pred, err := c.CreatePrediction(context.Background(), "acme/model", nil)

	require.NoError(t, err)
	assert.Equal(t, "pred_123", pred.ID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCreatePredictionDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail": "invalid input"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.CreatePrediction(context.Background(), "acme/model", nil)

	require.ErrorIs(t, err, ErrRequestFailed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetPrediction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predictions/pred_123", r.URL.Path)
		_, _ = w.Write([]byte(`{"id": "pred_123", "status": "succeeded", "output": "https://cdn.example.com/out.mp4"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	pred, err := c.GetPrediction(context.Background(), "pred_123")

	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, pred.Status)

	url, err := pred.OutputURL()
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/out.mp4", url)
}

func TestGetPredictionIDRequired(t *testing.T) {
	c := newTestClient(t, "http://unused")

	_, err := c.GetPrediction(context.Background(), "")
	assert.ErrorIs(t, err, ErrPredictionIDRequired)
}

func TestWaitPollsUntilTerminal(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			_, _ = w.Write([]byte(`{"id": "pred_123", "status": "processing"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id": "pred_123", "status": "succeeded"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	pred, err := c.Wait(context.Background(), "pred_123")

	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, pred.Status)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestWaitReturnsTerminalFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": "pred_123", "status": "failed", "error": "low confidence"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	pred, err := c.Wait(context.Background(), "pred_123")

	require.NoError(t, err, "a failed prediction is a result, not a client error")
	assert.Equal(t, StatusFailed, pred.Status)
	assert.Equal(t, "low confidence", pred.Error)
}

func TestWaitTimesOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": "pred_123", "status": "processing"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, WithMaxWait(20*time.Millisecond))
	_, err := c.Wait(context.Background(), "pred_123")

	assert.ErrorIs(t, err, ErrWaitTimeout)
}

func TestWaitContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": "pred_123", "status": "processing"}`))
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := newTestClient(t, server.URL)
	_, err := c.Wait(ctx, "pred_123")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUploadFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src.mp4")
	require.NoError(t, os.WriteFile(src, []byte("fake video bytes"), 0600))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		f, header, err := r.FormFile("content")
		require.NoError(t, err)
		defer func() { _ = f.Close() }()
		assert.Equal(t, "src.mp4", header.Filename)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": "file_1", "urls": {"get": "https://api.replicate.com/v1/files/file_1/download"}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	url, err := c.UploadFile(context.Background(), src)

	require.NoError(t, err)
	assert.Equal(t, "https://api.replicate.com/v1/files/file_1/download", url)
}

func TestUploadFileNoURL(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src.mp4")
	require.NoError(t, os.WriteFile(src, []byte("fake video bytes"), 0600))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": "file_1"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.UploadFile(context.Background(), src)

	assert.ErrorIs(t, err, ErrNoFileURL)
}

func TestUploadFileMissingFile(t *testing.T) {
	c := newTestClient(t, "http://unused")

	_, err := c.UploadFile(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"))
	assert.Error(t, err)
}
