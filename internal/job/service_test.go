package job

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyframe/skyframe-api/internal/replicate"
	"github.com/skyframe/skyframe-api/internal/storage"
	"github.com/skyframe/skyframe-api/internal/upload"
)

// fakeClient is a controllable replicate.Client for orchestration tests.
type fakeClient struct {
	mu          sync.Mutex
	uploadCalls int
	createCalls int
	waitCalls   int

	uploadErr error
	createErr error
	waitErr   error
	pred      replicate.Prediction
}

func (f *fakeClient) UploadFile(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadCalls++
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	return "https://files.example.com/src.mp4", nil
}

func (f *fakeClient) CreatePrediction(_ context.Context, model string, _ map[string]any) (replicate.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return replicate.Prediction{}, f.createErr
	}
	return replicate.Prediction{ID: "pred_123", Model: model, Status: replicate.StatusStarting}, nil
}

func (f *fakeClient) GetPrediction(_ context.Context, _ string) (replicate.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pred, nil
}

func (f *fakeClient) Wait(_ context.Context, _ string) (replicate.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waitCalls++
	if f.waitErr != nil {
		return replicate.Prediction{}, f.waitErr
	}
	return f.pred, nil
}

func (f *fakeClient) counts() (uploads, creates, waits int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploadCalls, f.createCalls, f.waitCalls
}

// fakeFetcher writes a fixed payload to the destination path.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	payload []byte
	err     error
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string, destPath string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0750); err != nil {
		return 0, err
	}
	if err := os.WriteFile(destPath, f.payload, 0600); err != nil {
		return 0, err
	}
	return int64(len(f.payload)), nil
}

func testResolver(key string) (string, bool) {
	switch key {
	case "", "upscale":
		return "lucataco/real-esrgan-video", true
	case "upscale_premium":
		return "topazlabs/video-upscale", true
	}
	return "", false
}

func succeededWith(outputJSON string) replicate.Prediction {
	return replicate.Prediction{
		ID:     "pred_123",
		Status: replicate.StatusSucceeded,
		Output: json.RawMessage(outputJSON),
	}
}

type serviceFixture struct {
	jobs    *MemoryRepository
	uploads *upload.MemoryRepository
	store   storage.Storage
	svc     *EnhanceService
}

func newFixture(t *testing.T, client replicate.Client, fetcher Fetcher, opts ...ServiceOption) *serviceFixture {
	t.Helper()

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	fx := &serviceFixture{
		jobs:    NewMemoryRepository(),
		uploads: upload.NewMemoryRepository(),
		store:   store,
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fx.svc = NewEnhanceService(
		fx.jobs, fx.uploads, store, client, fetcher, testResolver, logger,
		append([]ServiceOption{WithWorkers(1)}, opts...)...,
	)
	return fx
}

// seedUpload stores an uploaded source video, optionally with real bytes
// behind its storage key.
func (fx *serviceFixture) seedUpload(t *testing.T, withContent bool) *upload.Upload {
	t.Helper()
	ctx := context.Background()

	u := upload.New("clip.mp4", "video/mp4", 10)
	u.Status = upload.StatusUploaded
	require.NoError(t, fx.uploads.Save(ctx, u))

	if withContent {
		_, err := fx.store.Save(ctx, u.StorageKey, strings.NewReader("fake video"))
		require.NoError(t, err)
	}
	return u
}

func (fx *serviceFixture) waitTerminal(t *testing.T, jobID string) *Job {
	t.Helper()
	var final *Job
	require.Eventually(t, func() bool {
		j, err := fx.jobs.FindByID(context.Background(), jobID)
		if err != nil || !j.IsTerminal() {
			return false
		}
		final = j
		return true
	}, 2*time.Second, 10*time.Millisecond, "job %s never reached a terminal state", jobID)
	return final
}

func TestCreateJobSuccess(t *testing.T) {
	client := &fakeClient{pred: succeededWith(`"https://cdn.example.com/out.mp4"`)}
	fetcher := &fakeFetcher{payload: []byte("enhanced video bytes")}
	fx := newFixture(t, client, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.svc.Start(ctx)

	u := fx.seedUpload(t, true)
	created, err := fx.svc.CreateJob(ctx, u.ID, "upscale")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, created.Status)

	final := fx.waitTerminal(t, created.ID)

	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, float64(100), final.Progress)
	assert.Empty(t, final.Error)
	assert.Equal(t, "pred_123", final.PredictionID)
	assert.Contains(t, final.OutputKey, final.ID)
	assert.Contains(t, final.OutputKey, "enhanced_clip.mp4")
	assert.True(t, strings.HasPrefix(final.OutputKey, "outputs/"))
	assert.Equal(t, int64(len("enhanced video bytes")), final.OutputSize)
	assert.True(t, final.DownloadReady())
	assert.True(t, fx.store.Exists(final.OutputKey))

	uploads, creates, waits := client.counts()
	assert.Equal(t, 1, uploads)
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, waits)
}

func TestCreateJobPredictionFailed(t *testing.T) {
	client := &fakeClient{pred: replicate.Prediction{
		ID:     "pred_123",
		Status: replicate.StatusFailed,
		Error:  "low confidence",
	}}
	fx := newFixture(t, client, &fakeFetcher{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.svc.Start(ctx)

	u := fx.seedUpload(t, true)
	created, err := fx.svc.CreateJob(ctx, u.ID, "upscale")
	require.NoError(t, err)

	final := fx.waitTerminal(t, created.ID)

	assert.Equal(t, StatusFailed, final.Status)
	assert.Contains(t, final.Error, "prediction failed: low confidence")
	assert.Empty(t, final.OutputKey)
	assert.False(t, final.DownloadReady())
}

func TestCreateJobPredictionCanceled(t *testing.T) {
	client := &fakeClient{pred: replicate.Prediction{ID: "pred_123", Status: replicate.StatusCanceled}}
	fx := newFixture(t, client, &fakeFetcher{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.svc.Start(ctx)

	u := fx.seedUpload(t, true)
	created, err := fx.svc.CreateJob(ctx, u.ID, "upscale")
	require.NoError(t, err)

	final := fx.waitTerminal(t, created.ID)

	assert.Equal(t, StatusCanceled, final.Status)
	assert.Empty(t, final.Error, "cancellation is not a failure of this system")
	assert.False(t, final.CompletedAt.IsZero())
	assert.False(t, final.DownloadReady())
}

func TestCreateJobSourceMissing(t *testing.T) {
	client := &fakeClient{pred: succeededWith(`"https://cdn.example.com/out.mp4"`)}
	fx := newFixture(t, client, &fakeFetcher{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.svc.Start(ctx)

	// Record exists, bytes do not.
	u := fx.seedUpload(t, false)
	created, err := fx.svc.CreateJob(ctx, u.ID, "upscale")
	require.NoError(t, err)

	final := fx.waitTerminal(t, created.ID)

	assert.Equal(t, StatusFailed, final.Status)
	assert.Contains(t, final.Error, "source video not found in storage")

	uploads, creates, _ := client.counts()
	assert.Zero(t, uploads, "missing source must be detected before any external call")
	assert.Zero(t, creates)
}

func TestCreateJobNoUsableOutput(t *testing.T) {
	client := &fakeClient{pred: succeededWith(`null`)}
	fx := newFixture(t, client, &fakeFetcher{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.svc.Start(ctx)

	u := fx.seedUpload(t, true)
	created, err := fx.svc.CreateJob(ctx, u.ID, "upscale")
	require.NoError(t, err)

	final := fx.waitTerminal(t, created.ID)

	assert.Equal(t, StatusFailed, final.Status)
	assert.Contains(t, final.Error, "no usable output from prediction")
}

func TestCreateJobDownloadFailed(t *testing.T) {
	client := &fakeClient{pred: succeededWith(`"https://cdn.example.com/out.mp4"`)}
	fetcher := &fakeFetcher{err: errors.New("connection reset")}
	fx := newFixture(t, client, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.svc.Start(ctx)

	u := fx.seedUpload(t, true)
	created, err := fx.svc.CreateJob(ctx, u.ID, "upscale")
	require.NoError(t, err)

	final := fx.waitTerminal(t, created.ID)

	assert.Equal(t, StatusFailed, final.Status)
	assert.Contains(t, final.Error, "download enhanced video")
}

func TestCreateJobUploadNotFound(t *testing.T) {
	fx := newFixture(t, &fakeClient{}, &fakeFetcher{})

	_, err := fx.svc.CreateJob(context.Background(), "upl_missing", "upscale")
	assert.ErrorIs(t, err, upload.ErrUploadNotFound)

	active, listErr := fx.jobs.ListActive(context.Background())
	require.NoError(t, listErr)
	assert.Empty(t, active, "precondition failures must leave no job behind")
}

func TestCreateJobUploadNotReady(t *testing.T) {
	fx := newFixture(t, &fakeClient{}, &fakeFetcher{})
	ctx := context.Background()

	u := upload.New("clip.mp4", "video/mp4", 10)
	require.NoError(t, fx.uploads.Save(ctx, u))

	_, err := fx.svc.CreateJob(ctx, u.ID, "upscale")
	assert.ErrorIs(t, err, ErrUploadNotReady)
}

func TestCreateJobUnknownModel(t *testing.T) {
	fx := newFixture(t, &fakeClient{}, &fakeFetcher{})
	u := fx.seedUpload(t, true)

	_, err := fx.svc.CreateJob(context.Background(), u.ID, "colorize")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestCreateJobDefaultModel(t *testing.T) {
	client := &fakeClient{pred: succeededWith(`"https://cdn.example.com/out.mp4"`)}
	fx := newFixture(t, client, &fakeFetcher{payload: []byte("x")})

	u := fx.seedUpload(t, true)
	created, err := fx.svc.CreateJob(context.Background(), u.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "lucataco/real-esrgan-video", created.ModelName)
}

func TestCreateJobMissingCredential(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	jobs := NewMemoryRepository()
	uploads := upload.NewMemoryRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewEnhanceService(jobs, uploads, store, nil, &fakeFetcher{}, testResolver, logger)

	ctx := context.Background()
	u := upload.New("clip.mp4", "video/mp4", 10)
	u.Status = upload.StatusUploaded
	require.NoError(t, uploads.Save(ctx, u))

	_, err = svc.CreateJob(ctx, u.ID, "upscale")
	assert.ErrorIs(t, err, ErrMissingCredential)

	active, listErr := jobs.ListActive(ctx)
	require.NoError(t, listErr)
	assert.Empty(t, active)
}

func TestRecoverRequeuesPending(t *testing.T) {
	client := &fakeClient{pred: succeededWith(`"https://cdn.example.com/out.mp4"`)}
	fx := newFixture(t, client, &fakeFetcher{payload: []byte("x")})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	u := fx.seedUpload(t, true)
	stranded := New(u.ID, "lucataco/real-esrgan-video")
	require.NoError(t, fx.jobs.Save(ctx, stranded))

	fx.svc.Start(ctx)
	require.NoError(t, fx.svc.Recover(ctx))

	final := fx.waitTerminal(t, stranded.ID)
	assert.Equal(t, StatusCompleted, final.Status)
}

func TestRecoverResumesProcessing(t *testing.T) {
	client := &fakeClient{pred: succeededWith(`"https://cdn.example.com/out.mp4"`)}
	fx := newFixture(t, client, &fakeFetcher{payload: []byte("x")})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	u := fx.seedUpload(t, true)
	interrupted := New(u.ID, "lucataco/real-esrgan-video")
	require.NoError(t, interrupted.Start())
	interrupted.PredictionID = "pred_resume"
	require.NoError(t, fx.jobs.Save(ctx, interrupted))

	fx.svc.Start(ctx)
	require.NoError(t, fx.svc.Recover(ctx))

	final := fx.waitTerminal(t, interrupted.ID)
	assert.Equal(t, StatusCompleted, final.Status)

	uploads, creates, waits := client.counts()
	assert.Zero(t, uploads, "resume must not re-upload the source")
	assert.Zero(t, creates, "resume must not submit a second prediction")
	assert.Equal(t, 1, waits)
}

func TestRecoverFailsOrphanedProcessing(t *testing.T) {
	fx := newFixture(t, &fakeClient{}, &fakeFetcher{})
	ctx := context.Background()

	u := fx.seedUpload(t, true)
	orphan := New(u.ID, "model")
	require.NoError(t, orphan.Start())
	require.NoError(t, fx.jobs.Save(ctx, orphan))

	require.NoError(t, fx.svc.Recover(ctx))

	found, err := fx.jobs.FindByID(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, found.Status)
	assert.Equal(t, "enhancement interrupted by restart", found.Error)
}

// recordingRepo captures the status of every persisted write.
type recordingRepo struct {
	*MemoryRepository
	mu       sync.Mutex
	statuses []Status
}

func (r *recordingRepo) Save(ctx context.Context, j *Job) error {
	r.mu.Lock()
	r.statuses = append(r.statuses, j.Status)
	r.mu.Unlock()
	return r.MemoryRepository.Save(ctx, j)
}

func TestFailingPendingJobPersistsProcessingFirst(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	repo := &recordingRepo{MemoryRepository: NewMemoryRepository()}
	uploads := upload.NewMemoryRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewEnhanceService(repo, uploads, store, nil, &fakeFetcher{}, testResolver, logger)

	ctx := context.Background()
	stranded := New("upl_1", "model")
	// Seed directly so only the recovery writes are recorded.
	require.NoError(t, repo.MemoryRepository.Save(ctx, stranded))

	require.NoError(t, svc.Recover(ctx))

	assert.Equal(t, []Status{StatusProcessing, StatusFailed}, repo.statuses,
		"store readers must observe every transition, never pending straight to failed")

	found, err := repo.FindByID(ctx, stranded.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, found.Status)
	assert.False(t, found.StartedAt.IsZero())
}

func TestEnqueueOverflowDrainsAfterShutdown(t *testing.T) {
	client := &fakeClient{pred: succeededWith(`"https://cdn.example.com/out.mp4"`)}
	fx := newFixture(t, client, &fakeFetcher{payload: []byte("x")}, WithQueueCapacity(1))

	ctx, cancel := context.WithCancel(context.Background())
	fx.svc.Start(ctx)
	cancel()
	fx.svc.Wait()

	u := fx.seedUpload(t, true)
	before := runtime.NumGoroutine()
	for i := 0; i < 5; i++ {
		_, err := fx.svc.CreateJob(context.Background(), u.ID, "upscale")
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+1
	}, 2*time.Second, 10*time.Millisecond,
		"overflow handoffs must exit once the pool has shut down")
}

func TestRecoverWithoutClientFailsActive(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	jobs := NewMemoryRepository()
	uploads := upload.NewMemoryRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewEnhanceService(jobs, uploads, store, nil, &fakeFetcher{}, testResolver, logger)

	ctx := context.Background()
	stranded := New("upl_1", "model")
	require.NoError(t, jobs.Save(ctx, stranded))

	require.NoError(t, svc.Recover(ctx))

	found, err := jobs.FindByID(ctx, stranded.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, found.Status)
	assert.Equal(t, "enhancement interrupted by restart", found.Error)
}
