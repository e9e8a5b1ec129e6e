package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/skyframe/skyframe-api/internal/replicate"
	"github.com/skyframe/skyframe-api/internal/storage"
	"github.com/skyframe/skyframe-api/internal/upload"
)

// Static precondition errors, surfaced synchronously by CreateJob.
// Execution errors are never returned to callers; they end up in the
// job's Error field with the job at failed.
var (
	// ErrUploadNotReady is returned when the source upload is not in uploaded state.
	ErrUploadNotReady = errors.New("upload is not ready for enhancement")
	// ErrUnknownModel is returned when the model key resolves to no known model.
	ErrUnknownModel = errors.New("unknown enhancement model")
	// ErrMissingCredential is returned when no Replicate API token is configured.
	ErrMissingCredential = errors.New("REPLICATE_API_TOKEN not set; AI enhancement is disabled")
)

// Fetcher downloads a result artifact URL into a local file and reports
// the number of bytes written.
type Fetcher interface {
	Fetch(ctx context.Context, url, destPath string) (int64, error)
}

// ModelResolver resolves a public model key to an external model identifier.
type ModelResolver func(key string) (model string, ok bool)

// task is one unit of work for the worker pool.
type task struct {
	jobID string
	// resume indicates the job was interrupted by a restart and should be
	// picked up at the wait step using its persisted prediction ID.
	resume bool
}

// EnhanceService orchestrates enhancement jobs: it creates job records,
// drives each one through submit → wait → fetch against the prediction
// service, and persists every state transition.
//
// Jobs run on a fixed-size worker pool fed by a queue, so the number of
// in-flight predictions is bounded. Each job is executed by exactly one
// worker, which is the sole writer of that job's record for its lifetime.
type EnhanceService struct {
	jobs         Repository
	uploads      upload.Repository
	store        storage.Storage
	client       replicate.Client
	fetcher      Fetcher
	resolveModel ModelResolver
	logger       *slog.Logger

	scale   int
	workers int
	mirror  bool

	queue     chan task
	queueCap  int
	done      chan struct{}
	startOnce sync.Once
	wg        sync.WaitGroup
}

// ServiceOption is a function that configures an EnhanceService.
type ServiceOption func(*EnhanceService)

// WithWorkers sets the number of concurrent job workers.
func WithWorkers(n int) ServiceOption {
	return func(s *EnhanceService) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithScaleFactor sets the upscale factor passed to scale-aware models.
func WithScaleFactor(n int) ServiceOption {
	return func(s *EnhanceService) {
		if n > 0 {
			s.scale = n
		}
	}
}

// WithQueueCapacity sets the buffered capacity of the work queue.
func WithQueueCapacity(n int) ServiceOption {
	return func(s *EnhanceService) {
		if n > 0 {
			s.queueCap = n
		}
	}
}

// WithOutputMirroring enables mirroring completed outputs to S3.
func WithOutputMirroring(enabled bool) ServiceOption {
	return func(s *EnhanceService) {
		s.mirror = enabled
	}
}

// NewEnhanceService creates a new EnhanceService.
// The client may be nil when no API token is configured; job creation then
// fails with ErrMissingCredential while the read side keeps working.
func NewEnhanceService(
	jobs Repository,
	uploads upload.Repository,
	store storage.Storage,
	client replicate.Client,
	fetcher Fetcher,
	resolveModel ModelResolver,
	logger *slog.Logger,
	opts ...ServiceOption,
) *EnhanceService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &EnhanceService{
		jobs:         jobs,
		uploads:      uploads,
		store:        store,
		client:       client,
		fetcher:      fetcher,
		resolveModel: resolveModel,
		logger:       logger,
		scale:        2,
		workers:      3,
		queueCap:     64,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.queue = make(chan task, s.queueCap)
	s.done = make(chan struct{})
	return s
}

// Start launches the worker pool. Workers run until ctx is cancelled;
// cancellation abandons in-flight jobs at their last persisted state.
func (s *EnhanceService) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		for i := 0; i < s.workers; i++ {
			s.wg.Add(1)
			go s.worker(ctx)
		}
		go func() {
			<-ctx.Done()
			close(s.done)
		}()
		s.logger.Info("enhancement workers started", slog.Int("workers", s.workers))
	})
}

// Wait blocks until all workers have exited.
func (s *EnhanceService) Wait() {
	s.wg.Wait()
}

func (s *EnhanceService) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-s.queue:
			s.execute(ctx, t)
		}
	}
}

// enqueue hands a task to the pool without ever blocking the caller.
// When the buffer is full the handoff moves to a goroutine; the job simply
// stays pending until a worker picks it up. The handoff gives up once the
// pool has shut down, so the recovery scan on the next start owns the job.
func (s *EnhanceService) enqueue(t task) {
	select {
	case s.queue <- t:
	default:
		go func() {
			select {
			case s.queue <- t:
			case <-s.done:
			}
		}()
	}
}

// CreateJob validates preconditions, inserts a pending job and schedules
// exactly one execution unit for it. The returned job reflects the record
// at creation time; callers observe progress via GetJob.
func (s *EnhanceService) CreateJob(ctx context.Context, uploadID, modelKey string) (*Job, error) {
	u, err := s.uploads.FindByID(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if u.Status != upload.StatusUploaded {
		return nil, fmt.Errorf("%w: upload %s is %s", ErrUploadNotReady, u.ID, u.Status)
	}

	model, ok := s.resolveModel(modelKey)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, modelKey)
	}

	if s.client == nil {
		return nil, ErrMissingCredential
	}

	j := New(u.ID, model)
	if err := s.jobs.Save(ctx, j); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	s.logger.Info("enhancement job created",
		slog.String("job_id", j.ID),
		slog.String("upload_id", u.ID),
		slog.String("model", model),
	)

	s.enqueue(task{jobID: j.ID})
	return j.Clone(), nil
}

// Enabled reports whether the prediction client is configured, and with it
// whether CreateJob can succeed.
func (s *EnhanceService) Enabled() bool {
	return s.client != nil
}

// GetJob retrieves a job by ID.
func (s *EnhanceService) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.jobs.FindByID(ctx, jobID)
}

// ListJobsForUpload returns all jobs for an upload, newest first.
func (s *EnhanceService) ListJobsForUpload(ctx context.Context, uploadID string) ([]*Job, error) {
	return s.jobs.ListByUpload(ctx, uploadID)
}

// ListActiveJobs returns all pending or processing jobs, oldest first.
func (s *EnhanceService) ListActiveJobs(ctx context.Context) ([]*Job, error) {
	return s.jobs.ListActive(ctx)
}

// Recover re-schedules jobs left in a non-terminal state by a previous
// process. Pending jobs are re-enqueued from the start; processing jobs
// with a known prediction ID are resumed at the wait step; processing jobs
// without one cannot be resumed and are failed. Must run before the HTTP
// listener starts so no job ever gains a second execution unit.
func (s *EnhanceService) Recover(ctx context.Context) error {
	active, err := s.jobs.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("scan active jobs: %w", err)
	}

	var requeued, resumed, failed int
	for _, j := range active {
		switch {
		case s.client == nil || (j.Status == StatusProcessing && j.PredictionID == ""):
			s.failJob(ctx, j, "enhancement interrupted by restart")
			failed++
		case j.Status == StatusPending:
			s.enqueue(task{jobID: j.ID})
			requeued++
		default:
			s.enqueue(task{jobID: j.ID, resume: true})
			resumed++
		}
	}

	if len(active) > 0 {
		s.logger.Info("recovered interrupted jobs",
			slog.Int("requeued", requeued),
			slog.Int("resumed", resumed),
			slog.Int("failed", failed),
		)
	}
	return nil
}

// execute drives one job to a terminal state. All execution errors terminate
// the job as failed with a human-readable cause; nothing propagates.
func (s *EnhanceService) execute(ctx context.Context, t task) {
	j, err := s.jobs.FindByID(ctx, t.jobID)
	if err != nil {
		s.logger.Error("job vanished before execution",
			slog.String("job_id", t.jobID),
			slog.String("error", err.Error()),
		)
		return
	}
	if j.IsTerminal() {
		return
	}

	if err := s.run(ctx, j, t.resume); err != nil {
		s.failJob(ctx, j, err.Error())
	}
}

// run performs the submit → wait → fetch pipeline for one job.
// The returned error becomes the job's persisted error message.
func (s *EnhanceService) run(ctx context.Context, j *Job, resume bool) error {
	if j.Status == StatusPending {
		if err := j.Start(); err != nil {
			return fmt.Errorf("start job: %v", err)
		}
		if err := s.jobs.Save(ctx, j); err != nil {
			return fmt.Errorf("persist job start: %v", err)
		}
	}

	u, err := s.uploads.FindByID(ctx, j.UploadID)
	if err != nil {
		return fmt.Errorf("source upload %s not found", j.UploadID)
	}

	var pred replicate.Prediction
	if resume && j.PredictionID != "" {
		s.logger.Info("resuming prediction wait",
			slog.String("job_id", j.ID),
			slog.String("prediction_id", j.PredictionID),
		)
		pred, err = s.client.Wait(ctx, j.PredictionID)
		if err != nil {
			return fmt.Errorf("wait for prediction: %v", err)
		}
	} else {
		pred, err = s.submit(ctx, j, u)
		if err != nil {
			return err
		}
		pred, err = s.client.Wait(ctx, pred.ID)
		if err != nil {
			return fmt.Errorf("wait for prediction: %v", err)
		}
	}

	return s.finalize(ctx, j, u, pred)
}

// submit uploads the source video and creates the prediction, persisting the
// prediction ID as soon as it is known so observers see processing with a
// populated handle while the external job runs.
func (s *EnhanceService) submit(ctx context.Context, j *Job, u *upload.Upload) (replicate.Prediction, error) {
	if !s.store.Exists(u.StorageKey) {
		return replicate.Prediction{}, errors.New("source video not found in storage")
	}

	videoURL, err := s.client.UploadFile(ctx, s.store.Path(u.StorageKey))
	if err != nil {
		return replicate.Prediction{}, fmt.Errorf("upload source video: %v", err)
	}

	input, known := replicate.BuildInput(j.ModelName, videoURL, s.scale)
	if !known {
		s.logger.Warn("unknown model family, submitting generic input shape",
			slog.String("job_id", j.ID),
			slog.String("model", j.ModelName),
		)
	}

	s.logger.Info("submitting prediction",
		slog.String("job_id", j.ID),
		slog.String("model", j.ModelName),
	)

	pred, err := s.client.CreatePrediction(ctx, j.ModelName, input)
	if err != nil {
		return replicate.Prediction{}, fmt.Errorf("submit prediction: %v", err)
	}

	j.PredictionID = pred.ID
	if err := s.jobs.Save(ctx, j); err != nil {
		return replicate.Prediction{}, fmt.Errorf("persist prediction id: %v", err)
	}

	return pred, nil
}

// finalize reconciles a terminal prediction into the job's terminal state.
func (s *EnhanceService) finalize(ctx context.Context, j *Job, u *upload.Upload, pred replicate.Prediction) error {
	switch pred.Status {
	case replicate.StatusCanceled:
		if err := j.Cancel(); err != nil {
			return fmt.Errorf("cancel job: %v", err)
		}
		if err := s.jobs.Save(ctx, j); err != nil {
			return fmt.Errorf("persist cancellation: %v", err)
		}
		s.logger.Info("prediction was canceled", slog.String("job_id", j.ID))
		return nil
	case replicate.StatusFailed:
		return fmt.Errorf("prediction failed: %s", pred.Error)
	case replicate.StatusSucceeded:
		// fall through to download
	default:
		return fmt.Errorf("prediction ended in unexpected state %q", pred.Status)
	}

	outputURL, err := pred.OutputURL()
	if err != nil {
		return fmt.Errorf("no usable output from prediction: %v", err)
	}

	outputKey := storage.OutputKey(j.ID, "enhanced_"+u.OriginalFilename)
	size, err := s.fetcher.Fetch(ctx, outputURL, s.store.Path(outputKey))
	if err != nil {
		return fmt.Errorf("download enhanced video: %v", err)
	}

	if s.mirror {
		s.mirrorOutput(ctx, j, outputKey)
	}

	if err := j.Complete(outputKey, size); err != nil {
		return fmt.Errorf("complete job: %v", err)
	}
	if err := s.jobs.Save(ctx, j); err != nil {
		return fmt.Errorf("persist completion: %v", err)
	}

	s.logger.Info("enhancement complete",
		slog.String("job_id", j.ID),
		slog.String("output_key", outputKey),
		slog.Int64("output_size", size),
	)
	return nil
}

// mirrorOutput copies the downloaded artifact to S3 on a best-effort basis.
// The local copy is authoritative, so a mirror failure does not fail the job.
func (s *EnhanceService) mirrorOutput(ctx context.Context, j *Job, outputKey string) {
	rc, err := s.store.Open(ctx, outputKey)
	if err != nil {
		s.logger.Warn("cannot open output for mirroring",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer func() { _ = rc.Close() }()

	url, err := s.store.UploadToS3(ctx, outputKey, rc)
	if err != nil {
		if !errors.Is(err, storage.ErrS3NotConfigured) {
			s.logger.Warn("output mirroring failed",
				slog.String("job_id", j.ID),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	j.OutputURL = url
}

// failJob terminates a job as failed with the given cause. A job that never
// started is moved through processing first, with the intermediate state
// persisted so store readers observe every transition; status only moves
// forward.
func (s *EnhanceService) failJob(ctx context.Context, j *Job, msg string) {
	if j.Status == StatusPending {
		if err := j.Start(); err == nil {
			if err := s.jobs.Save(ctx, j); err != nil {
				s.logger.Error("failed to persist job start",
					slog.String("job_id", j.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	if err := j.Fail(msg); err != nil {
		s.logger.Error("cannot fail job",
			slog.String("job_id", j.ID),
			slog.String("status", string(j.Status)),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.jobs.Save(ctx, j); err != nil {
		s.logger.Error("failed to persist job failure",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Error("enhancement failed",
		slog.String("job_id", j.ID),
		slog.String("error", msg),
	)
}
