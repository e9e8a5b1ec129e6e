// Package job provides the enhancement Job aggregate: the entity with its
// state machine, the repository port for persistence, and the EnhanceService
// that drives jobs against the external prediction service.
package job

import (
	"errors"
	"time"

	"github.com/skyframe/skyframe-api/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusPending indicates the job is waiting for a worker.
	StatusPending Status = "pending"
	// StatusProcessing indicates the job is being driven against the prediction service.
	StatusProcessing Status = "processing"
	// StatusCompleted indicates the enhanced video was downloaded successfully.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the job encountered an error during execution.
	StatusFailed Status = "failed"
	// StatusCanceled indicates the external service reported cancellation.
	StatusCanceled Status = "canceled"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
// Status only ever moves forward: pending → processing → terminal.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCanceled},
	StatusCompleted:  {},
	StatusFailed:     {},
	StatusCanceled:   {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Job represents one request to enhance an upload via the external
// prediction service. Each Job's mutable fields are owned by exactly one
// execution unit for the unit's entire lifetime; the repository only
// persists whatever that unit writes.
type Job struct {
	// ID is the unique identifier for this job.
	ID string
	// UploadID references the source upload. Many jobs may share one upload.
	UploadID string
	// ModelName is the external model identifier submitted to Replicate.
	ModelName string
	// PredictionID is the external prediction handle, set once the
	// prediction service accepts the submission.
	PredictionID string
	// Status is the current job state.
	Status Status
	// Progress is the percentage of completion (0-100), advisory only.
	Progress float64
	// OutputKey is the storage key of the enhanced video. Set only on completed.
	OutputKey string
	// OutputSize is the size in bytes of the enhanced video. Set only on completed.
	OutputSize int64
	// OutputURL is the S3 URL of the mirrored output, when S3 is configured.
	OutputURL string
	// Error contains the failure cause. Set only on failed.
	Error string
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID in pending state.
func New(uploadID, modelName string) *Job {
	return &Job{
		ID:        id.NewJobID(),
		UploadID:  uploadID,
		ModelName: modelName,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	now := time.Now().UTC()

	switch status {
	case StatusProcessing:
		j.StartedAt = now
	case StatusCompleted, StatusFailed, StatusCanceled:
		j.CompletedAt = now
	}

	return nil
}

// Start transitions the job from pending to processing.
func (j *Job) Start() error {
	return j.TransitionTo(StatusProcessing)
}

// Complete transitions the job to completed and records the output.
func (j *Job) Complete(outputKey string, outputSize int64) error {
	if err := j.TransitionTo(StatusCompleted); err != nil {
		return err
	}
	j.OutputKey = outputKey
	j.OutputSize = outputSize
	j.Progress = 100
	return nil
}

// Fail transitions the job to failed with an error message.
func (j *Job) Fail(errMsg string) error {
	if err := j.TransitionTo(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	return nil
}

// Cancel transitions the job to canceled. Unlike Fail, no error message is
// recorded: cancellation is not a failure of this system.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCanceled)
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// DownloadReady reports whether the enhanced video can be downloaded.
// Always derived, never stored.
func (j *Job) DownloadReady() bool {
	return j.Status == StatusCompleted && j.OutputKey != ""
}

// Clone creates a copy of the job for safe reads.
func (j *Job) Clone() *Job {
	clone := *j
	return &clone
}
