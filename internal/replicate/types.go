// Package replicate provides an HTTP client for the Replicate prediction API.
package replicate

import "encoding/json"

// Status represents the status of a Replicate prediction.
type Status string

// Prediction statuses aligned with the Replicate API.
const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// Prediction is the normalized view of a Replicate prediction.
// Output is kept raw because its shape varies by model family; use
// OutputURL to extract a downloadable location.
type Prediction struct {
	// ID is the prediction identifier assigned by Replicate.
	ID string
	// Model is the model identifier the prediction runs on.
	Model string
	// Status is the current prediction state.
	Status Status
	// Output is the raw output document, shape depends on the model.
	Output json.RawMessage
	// Error is the failure description when Status is failed.
	Error string
}

// OutputURL extracts the first downloadable URL from the prediction output.
// Returns ErrNoOutputURL if no URL-bearing value is found.
func (p Prediction) OutputURL() (string, error) {
	return ExtractOutputURL(p.Output)
}

// predictionRequest is the request body for creating a prediction.
type predictionRequest struct {
	Input map[string]any `json:"input"`
}

// predictionResponse mirrors the Replicate prediction document.
type predictionResponse struct {
	ID     string          `json:"id"`
	Model  string          `json:"model,omitempty"`
	Status string          `json:"status,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
	Detail string          `json:"detail,omitempty"`
}

// toPrediction converts the wire document to the normalized form.
func (r predictionResponse) toPrediction() Prediction {
	errMsg := r.Error
	if errMsg == "" {
		errMsg = r.Detail
	}
	return Prediction{
		ID:     r.ID,
		Model:  r.Model,
		Status: Status(r.Status),
		Output: r.Output,
		Error:  errMsg,
	}
}

// fileResponse mirrors the Replicate files API document.
type fileResponse struct {
	ID   string `json:"id"`
	URLs struct {
		Get string `json:"get"`
	} `json:"urls"`
}
