// Package media provides video metadata probing capabilities.
package media

import "context"

// VideoInfo contains the probed metadata of a video file.
type VideoInfo struct {
	// DurationSec is the duration of the video in seconds.
	DurationSec float64
	// Resolution is the video resolution formatted as "WIDTHxHEIGHT".
	Resolution string
}

// Prober defines the interface for extracting video metadata.
// Implementations should use ffprobe or similar tools.
type Prober interface {
	// Probe extracts duration and resolution from the video at path.
	Probe(ctx context.Context, path string) (VideoInfo, error)
}
