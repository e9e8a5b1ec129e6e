package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
)

// ErrNoVideoStream is returned when the probed file contains no video stream.
var ErrNoVideoStream = errors.New("media: no video stream found")

// FFprobeProber implements Prober using the ffprobe CLI.
type FFprobeProber struct {
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
}

// NewFFprobeProber creates a new FFprobeProber.
// If ffprobePath is empty, it defaults to "ffprobe" (found via PATH).
func NewFFprobeProber(ffprobePath string) *FFprobeProber {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFprobeProber{ffprobePath: ffprobePath}
}

// probeOutput mirrors the subset of ffprobe JSON output we consume.
type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe extracts duration and resolution from the video at path.
func (p *FFprobeProber) Probe(ctx context.Context, path string) (VideoInfo, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return VideoInfo{}, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return VideoInfo{}, &FFprobeError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return VideoInfo{}, fmt.Errorf("media: parse ffprobe output: %w", err)
	}

	info := VideoInfo{}
	if out.Format.Duration != "" {
		duration, err := strconv.ParseFloat(out.Format.Duration, 64)
		if err != nil {
			return VideoInfo{}, fmt.Errorf("media: parse duration %q: %w", out.Format.Duration, err)
		}
		info.DurationSec = duration
	}

	for _, s := range out.Streams {
		if s.CodecType == "video" && s.Width > 0 && s.Height > 0 {
			info.Resolution = fmt.Sprintf("%dx%d", s.Width, s.Height)
			break
		}
	}
	if info.Resolution == "" {
		return VideoInfo{}, ErrNoVideoStream
	}

	return info, nil
}

// FFprobeError represents an error from running ffprobe, including the stderr output.
type FFprobeError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFprobeError) Error() string {
	return fmt.Sprintf("ffprobe error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFprobeError) Unwrap() error {
	return e.Err
}

// Compile-time check that FFprobeProber implements Prober.
var _ Prober = (*FFprobeProber)(nil)
