package replicate

import "strings"

// InputBuilder builds the model-specific prediction input for a source
// video URL. Each model family expects a different parameter shape.
type InputBuilder func(videoURL string, scale int) map[string]any

// inputFamily pairs a model-name substring with the builder for that family.
type inputFamily struct {
	match string
	build InputBuilder
}

// inputFamilies is the builder registry, checked in order at submission time.
var inputFamilies = []inputFamily{
	{
		// Real-ESRGAN takes the video under "video_path" plus a scale factor.
		match: "real-esrgan",
		build: func(videoURL string, scale int) map[string]any {
			return map[string]any{"video_path": videoURL, "scale": scale}
		},
	},
	{
		// Topaz Labs takes a fixed parameter set: just the video.
		match: "topazlabs",
		build: func(videoURL string, _ int) map[string]any {
			return map[string]any{"video": videoURL}
		},
	},
}

// BuildInput returns the prediction input for the given model. The second
// return value reports whether the model matched a known family; unknown
// models fall back to the generic {"video": url} shape and the caller is
// expected to log the miss.
func BuildInput(model, videoURL string, scale int) (map[string]any, bool) {
	for _, family := range inputFamilies {
		if strings.Contains(model, family.match) {
			return family.build(videoURL, scale), true
		}
	}
	return map[string]any{"video": videoURL}, false
}
