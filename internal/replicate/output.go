package replicate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoOutputURL is returned when a prediction output carries no URL-bearing
// value under any known shape. Distinct from a failed prediction: the
// prediction succeeded but produced nothing usable.
var ErrNoOutputURL = errors.New("replicate: no output URL in prediction")

// outputKeys is the ordered list of map keys checked for a URL-bearing value.
var outputKeys = []string{"video", "output", "enhanced_video", "result"}

// ExtractOutputURL finds the first downloadable URL in a prediction output.
// Model families return heterogeneous shapes; the following are handled:
//
//   - a plain URL string
//   - an object exposing a "url" field
//   - a list of outputs (the first URL-bearing element wins)
//   - a map keyed by one of video/output/enhanced_video/result
//
// Anything else yields ErrNoOutputURL.
func ExtractOutputURL(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", ErrNoOutputURL
	}

	var output any
	if err := json.Unmarshal(raw, &output); err != nil {
		return "", fmt.Errorf("replicate: decode prediction output: %w", err)
	}

	if url, ok := urlFromValue(output); ok {
		return url, nil
	}
	return "", ErrNoOutputURL
}

// urlFromValue dispatches on the decoded shape of an output value.
func urlFromValue(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		if val != "" {
			return val, true
		}
	case []any:
		for _, item := range val {
			if url, ok := urlFromElement(item); ok {
				return url, true
			}
		}
	case map[string]any:
		// Object exposing its URL directly
		if url, ok := stringField(val, "url"); ok {
			return url, true
		}
		// Keyed mapping with known output keys, in fixed order
		for _, key := range outputKeys {
			if item, ok := val[key]; ok {
				if url, ok := urlFromElement(item); ok {
					return url, true
				}
			}
		}
	}
	return "", false
}

// urlFromElement extracts a URL from a list element or map value:
// either a string or an object exposing a "url" field.
func urlFromElement(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		if val != "" {
			return val, true
		}
	case map[string]any:
		return stringField(val, "url")
	}
	return "", false
}

func stringField(m map[string]any, key string) (string, bool) {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}
