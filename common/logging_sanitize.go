package common

import (
	"bytes"
	"encoding/json"
)

const (
	// DefaultLogBodyLimit defines the maximum number of bytes to emit for log previews.
	DefaultLogBodyLimit = 4096
	// LogTruncationSuffix marks truncated log values.
	LogTruncationSuffix = "...[truncated]"
)

// SanitizePayloadForLogging returns a preview of the payload bounded by limit
// and whether it was truncated. JSON payloads have long string leaves clipped
// individually so the preview keeps its structure.
func SanitizePayloadForLogging(body []byte, limit int) ([]byte, bool) {
	if limit <= 0 {
		return body, false
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		var payload any
		if err := json.Unmarshal(body, &payload); err == nil {
			sanitized := clipJSONStrings(payload, limit)
			if out, err := json.Marshal(sanitized); err == nil {
				if len(out) > limit {
					return append(out[:limit], []byte(LogTruncationSuffix)...), true
				}
				return out, false
			}
		}
	}

	if len(body) > limit {
		return append(append([]byte{}, body[:limit]...), []byte(LogTruncationSuffix)...), true
	}
	return body, false
}

func clipJSONStrings(value any, limit int) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, inner := range v {
			out[key] = clipJSONStrings(inner, limit)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = clipJSONStrings(inner, limit)
		}
		return out
	case string:
		if len(v) > limit {
			return v[:limit] + LogTruncationSuffix
		}
		return v
	default:
		return v
	}
}
