package llms

import (
	"encoding/json"
	"strings"
)

// ParseJSONObject extracts a JSON object from raw model output. Models
// wrap JSON in markdown fences or prose often enough that a plain
// json.Unmarshal is not sufficient. Returns nil when no object can be
// recovered.
func ParseJSONObject(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	// Strip markdown code fences.
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
		raw = strings.TrimSpace(raw)
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		return obj
	}

	// Fall back to the outermost brace span.
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return nil
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &obj); err != nil {
		return nil
	}
	return obj
}

// Int reads an integer field from a parsed response, tolerating the
// float64 that encoding/json produces and numeric strings some models emit.
func Int(obj map[string]any, key string) (int, bool) {
	switch v := obj[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), true
		}
	case string:
		var n int
		if err := json.Unmarshal([]byte(strings.TrimSpace(v)), &n); err == nil {
			return n, true
		}
	}
	return 0, false
}

// Str reads a string field from a parsed response.
func Str(obj map[string]any, key string) string {
	if s, ok := obj[key].(string); ok {
		return s
	}
	return ""
}

// Bool reads a boolean field, tolerating "true"/"false" strings.
func Bool(obj map[string]any, key string) (bool, bool) {
	switch v := obj[key].(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

// StrSlice reads a list of strings from a parsed response.
func StrSlice(obj map[string]any, key string) []string {
	raw, ok := obj[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
