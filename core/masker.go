package core

import (
	"strings"
)

// MaskMarker replaces credential values in diagnostics.
const MaskMarker = "***MASKED***"

// minMaskLength avoids masking trivially short values ("1", "us") that
// would shred unrelated text.
const minMaskLength = 4

// MaskCredentials replaces every occurrence of a credential value inside
// s with the redaction marker. Every externally visible diagnostic
// (error message, log entry, prompt payload echo) must pass through this
// before emission. The operation is idempotent: masking an already
// masked string is a no-op because the marker never collides with a
// credential value of masking length.
func MaskCredentials(s string, credentials map[string]string) string {
	if s == "" || len(credentials) == 0 {
		return s
	}
	for _, value := range credentials {
		if len(value) < minMaskLength {
			continue
		}
		s = strings.ReplaceAll(s, value, MaskMarker)
	}
	return s
}

// MaskValue walks an arbitrary decoded value and masks credential
// substrings in every string it contains. Maps and slices are copied;
// other types pass through unchanged.
func MaskValue(v interface{}, credentials map[string]string) interface{} {
	if len(credentials) == 0 {
		return v
	}
	switch t := v.(type) {
	case string:
		return MaskCredentials(t, credentials)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = MaskValue(val, credentials)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = MaskValue(val, credentials)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, val := range t {
			out[k] = MaskCredentials(val, credentials)
		}
		return out
	default:
		return v
	}
}
