package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ParseJSON attempts to decode b as JSON. The second return reports
// whether decoding succeeded; callers keep the raw form when it did not.
func ParseJSON(b []byte) (interface{}, bool) {
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, false
	}
	switch trimmed[0] {
	case '{', '[', '"', 't', 'f', 'n', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
	default:
		return nil, false
	}
	var v interface{}
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return nil, false
	}
	return v, true
}

// Serialize renders v as compact JSON. Used for hashing and diagnostics;
// failures degrade to fmt formatting rather than erroring.
func Serialize(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// StableHash returns a deterministic hash of a decoded JSON value.
// encoding/json sorts map keys, so structurally equal pages hash equal.
func StableHash(v interface{}) string {
	sum := sha256.Sum256([]byte(Serialize(v)))
	return hex.EncodeToString(sum[:])
}

// WalkDataPath descends into data following a dot-separated path. The
// literal "$" (or empty path) means identity. A missing segment stops
// the descent: the original value is returned with ok=false so callers
// can flag the miss instead of silently falling through to the parent.
func WalkDataPath(data interface{}, path string) (interface{}, bool) {
	if path == "" || path == "$" {
		return data, true
	}
	current := data
	for _, part := range strings.Split(path, ".") {
		if part == "" || part == "$" {
			continue
		}
		next, ok := descend(current, part)
		if !ok {
			return data, false
		}
		current = next
	}
	return current, true
}

// LookupPath resolves a dotted path against a variable scope. Unlike
// WalkDataPath it reports the exact resolved value and does not fall
// back to the input on a miss.
func LookupPath(scope map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	value, ok := scope[parts[0]]
	if !ok {
		return nil, false
	}
	var current interface{} = value
	for _, part := range parts[1:] {
		next, found := descend(current, part)
		if !found {
			return nil, false
		}
		current = next
	}
	return current, true
}

func descend(v interface{}, key string) (interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		val, ok := t[key]
		return val, ok
	case []interface{}:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(t) {
			return nil, false
		}
		return t[idx], true
	default:
		return nil, false
	}
}

// ToString renders a resolved variable for substitution into a template.
// Scalars keep their natural form; structures are JSON-encoded. The
// resolver guarantees the literal "undefined" never reaches a request.
func ToString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return Serialize(v)
	}
}

// Truncate bounds a diagnostic string, marking the cut.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...[truncated]"
}
