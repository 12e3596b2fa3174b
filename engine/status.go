package engine

import (
	"fmt"
	"strings"

	"github.com/superglue-ai/superglue-go/core"
	"github.com/superglue-ai/superglue-go/transport"
)

// Response previews are bounded so diagnostics stay shippable to an LLM.
const (
	errorPreviewLimit     = 1024
	softErrorPreviewLimit = 2560
)

// errorKeys are response fields that mark a 2xx payload as a failure
// when they hold a non-empty value. Matched case-insensitively, searched
// to depth 2.
var errorKeys = map[string]bool{
	"error":          true,
	"errors":         true,
	"error_message":  true,
	"errormessage":   true,
	"failure_reason": true,
	"failure":        true,
	"failed":         true,
	"error message":  true,
}

// Interpret maps a transport outcome to continue (nil) or fail. The
// returned error is a STATUS EngineError whose message is fully
// credential-masked: method, URL, status, bounded response preview and
// the masked request config.
func Interpret(resp *core.Response, req *transport.Request, credentials map[string]string) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview := core.Truncate(core.Serialize(resp.Data), errorPreviewLimit)
		msg := fmt.Sprintf("%s %s returned status %d. Response: %s. Request config: %s",
			req.Method, req.URL(), resp.StatusCode, preview, describeRequest(req))
		if resp.StatusCode == 429 {
			retryAfter := resp.Headers["Retry-After"]
			if retryAfter == "" {
				retryAfter = "not provided"
			}
			msg = fmt.Sprintf("rate limited, backoff budget exhausted (Retry-After: %s): %s", retryAfter, msg)
		}
		return &core.EngineError{
			Kind:              core.KindStatus,
			Message:           core.MaskCredentials(msg, credentials),
			StatusCode:        resp.StatusCode,
			LastFailureStatus: resp.StatusCode,
		}
	}

	if reason, failed := detectSoftError(resp.Data); failed {
		preview := core.Truncate(core.Serialize(resp.Data), softErrorPreviewLimit)
		msg := fmt.Sprintf("%s %s returned status %d but the body indicates failure (%s). Response: %s. Request config: %s",
			req.Method, req.URL(), resp.StatusCode, reason, preview, describeRequest(req))
		return &core.EngineError{
			Kind:              core.KindStatus,
			Message:           core.MaskCredentials(msg, credentials),
			StatusCode:        resp.StatusCode,
			LastFailureStatus: resp.StatusCode,
		}
	}

	return nil
}

// detectSoftError applies the 2xx-as-error rules to the decoded body:
// numeric code/status in [400, 599], a non-empty error key within depth
// 2 of the top-level object (or first array element), or an HTML
// document where structured data was expected.
func detectSoftError(data interface{}) (string, bool) {
	if s, ok := data.(string); ok && transport.LooksLikeHTML([]byte(s)) {
		return "HTML error page returned instead of structured data", true
	}

	candidate := data
	if arr, ok := data.([]interface{}); ok {
		if len(arr) == 0 {
			return "", false
		}
		candidate = arr[0]
	}
	obj, ok := candidate.(map[string]interface{})
	if !ok {
		return "", false
	}

	for _, key := range []string{"code", "status"} {
		if n, isNum := numericValue(obj[key]); isNum && n >= 400 && n <= 599 {
			return fmt.Sprintf("%s field holds error value %d", key, n), true
		}
	}

	if key, found := findErrorKey(obj, 2); found {
		return fmt.Sprintf("error key detected: %q holds a non-empty value", key), true
	}
	return "", false
}

// findErrorKey searches for a non-empty error-ish key up to the given
// depth, counting the top level as depth 1.
func findErrorKey(obj map[string]interface{}, depth int) (string, bool) {
	if depth <= 0 {
		return "", false
	}
	for k, v := range obj {
		if errorKeys[strings.ToLower(k)] && nonEmpty(v) {
			return k, true
		}
	}
	for _, v := range obj {
		if nested, ok := v.(map[string]interface{}); ok {
			if k, found := findErrorKey(nested, depth-1); found {
				return k, true
			}
		}
	}
	return "", false
}

func numericValue(v interface{}) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	default:
		return 0, false
	}
}

func nonEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	default:
		return true
	}
}

// describeRequest renders the request config for diagnostics. Values
// are masked by the caller together with the rest of the message.
func describeRequest(req *transport.Request) string {
	cfg := map[string]interface{}{
		"method":      req.Method,
		"url":         req.URL(),
		"headers":     req.Headers,
		"queryParams": req.QueryParams,
	}
	if req.Body != nil {
		cfg["body"] = core.Truncate(core.ToString(req.Body), errorPreviewLimit)
	}
	return core.Serialize(cfg)
}
