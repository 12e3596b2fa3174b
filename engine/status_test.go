package engine

import (
	"strings"
	"testing"

	"github.com/superglue-ai/superglue-go/core"
	"github.com/superglue-ai/superglue-go/transport"
)

func testRequest() *transport.Request {
	return &transport.Request{
		Method:  "GET",
		URLHost: "https://api.example.com",
		URLPath: "/items",
		Headers: map[string]string{"Authorization": "Bearer sk_secret_12345"},
	}
}

func TestInterpretSuccess(t *testing.T) {
	resp := &core.Response{StatusCode: 200, Data: []interface{}{map[string]interface{}{"id": float64(1)}}}
	if err := Interpret(resp, testRequest(), nil); err != nil {
		t.Errorf("2xx with clean body should pass: %v", err)
	}
}

func TestInterpretErrorStatus(t *testing.T) {
	creds := map[string]string{"stripe_api_key": "sk_secret_12345"}
	resp := &core.Response{
		StatusCode: 401,
		Data:       map[string]interface{}{"message": "invalid key sk_secret_12345"},
	}
	err := Interpret(resp, testRequest(), creds)
	if err == nil {
		t.Fatalf("expected STATUS error")
	}
	ee, ok := core.AsEngineError(err)
	if !ok || ee.Kind != core.KindStatus {
		t.Fatalf("error kind = %v, want STATUS", err)
	}
	if ee.StatusCode != 401 || ee.LastFailureStatus != 401 {
		t.Errorf("status not recorded: %+v", ee)
	}
	for _, want := range []string{"GET", "https://api.example.com/items", "401"} {
		if !strings.Contains(ee.Message, want) {
			t.Errorf("message missing %q: %s", want, ee.Message)
		}
	}
	if strings.Contains(ee.Message, "sk_secret_12345") {
		t.Errorf("message leaks credential: %s", ee.Message)
	}
	if !strings.Contains(ee.Message, core.MaskMarker) {
		t.Errorf("credential occurrences not masked: %s", ee.Message)
	}
}

func TestInterpretRateLimitPrefix(t *testing.T) {
	resp := &core.Response{
		StatusCode: 429,
		Data:       map[string]interface{}{"message": "slow down"},
		Headers:    map[string]string{"Retry-After": "120"},
	}
	err := Interpret(resp, testRequest(), nil)
	if err == nil {
		t.Fatalf("expected STATUS error for 429")
	}
	msg := err.Error()
	if !strings.Contains(msg, "rate limited") || !strings.Contains(msg, "Retry-After: 120") {
		t.Errorf("429 message lacks rate limit context: %s", msg)
	}
}

// 2xx responses whose body carries an error marker must fail.
func TestInterpretSoftError(t *testing.T) {
	creds := map[string]string{"api_key": "sk_secret_12345"}

	resp := &core.Response{
		StatusCode: 200,
		Data:       map[string]interface{}{"error": "quota exceeded"},
	}
	err := Interpret(resp, testRequest(), creds)
	if err == nil {
		t.Fatalf("expected soft error detection")
	}
	ee, ok := core.AsEngineError(err)
	if !ok || ee.Kind != core.KindStatus {
		t.Fatalf("error kind = %v, want STATUS", err)
	}
	if !strings.Contains(ee.Message, "error key detected") {
		t.Errorf("message missing detection reason: %s", ee.Message)
	}
	if !strings.Contains(ee.Message, "quota exceeded") {
		t.Errorf("message missing response content: %s", ee.Message)
	}
	if strings.Contains(ee.Message, "sk_secret_12345") {
		t.Errorf("request config not masked: %s", ee.Message)
	}
}

func TestDetectSoftError(t *testing.T) {
	tests := []struct {
		name     string
		data     interface{}
		wantFail bool
	}{
		{"clean object", map[string]interface{}{"items": []interface{}{}}, false},
		{"numeric code", map[string]interface{}{"code": float64(404), "message": "gone"}, true},
		{"numeric status", map[string]interface{}{"status": float64(500)}, true},
		{"success code", map[string]interface{}{"code": float64(200)}, false},
		{"error key top level", map[string]interface{}{"error": "boom"}, true},
		{"errors array", map[string]interface{}{"errors": []interface{}{"a"}}, true},
		{"empty error value ignored", map[string]interface{}{"error": ""}, false},
		{"null error ignored", map[string]interface{}{"error": nil}, false},
		{"error at depth 2", map[string]interface{}{"result": map[string]interface{}{"failure_reason": "nope"}}, true},
		{"error at depth 3 ignored", map[string]interface{}{"a": map[string]interface{}{"b": map[string]interface{}{"error": "deep"}}}, false},
		{"first array element checked", []interface{}{map[string]interface{}{"error": "x"}}, true},
		{"empty array passes", []interface{}{}, false},
		{"case-insensitive key", map[string]interface{}{"Error_Message": "x"}, true},
		{"html string", "<!DOCTYPE html><html><body>oops</body></html>", true},
		{"plain string passes", "all good", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, failed := detectSoftError(tt.data)
			if failed != tt.wantFail {
				t.Errorf("detectSoftError(%v) = %v, want %v", tt.data, failed, tt.wantFail)
			}
		})
	}
}
