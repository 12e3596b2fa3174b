package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/superglue-ai/superglue-go/core"
	"github.com/superglue-ai/superglue-go/sandbox"
)

func newTestResolver() *Resolver {
	return NewResolver(sandbox.NewEvaluator(core.DefaultConfig(), nil), nil)
}

func TestResolveStringIdentifiers(t *testing.T) {
	r := newTestResolver()
	ctx := context.Background()
	scope := map[string]interface{}{
		"page":           2,
		"pageSize":       "50",
		"stripe_api_key": "sk_test_123456",
		"user": map[string]interface{}{
			"id": float64(9),
		},
	}

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no placeholders", "https://api.example.com/items", "https://api.example.com/items"},
		{"single variable", "page=<<page>>", "page=2"},
		{"multiple variables", "?page=<<page>>&limit=<<pageSize>>", "?page=2&limit=50"},
		{"dotted path", "/users/<<user.id>>", "/users/9"},
		{"credential", "Bearer <<stripe_api_key>>", "Bearer sk_test_123456"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ResolveString(ctx, tt.input, scope, nil)
			if err != nil {
				t.Fatalf("ResolveString: %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveString(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestResolveStringArrowFunction(t *testing.T) {
	r := newTestResolver()
	scope := map[string]interface{}{
		"ids": []interface{}{float64(1), float64(2), float64(3)},
	}
	got, err := r.ResolveString(context.Background(), "?ids=<<(sourceData) => sourceData.ids.join(',')>>", scope, nil)
	if err != nil {
		t.Fatalf("ResolveString: %v", err)
	}
	if got != "?ids=1,2,3" {
		t.Errorf("got %q", got)
	}
}

func TestResolveStringUndefinedVariable(t *testing.T) {
	r := newTestResolver()
	creds := map[string]string{"secret": "credential-value-1"}
	scope := map[string]interface{}{"secret": "credential-value-1"}

	_, err := r.ResolveString(context.Background(), "/x/<<missingVar>>", scope, creds)
	if err == nil {
		t.Fatalf("expected resolution error")
	}
	ee, ok := core.AsEngineError(err)
	if !ok || ee.Kind != core.KindVarResolution {
		t.Fatalf("error kind = %v, want VAR_RESOLUTION", err)
	}
	if !errors.Is(err, core.ErrUndefinedVariable) {
		t.Errorf("error does not wrap ErrUndefinedVariable")
	}
	if !strings.Contains(ee.Message, `"missingVar"`) {
		t.Errorf("message does not name the variable: %s", ee.Message)
	}
	if strings.Count(ee.Message, "missingVar") != 1 {
		t.Errorf("variable named more than once: %s", ee.Message)
	}
	if strings.Contains(ee.Message, "credential-value-1") {
		t.Errorf("message leaks credential: %s", ee.Message)
	}
	if strings.Contains(ee.Message, "undefined_variable") == false {
		t.Errorf("message lacks reason: %s", ee.Message)
	}
}

func TestResolveStringNeverProducesUndefined(t *testing.T) {
	r := newTestResolver()
	// First cursor iteration has no value yet.
	got, err := r.ResolveString(context.Background(), "cursor=<<cursor>>", map[string]interface{}{}, nil)
	if err != nil {
		t.Fatalf("ResolveString: %v", err)
	}
	if got != "cursor=" {
		t.Errorf("got %q, want empty cursor", got)
	}
	if strings.Contains(got, "undefined") {
		t.Errorf("resolver produced the literal undefined: %q", got)
	}
}

func TestResolveRequestDropsEmptyValues(t *testing.T) {
	r := newTestResolver()
	ep := &core.Endpoint{
		Method:  "GET",
		URLHost: "https://api.example.com",
		Headers: map[string]string{
			"X-Keep": "value",
			"X-Drop": "<<cursor>>",
		},
		QueryParams: map[string]string{
			"keep": "1",
			"drop": "<<cursor>>",
		},
	}
	req, err := r.ResolveRequest(context.Background(), ep, map[string]interface{}{}, nil, core.RequestOptions{})
	if err != nil {
		t.Fatalf("ResolveRequest: %v", err)
	}
	if _, ok := req.Headers["X-Drop"]; ok {
		t.Errorf("empty header not dropped")
	}
	if req.Headers["X-Keep"] != "value" {
		t.Errorf("kept header lost")
	}
	if _, ok := req.QueryParams["drop"]; ok {
		t.Errorf("empty query param not dropped")
	}
}

func TestNormalizeAuthorization(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"double bearer", "Bearer Bearer tok123", "Bearer tok123"},
		{"double basic", "Basic Basic dXNlcjpwYXNz", "Basic dXNlcjpwYXNz"},
		{"unencoded basic", "Basic user:pass", "Basic dXNlcjpwYXNz"},
		{"already encoded basic", "Basic dXNlcjpwYXNz", "Basic dXNlcjpwYXNz"},
		{"plain bearer untouched", "Bearer tok123", "Bearer tok123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{"Authorization": tt.input}
			normalizeAuthorization(headers)
			if headers["Authorization"] != tt.want {
				t.Errorf("normalizeAuthorization(%q) = %q, want %q", tt.input, headers["Authorization"], tt.want)
			}
		})
	}
}

func TestBuildScopeLayering(t *testing.T) {
	payload := map[string]interface{}{"page": "stale", "keep": "payload"}
	creds := map[string]string{"api_key": "k123456"}
	pagination := map[string]interface{}{"page": 3}

	scope := BuildScope(payload, creds, pagination, "item-1")

	if scope["page"] != 3 {
		t.Errorf("pagination vars must win over payload: %v", scope["page"])
	}
	if scope["keep"] != "payload" {
		t.Errorf("payload key lost")
	}
	if scope["api_key"] != "k123456" {
		t.Errorf("credential not merged")
	}
	if scope["currentItem"] != "item-1" {
		t.Errorf("currentItem not bound")
	}

	// No currentItem layer when nil.
	scope = BuildScope(payload, creds, nil, nil)
	if _, ok := scope["currentItem"]; ok {
		t.Errorf("currentItem bound without a loop item")
	}
}
