package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/superglue-ai/superglue-go/core"
)

func testOptions() core.RequestOptions {
	return core.RequestOptions{
		Timeout:          10 * time.Second,
		Retries:          1,
		RetryDelay:       10 * time.Millisecond,
		MaxRateLimitWait: 60 * time.Second,
	}
}

func TestHTTPCallDecodesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Request-Id", "abc")
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	tr := NewHTTPTransport(nil, nil)
	resp, err := tr.Call(context.Background(), &Request{
		Method:  "GET",
		URLHost: server.URL,
		Options: testOptions(),
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("statusCode = %d", resp.StatusCode)
	}
	if !reflect.DeepEqual(resp.Data, map[string]interface{}{"ok": true}) {
		t.Errorf("data = %#v", resp.Data)
	}
	if resp.Headers["X-Request-Id"] != "abc" {
		t.Errorf("headers not flattened: %#v", resp.Headers)
	}
}

func TestHTTPCallSendsHeadersAndBody(t *testing.T) {
	var gotAuth, gotContentType, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	tr := NewHTTPTransport(nil, nil)
	_, err := tr.Call(context.Background(), &Request{
		Method:  "POST",
		URLHost: server.URL,
		Headers: map[string]string{"Authorization": "Bearer tok"},
		Body:    `{"name":"x"}`,
		Options: testOptions(),
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json for stringified JSON", gotContentType)
	}
	if gotBody != `{"name":"x"}` {
		t.Errorf("body = %q", gotBody)
	}
}

// First call answers 429 with Retry-After: 1, second succeeds. The
// retry must wait at least the advertised second.
func TestHTTPRateLimitRetryAfter(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"id":1}]`)
	}))
	defer server.Close()

	tr := NewHTTPTransport(nil, nil)
	start := time.Now()
	resp, err := tr.Call(context.Background(), &Request{
		Method:  "GET",
		URLHost: server.URL,
		Options: testOptions(),
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("statusCode = %d, want 200", resp.StatusCode)
	}
	want := []interface{}{map[string]interface{}{"id": float64(1)}}
	if !reflect.DeepEqual(resp.Data, want) {
		t.Errorf("data = %#v, want %#v", resp.Data, want)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
	if elapsed < time.Second {
		t.Errorf("retry waited %v, want >= 1s per Retry-After", elapsed)
	}
}

// When the cumulative wait budget cannot cover the advertised delay,
// the 429 is surfaced instead of waited out.
func TestHTTPRateLimitBudgetExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	opts := testOptions()
	opts.MaxRateLimitWait = 100 * time.Millisecond

	tr := NewHTTPTransport(nil, nil)
	start := time.Now()
	resp, err := tr.Call(context.Background(), &Request{
		Method:  "GET",
		URLHost: server.URL,
		Options: opts,
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("statusCode = %d, want 429 surfaced", resp.StatusCode)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("exhausted budget still waited %v", elapsed)
	}
}

// No input may trigger more than retries+1 non-429 attempts.
func TestHTTPStatusRetryBound(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	opts := testOptions()
	opts.Retries = 2

	tr := NewHTTPTransport(nil, nil)
	resp, err := tr.Call(context.Background(), &Request{
		Method:  "GET",
		URLHost: server.URL,
		Options: opts,
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.StatusCode != 500 {
		t.Errorf("statusCode = %d", resp.StatusCode)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("attempts = %d, want retries+1 = 3", n)
	}
}

func TestHTTPNetworkErrorRetry(t *testing.T) {
	// Closed server: every dial fails.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	opts := testOptions()
	opts.Retries = 2

	tr := NewHTTPTransport(nil, nil)
	_, err := tr.Call(context.Background(), &Request{
		Method:  "GET",
		URLHost: url,
		Options: opts,
	})
	if err == nil {
		t.Fatalf("expected transport error")
	}
	ee, ok := core.AsEngineError(err)
	if !ok || ee.Kind != core.KindTransport {
		t.Fatalf("error kind = %v, want TRANSPORT", err)
	}
	if ee.RetriesAttempted != 2 {
		t.Errorf("RetriesAttempted = %d, want 2", ee.RetriesAttempted)
	}
}

func TestHTTPCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	tr := NewHTTPTransport(nil, nil)
	start := time.Now()
	_, err := tr.Call(ctx, &Request{Method: "GET", URLHost: server.URL, Options: testOptions()})
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancellation not honored promptly: %v", elapsed)
	}
}

func TestRetryAfterWait(t *testing.T) {
	if d := retryAfterWait("2", 0); d != 2*time.Second {
		t.Errorf("integer seconds = %v", d)
	}
	at := time.Now().Add(3 * time.Second).UTC().Format(http.TimeFormat)
	if d := retryAfterWait(at, 0); d < 2*time.Second || d > 4*time.Second {
		t.Errorf("http-date wait = %v", d)
	}
	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	if d := retryAfterWait(past, 0); d != 0 {
		t.Errorf("past http-date wait = %v, want 0", d)
	}
	// Unparseable header falls back to exponential backoff 10^k + jitter.
	if d := retryAfterWait("soon", 0); d < time.Second || d > 2*time.Second {
		t.Errorf("fallback k=0 wait = %v, want 1s..2s", d)
	}
	if d := retryAfterWait("", 1); d < 10*time.Second || d > 11*time.Second {
		t.Errorf("fallback k=1 wait = %v, want 10s..11s", d)
	}
}

func TestRequestURL(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{
			name: "host and path",
			req:  Request{URLHost: "https://api.example.com/", URLPath: "/v1/items"},
			want: "https://api.example.com/v1/items",
		},
		{
			name: "scheme added",
			req:  Request{URLHost: "api.example.com", URLPath: "items"},
			want: "https://api.example.com/items",
		},
		{
			name: "query params encoded",
			req:  Request{URLHost: "https://x.test", QueryParams: map[string]string{"q": "a b"}},
			want: "https://x.test?q=a+b",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.req.URL(); got != tt.want {
				t.Errorf("URL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestShapeBody(t *testing.T) {
	if b, _ := shapeBody("GET", "ignored"); b != nil {
		t.Errorf("GET body should be dropped")
	}
	b, ct := shapeBody("POST", `{"a":1}`)
	if string(b) != `{"a":1}` || ct != "application/json" {
		t.Errorf("json string body = %q, %q", b, ct)
	}
	b, ct = shapeBody("POST", "plain")
	if string(b) != "plain" || ct != "text/plain" {
		t.Errorf("plain body = %q, %q", b, ct)
	}
	b, ct = shapeBody("POST", map[string]interface{}{"a": 1})
	if string(b) != `{"a":1}` || ct != "application/json" {
		t.Errorf("structured body = %q, %q", b, ct)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		host string
		want Kind
	}{
		{"https://api.example.com", KindHTTP},
		{"api.example.com", KindHTTP},
		{"postgres://db:5432", KindPostgres},
		{"postgresql://db", KindPostgres},
		{"ftp://files.example.com", KindFTP},
		{"ftps://files.example.com", KindFTP},
		{"sftp://files.example.com", KindFTP},
		{"  SFTP://x ", KindFTP},
	}
	for _, tt := range tests {
		if got := KindOf(tt.host); got != tt.want {
			t.Errorf("KindOf(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}
