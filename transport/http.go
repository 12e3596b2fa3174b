package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/superglue-ai/superglue-go/core"
)

// defaultUserAgent mimics a desktop browser; many of the APIs this
// engine talks to reject unknown agents.
const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// quickFailureThreshold gates non-429 status retries: a slow failure is
// assumed to be deterministic and is not retried.
const quickFailureThreshold = 5 * time.Second

// maxSingleRateLimitWait caps one Retry-After / backoff sleep.
const maxSingleRateLimitWait = time.Hour

// HTTPTransport performs HTTP calls with the engine retry policy:
//   - non-429 HTTP failures retry up to Options.Retries times, only when
//     the failed attempt was quick, delayed by Options.RetryDelay
//   - 429 responses keep an independent counter and a cumulative wait
//     budget (Options.MaxRateLimitWait); exceeding it surfaces the 429
//   - network errors retry with linear backoff RetryDelay*k
type HTTPTransport struct {
	Logger    core.Logger
	Telemetry core.Telemetry

	secure   *http.Client
	insecure *http.Client
}

// NewHTTPTransport builds the transport with traced clients for both
// TLS modes. Certificate verification is on unless the request options
// disable it.
func NewHTTPTransport(logger core.Logger, telemetry core.Telemetry) *HTTPTransport {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	return &HTTPTransport{
		Logger:    logger,
		Telemetry: telemetry,
		secure: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		insecure: &http.Client{
			Transport: otelhttp.NewTransport(&http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			}),
		},
	}
}

// Call executes one logical HTTP request, including all retries. A
// response is returned for every completed exchange, success or not;
// the status interpreter decides what a failure status means. The
// returned error is non-nil only for exhausted network retries or
// cancellation.
func (t *HTTPTransport) Call(ctx context.Context, req *Request) (*core.Response, error) {
	ctx, span := t.Telemetry.StartSpan(ctx, "transport.http")
	defer span.End()

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	fullURL := req.URL()
	span.SetAttribute("http.method", method)
	span.SetAttribute("http.url", fullURL)

	bodyBytes, contentType := shapeBody(method, req.Body)
	client := t.secure
	if req.Options.InsecureSkipVerify {
		client = t.insecure
	}

	var (
		failedAttempts int
		rateLimitHits  int
		rateWaited     time.Duration
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if req.Options.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, req.Options.Timeout)
		}

		start := time.Now()
		resp, err := t.doOnce(callCtx, client, method, fullURL, req.Headers, bodyBytes, contentType)
		if cancel != nil {
			cancel()
		}

		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failedAttempts++
			if failedAttempts > req.Options.Retries {
				span.RecordError(err)
				return nil, &core.EngineError{
					Kind:             core.KindTransport,
					Message:          fmt.Sprintf("%s %s: %v", method, fullURL, err),
					RetriesAttempted: failedAttempts - 1,
					Err:              err,
				}
			}
			t.Logger.Warn("HTTP request failed, retrying", map[string]interface{}{
				"operation": "http_retry",
				"attempt":   failedAttempts,
				"error":     err.Error(),
			})
			if err := sleep(ctx, req.Options.RetryDelay*time.Duration(failedAttempts)); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := retryAfterWait(resp.Headers["Retry-After"], rateLimitHits)
			if wait > maxSingleRateLimitWait {
				wait = maxSingleRateLimitWait
			}
			if rateWaited+wait > req.Options.MaxRateLimitWait {
				t.Logger.Warn("Rate limit wait budget exhausted", map[string]interface{}{
					"operation":    "http_rate_limit_exhausted",
					"waited_ms":    rateWaited.Milliseconds(),
					"next_wait_ms": wait.Milliseconds(),
				})
				return resp, nil
			}
			t.Logger.Info("Rate limited, waiting", map[string]interface{}{
				"operation": "http_rate_limit_wait",
				"wait_ms":   wait.Milliseconds(),
				"hits":      rateLimitHits + 1,
			})
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
			rateWaited += wait
			rateLimitHits++
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			failedAttempts++
			quick := time.Since(start) < quickFailureThreshold
			if failedAttempts <= req.Options.Retries && quick {
				t.Logger.Warn("HTTP status failure, retrying", map[string]interface{}{
					"operation":   "http_status_retry",
					"status_code": resp.StatusCode,
					"attempt":     failedAttempts,
				})
				if err := sleep(ctx, req.Options.RetryDelay); err != nil {
					return nil, err
				}
				continue
			}
			span.SetAttribute("http.status_code", resp.StatusCode)
			return resp, nil
		}

		span.SetAttribute("http.status_code", resp.StatusCode)
		return resp, nil
	}
}

// doOnce performs a single exchange and decodes the body.
func (t *HTTPTransport) doOnce(ctx context.Context, client *http.Client, method, fullURL string, headers map[string]string, body []byte, contentType string) (*core.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Accept", "*/*")
	httpReq.Header.Set("User-Agent", defaultUserAgent)
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	respHeaders := make(map[string]string, len(httpResp.Header))
	for k := range httpResp.Header {
		respHeaders[k] = httpResp.Header.Get(k)
	}

	return &core.Response{
		Data:       Decode(raw, httpResp.Header.Get("Content-Type")),
		StatusCode: httpResp.StatusCode,
		Headers:    respHeaders,
	}, nil
}

// shapeBody prepares the outgoing body. Bodies are omitted for verbs
// that conventionally carry none. A stringified JSON body is pre-parsed
// into structured form; parse failures are ignored and the string is
// sent as-is.
func shapeBody(method string, body interface{}) ([]byte, string) {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodDelete, http.MethodOptions:
		return nil, ""
	}
	switch t := body.(type) {
	case nil:
		return nil, ""
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, ""
		}
		if v, ok := core.ParseJSON([]byte(t)); ok {
			return []byte(core.Serialize(v)), "application/json"
		}
		return []byte(t), "text/plain"
	case []byte:
		return t, "application/octet-stream"
	default:
		return []byte(core.Serialize(t)), "application/json"
	}
}

// retryAfterWait computes the 429 wait: Retry-After as integer seconds,
// then as an HTTP-date, then exponential backoff 10^k seconds plus
// jitter.
func retryAfterWait(retryAfter string, hits int) time.Duration {
	if retryAfter != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
		if at, err := http.ParseTime(strings.TrimSpace(retryAfter)); err == nil {
			if d := time.Until(at); d > 0 {
				return d
			}
			return 0
		}
	}
	backoff := time.Duration(math.Pow(10, float64(hits))) * time.Second
	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	return backoff + jitter
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
