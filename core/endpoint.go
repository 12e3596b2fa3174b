package core

import (
	"strconv"
	"strings"
	"time"
)

// AuthType describes how credentials are attached to a request.
type AuthType string

const (
	AuthNone       AuthType = "NONE"
	AuthHeader     AuthType = "HEADER"
	AuthQueryParam AuthType = "QUERY_PARAM"
	AuthOAuth2     AuthType = "OAUTH2"
)

// PaginationType selects the iteration strategy for a paginated endpoint.
type PaginationType string

const (
	PageBased   PaginationType = "PAGE_BASED"
	OffsetBased PaginationType = "OFFSET_BASED"
	CursorBased PaginationType = "CURSOR_BASED"
)

// DefaultPageSize is used when a pagination config does not set one.
const DefaultPageSize = "50"

// PaginationConfig configures iterative fetching for one endpoint.
// The chosen type must be substituted somewhere in the request surface
// (<<page>>, <<offset>> or <<cursor>>); the pagination controller treats
// a missing substitution as a hard configuration error.
type PaginationConfig struct {
	Type          PaginationType `json:"type" yaml:"type"`
	PageSize      string         `json:"pageSize,omitempty" yaml:"pageSize,omitempty"`
	CursorPath    string         `json:"cursorPath,omitempty" yaml:"cursorPath,omitempty"`
	StopCondition string         `json:"stopCondition,omitempty" yaml:"stopCondition,omitempty"`
}

// PageSizeValue parses PageSize, falling back to the default of 50.
func (p *PaginationConfig) PageSizeValue() int {
	size := p.PageSize
	if size == "" {
		size = DefaultPageSize
	}
	n, err := strconv.Atoi(strings.TrimSpace(size))
	if err != nil || n <= 0 {
		return 50
	}
	return n
}

// VariableName returns the scope variable this strategy substitutes.
func (p *PaginationConfig) VariableName() string {
	switch p.Type {
	case PageBased:
		return "page"
	case OffsetBased:
		return "offset"
	case CursorBased:
		return "cursor"
	}
	return ""
}

// Endpoint is one step's request configuration. It is treated as an
// immutable per-attempt snapshot: the healing agent replaces the whole
// endpoint rather than mutating it in place.
type Endpoint struct {
	Method           string            `json:"method,omitempty" yaml:"method,omitempty"`
	URLHost          string            `json:"urlHost" yaml:"urlHost"`
	URLPath          string            `json:"urlPath,omitempty" yaml:"urlPath,omitempty"`
	Headers          map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	QueryParams      map[string]string `json:"queryParams,omitempty" yaml:"queryParams,omitempty"`
	Body             string            `json:"body,omitempty" yaml:"body,omitempty"`
	Authentication   AuthType          `json:"authentication,omitempty" yaml:"authentication,omitempty"`
	Pagination       *PaginationConfig `json:"pagination,omitempty" yaml:"pagination,omitempty"`
	DataPath         string            `json:"dataPath,omitempty" yaml:"dataPath,omitempty"`
	Instruction      string            `json:"instruction,omitempty" yaml:"instruction,omitempty"`
	DocumentationURL string            `json:"documentationUrl,omitempty" yaml:"documentationUrl,omitempty"`
}

// Clone returns a deep copy so one attempt cannot observe another's edits.
func (e *Endpoint) Clone() *Endpoint {
	if e == nil {
		return nil
	}
	out := *e
	if e.Headers != nil {
		out.Headers = make(map[string]string, len(e.Headers))
		for k, v := range e.Headers {
			out.Headers[k] = v
		}
	}
	if e.QueryParams != nil {
		out.QueryParams = make(map[string]string, len(e.QueryParams))
		for k, v := range e.QueryParams {
			out.QueryParams[k] = v
		}
	}
	if e.Pagination != nil {
		p := *e.Pagination
		out.Pagination = &p
	}
	return &out
}

// RequestSurface concatenates every templated part of the endpoint.
// The pagination controller checks it textually for the pagination
// variable before issuing any request.
func (e *Endpoint) RequestSurface() string {
	var sb strings.Builder
	sb.WriteString(e.URLHost)
	sb.WriteString(e.URLPath)
	for k, v := range e.Headers {
		sb.WriteString(k)
		sb.WriteString(v)
	}
	for k, v := range e.QueryParams {
		sb.WriteString(k)
		sb.WriteString(v)
	}
	sb.WriteString(e.Body)
	return sb.String()
}

// RequestOptions carries caller-supplied knobs for one step execution.
type RequestOptions struct {
	Timeout            time.Duration
	Retries            int
	RetryDelay         time.Duration
	MaxRateLimitWait   time.Duration
	InsecureSkipVerify bool
	CacheMode          string
	WebhookURL         string
}

// Normalized fills zero values from the config.
func (o RequestOptions) Normalized(cfg *Config) RequestOptions {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if o.Timeout <= 0 {
		o.Timeout = cfg.HTTP.Timeout
	}
	if o.Retries <= 0 {
		o.Retries = cfg.HTTP.Retries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = cfg.HTTP.RetryDelay
	}
	if o.MaxRateLimitWait <= 0 {
		o.MaxRateLimitWait = cfg.HTTP.MaxRateLimitWait
	}
	if !o.InsecureSkipVerify {
		o.InsecureSkipVerify = cfg.HTTP.InsecureSkipVerify
	}
	return o
}

// Response is the normalized envelope every transport returns. Data is
// already decoded: binary payloads are parsed by content-type inference
// and JSON-looking strings are parsed, so downstream consumers never see
// raw byte buffers.
type Response struct {
	Data       interface{}       `json:"data"`
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers,omitempty"`
}
