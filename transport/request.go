// Package transport issues one logical call per resolved request:
// HTTP, pooled Postgres, or an FTP-family file operation. Transports
// return the shared response envelope; status interpretation and
// pagination live above this layer.
package transport

import (
	"context"
	"net/url"
	"strings"

	"github.com/superglue-ai/superglue-go/core"
)

// Kind names a transport family.
type Kind string

const (
	KindHTTP     Kind = "http"
	KindPostgres Kind = "postgres"
	KindFTP      Kind = "ftp"
)

// KindOf selects the transport from the urlHost scheme prefix. Anything
// that is not Postgres or FTP-family is HTTP.
func KindOf(urlHost string) Kind {
	host := strings.ToLower(strings.TrimSpace(urlHost))
	switch {
	case strings.HasPrefix(host, "postgres://"), strings.HasPrefix(host, "postgresql://"):
		return KindPostgres
	case strings.HasPrefix(host, "ftp://"), strings.HasPrefix(host, "ftps://"), strings.HasPrefix(host, "sftp://"):
		return KindFTP
	default:
		return KindHTTP
	}
}

// Request is a fully resolved endpoint: every template placeholder has
// been substituted before it reaches a transport.
type Request struct {
	Method      string
	URLHost     string
	URLPath     string
	Headers     map[string]string
	QueryParams map[string]string
	Body        interface{}
	Options     core.RequestOptions
}

// URL renders the complete request URL including query parameters.
// Used both for the outgoing HTTP call and for diagnostics.
func (r *Request) URL() string {
	host := strings.TrimSpace(r.URLHost)
	if host != "" && !strings.Contains(host, "://") {
		host = "https://" + host
	}
	base := strings.TrimRight(host, "/")
	if p := strings.TrimLeft(r.URLPath, "/"); p != "" {
		base = base + "/" + p
	}
	if len(r.QueryParams) == 0 {
		return base
	}
	values := url.Values{}
	for k, v := range r.QueryParams {
		values.Set(k, v)
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + values.Encode()
}

// Dispatcher routes a request to its transport.
type Dispatcher struct {
	HTTP     *HTTPTransport
	Postgres *PostgresTransport
	FTP      *FTPTransport
	Logger   core.Logger
}

// NewDispatcher wires the three transports over a shared config. The
// pool registry is injected so callers own its lifecycle.
func NewDispatcher(cfg *core.Config, pools *PoolRegistry, logger core.Logger, telemetry core.Telemetry) *Dispatcher {
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	if pools == nil {
		pools = NewPoolRegistry(cfg, logger)
	}
	return &Dispatcher{
		HTTP:     NewHTTPTransport(logger, telemetry),
		Postgres: &PostgresTransport{Pools: pools, Logger: logger},
		FTP:      &FTPTransport{Logger: logger},
		Logger:   logger,
	}
}

// Do executes the request on the transport its urlHost selects.
// Non-HTTP transports return a synthetic 200 on success.
func (d *Dispatcher) Do(ctx context.Context, req *Request) (*core.Response, error) {
	switch KindOf(req.URLHost) {
	case KindPostgres:
		return d.Postgres.Call(ctx, req)
	case KindFTP:
		return d.FTP.Call(ctx, req)
	default:
		return d.HTTP.Call(ctx, req)
	}
}
