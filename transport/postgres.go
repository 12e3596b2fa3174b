package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/superglue-ai/superglue-go/core"
)

// PoolRegistry is the process-wide cache of Postgres pools, keyed by
// final connection string. Entries are created on first use, evicted
// when a query fails at the connection level, and drained on Shutdown.
// A failed pool is never reused: eviction happens under the same mutex
// that guards insertion.
type PoolRegistry struct {
	mu     sync.Mutex
	pools  map[string]*pgxpool.Pool
	cfg    core.PostgresConfig
	logger core.Logger
}

// NewPoolRegistry builds an empty registry. The engine accepts it as an
// injected dependency; nothing else holds pool state.
func NewPoolRegistry(cfg *core.Config, logger core.Logger) *PoolRegistry {
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &PoolRegistry{
		pools:  make(map[string]*pgxpool.Pool),
		cfg:    cfg.Postgres,
		logger: logger,
	}
}

// Acquire returns the pool for connString, creating it on first use.
func (r *PoolRegistry) Acquire(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pool, ok := r.pools[connString]; ok {
		return pool, nil
	}

	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w", err)
	}
	poolCfg.MaxConns = int32(r.cfg.MaxConns)
	poolCfg.ConnConfig.ConnectTimeout = r.cfg.ConnectTimeout
	if poolCfg.ConnConfig.RuntimeParams == nil {
		poolCfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(r.cfg.StatementTimeout.Milliseconds(), 10)

	if isLoopbackHost(poolCfg.ConnConfig.Host) {
		poolCfg.ConnConfig.TLSConfig = nil
	} else if poolCfg.ConnConfig.TLSConfig == nil {
		poolCfg.ConnConfig.TLSConfig = &tls.Config{
			InsecureSkipVerify: true,
			ServerName:         poolCfg.ConnConfig.Host,
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	r.pools[connString] = pool
	r.logger.Debug("Postgres pool created", map[string]interface{}{
		"operation": "pg_pool_create",
		"host":      poolCfg.ConnConfig.Host,
	})
	return pool, nil
}

// Evict removes and closes the pool for connString, if present. The
// next Acquire recreates it.
func (r *PoolRegistry) Evict(connString string) {
	r.mu.Lock()
	pool, ok := r.pools[connString]
	if ok {
		delete(r.pools, connString)
	}
	r.mu.Unlock()
	if ok {
		pool.Close()
		r.logger.Warn("Postgres pool evicted", map[string]interface{}{
			"operation": "pg_pool_evict",
		})
	}
}

// Shutdown drains and disposes every pool.
func (r *PoolRegistry) Shutdown() {
	r.mu.Lock()
	pools := r.pools
	r.pools = make(map[string]*pgxpool.Pool)
	r.mu.Unlock()
	for _, pool := range pools {
		pool.Close()
	}
}

// isLoopbackHost reports whether host is localhost; only loopback
// connections skip TLS.
func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return false
	}
	for _, ip := range ips {
		if !ip.IsLoopback() {
			return false
		}
	}
	return len(ips) > 0
}

// PostgresTransport runs parameterized queries through the registry.
type PostgresTransport struct {
	Pools  *PoolRegistry
	Logger core.Logger
}

// ConnectionString derives the final connection string from a resolved
// request: host and path joined, trailing slashes stripped.
func ConnectionString(req *Request) string {
	return strings.TrimRight(strings.TrimSpace(req.URLHost)+req.URLPath, "/")
}

// Call executes the query in the request body. The body is either a
// bare SQL string or {"query": ..., "params": [...]} with positional
// $1..$n parameters. Errors carry the SQL but never the connection
// string. Connection-level failures evict the pool and retry with
// linear backoff.
func (t *PostgresTransport) Call(ctx context.Context, req *Request) (*core.Response, error) {
	connString := ConnectionString(req)
	query, params, err := parseQueryBody(req.Body)
	if err != nil {
		return nil, &core.EngineError{Kind: core.KindTransport, Message: err.Error(), Err: err}
	}

	var lastErr error
	for attempt := 0; attempt <= req.Options.Retries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, req.Options.RetryDelay*time.Duration(attempt)); err != nil {
				return nil, err
			}
		}

		pool, err := t.Pools.Acquire(ctx, connString)
		if err != nil {
			lastErr = err
			continue
		}

		rows, err := t.query(ctx, pool, query, params, req.Options.Timeout)
		if err == nil {
			return &core.Response{Data: rows, StatusCode: 200}, nil
		}
		lastErr = err

		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) {
			// Not a server-reported error: the connection itself is
			// suspect, so the pool cannot be trusted.
			t.Pools.Evict(connString)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, &core.EngineError{
		Kind:             core.KindTransport,
		Message:          fmt.Sprintf("postgres query failed: %v (query: %s)", lastErr, query),
		RetriesAttempted: req.Options.Retries,
		Err:              lastErr,
	}
}

func (t *PostgresTransport) query(ctx context.Context, pool *pgxpool.Pool, query string, params []interface{}, timeout time.Duration) ([]map[string]interface{}, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	rows, err := pool.Query(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := make([]map[string]interface{}, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(fields))
		for i, field := range fields {
			if i < len(values) {
				row[string(field.Name)] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// parseQueryBody accepts a SQL string, a JSON-encoded object, or a
// decoded map with query/params keys.
func parseQueryBody(body interface{}) (string, []interface{}, error) {
	switch t := body.(type) {
	case nil:
		return "", nil, fmt.Errorf("postgres request requires a query body")
	case string:
		if v, ok := core.ParseJSON([]byte(t)); ok {
			if m, isMap := v.(map[string]interface{}); isMap {
				return queryFromMap(m)
			}
		}
		if strings.TrimSpace(t) == "" {
			return "", nil, fmt.Errorf("postgres request requires a query body")
		}
		return t, nil, nil
	case map[string]interface{}:
		return queryFromMap(t)
	default:
		return "", nil, fmt.Errorf("unsupported postgres body type %T", body)
	}
}

func queryFromMap(m map[string]interface{}) (string, []interface{}, error) {
	query, _ := m["query"].(string)
	if query == "" {
		return "", nil, fmt.Errorf("postgres body is missing the query field")
	}
	params, _ := m["params"].([]interface{})
	return query, params, nil
}
