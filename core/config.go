package core

import (
	"os"
	"strconv"
	"time"
)

// Config holds engine-wide defaults. Three-layer priority, lowest first:
//  1. Built-in defaults
//  2. SUPERGLUE_* environment variables
//  3. Functional options
type Config struct {
	HTTP       HTTPConfig
	Postgres   PostgresConfig
	Sandbox    SandboxConfig
	Pagination PaginationLimits
	Healing    HealingConfig
}

// HTTPConfig covers the HTTP transport.
type HTTPConfig struct {
	Timeout            time.Duration
	Retries            int
	RetryDelay         time.Duration
	MaxRateLimitWait   time.Duration
	InsecureSkipVerify bool
}

// PostgresConfig covers pooled query execution.
type PostgresConfig struct {
	StatementTimeout time.Duration
	ConnectTimeout   time.Duration
	MaxConns         int
}

// SandboxConfig caps untrusted expression evaluation.
type SandboxConfig struct {
	Timeout      time.Duration
	MaxCallStack int
}

// PaginationLimits bounds the pagination controller.
type PaginationLimits struct {
	// MaxRequests applies when a stop condition is configured.
	MaxRequests int
	// MaxRequestsWithoutStop applies to the built-in termination path.
	MaxRequestsWithoutStop int
}

// HealingConfig bounds LLM-assisted configuration repair.
type HealingConfig struct {
	MaxAttempts int
	// DocumentationBudget caps the characters of documentation included
	// in a healing prompt.
	DocumentationBudget int
}

// DefaultConfig returns the built-in defaults with environment overrides
// applied.
func DefaultConfig() *Config {
	cfg := &Config{
		HTTP: HTTPConfig{
			Timeout:          60 * time.Second,
			Retries:          1,
			RetryDelay:       time.Second,
			MaxRateLimitWait: 60 * time.Second,
		},
		Postgres: PostgresConfig{
			StatementTimeout: 30 * time.Second,
			ConnectTimeout:   5 * time.Second,
			MaxConns:         10,
		},
		Sandbox: SandboxConfig{
			Timeout:      3 * time.Second,
			MaxCallStack: 2048,
		},
		Pagination: PaginationLimits{
			MaxRequests:            1000,
			MaxRequestsWithoutStop: 500,
		},
		Healing: HealingConfig{
			MaxAttempts:         5,
			DocumentationBudget: 40000,
		},
	}
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	if d, ok := envDuration("SUPERGLUE_HTTP_TIMEOUT"); ok {
		c.HTTP.Timeout = d
	}
	if n, ok := envInt("SUPERGLUE_HTTP_RETRIES"); ok {
		c.HTTP.Retries = n
	}
	if d, ok := envDuration("SUPERGLUE_HTTP_RETRY_DELAY"); ok {
		c.HTTP.RetryDelay = d
	}
	if d, ok := envDuration("SUPERGLUE_MAX_RATE_LIMIT_WAIT"); ok {
		c.HTTP.MaxRateLimitWait = d
	}
	if os.Getenv("SUPERGLUE_TLS_INSECURE") == "true" {
		c.HTTP.InsecureSkipVerify = true
	}
	if d, ok := envDuration("SUPERGLUE_PG_STATEMENT_TIMEOUT"); ok {
		c.Postgres.StatementTimeout = d
	}
	if d, ok := envDuration("SUPERGLUE_SANDBOX_TIMEOUT"); ok {
		c.Sandbox.Timeout = d
	}
	if n, ok := envInt("SUPERGLUE_MAX_PAGINATION_REQUESTS"); ok {
		c.Pagination.MaxRequests = n
	}
	if n, ok := envInt("SUPERGLUE_HEALING_MAX_ATTEMPTS"); ok {
		c.Healing.MaxAttempts = n
	}
}

// ConfigOption mutates a Config during construction.
type ConfigOption func(*Config)

// NewConfig builds a Config from defaults, environment and options.
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithHTTPTimeout overrides the per-call HTTP timeout.
func WithHTTPTimeout(d time.Duration) ConfigOption {
	return func(c *Config) { c.HTTP.Timeout = d }
}

// WithRetries overrides the non-429 retry count.
func WithRetries(n int) ConfigOption {
	return func(c *Config) { c.HTTP.Retries = n }
}

// WithMaxRateLimitWait overrides the cumulative 429 wait budget.
func WithMaxRateLimitWait(d time.Duration) ConfigOption {
	return func(c *Config) { c.HTTP.MaxRateLimitWait = d }
}

// WithInsecureTLS disables certificate verification on outgoing HTTPS.
// Off by default; enable only for scraping backends with broken chains.
func WithInsecureTLS() ConfigOption {
	return func(c *Config) { c.HTTP.InsecureSkipVerify = true }
}

// WithHealingAttempts overrides the healing episode attempt cap.
func WithHealingAttempts(n int) ConfigOption {
	return func(c *Config) { c.Healing.MaxAttempts = n }
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
