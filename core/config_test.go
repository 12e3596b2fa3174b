package core

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.HTTP.Timeout != 60*time.Second {
		t.Errorf("HTTP timeout = %v, want 60s", cfg.HTTP.Timeout)
	}
	if cfg.HTTP.Retries != 1 {
		t.Errorf("HTTP retries = %d, want 1", cfg.HTTP.Retries)
	}
	if cfg.HTTP.InsecureSkipVerify {
		t.Errorf("TLS verification disabled by default")
	}
	if cfg.Pagination.MaxRequestsWithoutStop != 500 {
		t.Errorf("MaxRequestsWithoutStop = %d, want 500", cfg.Pagination.MaxRequestsWithoutStop)
	}
	if cfg.Pagination.MaxRequests != 1000 {
		t.Errorf("MaxRequests = %d, want 1000", cfg.Pagination.MaxRequests)
	}
	if cfg.Sandbox.Timeout != 3*time.Second {
		t.Errorf("sandbox timeout = %v, want 3s", cfg.Sandbox.Timeout)
	}
	if cfg.Healing.MaxAttempts != 5 {
		t.Errorf("healing attempts = %d, want 5", cfg.Healing.MaxAttempts)
	}
}

func TestConfigEnvOverrides(t *testing.T) {
	t.Setenv("SUPERGLUE_HTTP_TIMEOUT", "10s")
	t.Setenv("SUPERGLUE_HTTP_RETRIES", "3")
	t.Setenv("SUPERGLUE_TLS_INSECURE", "true")
	t.Setenv("SUPERGLUE_MAX_PAGINATION_REQUESTS", "42")

	cfg := DefaultConfig()
	if cfg.HTTP.Timeout != 10*time.Second {
		t.Errorf("env HTTP timeout = %v, want 10s", cfg.HTTP.Timeout)
	}
	if cfg.HTTP.Retries != 3 {
		t.Errorf("env retries = %d, want 3", cfg.HTTP.Retries)
	}
	if !cfg.HTTP.InsecureSkipVerify {
		t.Errorf("env TLS insecure not applied")
	}
	if cfg.Pagination.MaxRequests != 42 {
		t.Errorf("env pagination cap = %d, want 42", cfg.Pagination.MaxRequests)
	}
}

func TestConfigOptionsWinOverEnv(t *testing.T) {
	t.Setenv("SUPERGLUE_HTTP_RETRIES", "3")

	cfg := NewConfig(WithRetries(7), WithHTTPTimeout(5*time.Second), WithInsecureTLS())
	if cfg.HTTP.Retries != 7 {
		t.Errorf("option retries = %d, want 7", cfg.HTTP.Retries)
	}
	if cfg.HTTP.Timeout != 5*time.Second {
		t.Errorf("option timeout = %v, want 5s", cfg.HTTP.Timeout)
	}
	if !cfg.HTTP.InsecureSkipVerify {
		t.Errorf("WithInsecureTLS not applied")
	}
}

func TestConfigInvalidEnvIgnored(t *testing.T) {
	t.Setenv("SUPERGLUE_HTTP_TIMEOUT", "not-a-duration")
	t.Setenv("SUPERGLUE_HTTP_RETRIES", "many")

	cfg := DefaultConfig()
	if cfg.HTTP.Timeout != 60*time.Second {
		t.Errorf("invalid duration changed timeout: %v", cfg.HTTP.Timeout)
	}
	if cfg.HTTP.Retries != 1 {
		t.Errorf("invalid int changed retries: %d", cfg.HTTP.Retries)
	}
}

func TestRequestOptionsNormalized(t *testing.T) {
	cfg := DefaultConfig()
	opts := RequestOptions{}.Normalized(cfg)
	if opts.Timeout != cfg.HTTP.Timeout || opts.Retries != cfg.HTTP.Retries {
		t.Errorf("zero options not filled from config: %+v", opts)
	}

	custom := RequestOptions{Timeout: 2 * time.Second, Retries: 4}.Normalized(cfg)
	if custom.Timeout != 2*time.Second || custom.Retries != 4 {
		t.Errorf("explicit options overwritten: %+v", custom)
	}
	if custom.RetryDelay != cfg.HTTP.RetryDelay {
		t.Errorf("unset delay not defaulted: %v", custom.RetryDelay)
	}
}
