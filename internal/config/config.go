// Package config defines process configuration and its loading hooks.
//
// Conventions:
// - New() returns a Config filled with defaults.
// - Load(ctx) layers defaults, an optional YAML file and environment variables.
// - Validate reports the first invalid field wrapped in ErrInvalidConfig.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects text or json log output.
	LogFormat string `koanf:"log_format"`

	// BaseURL is the grading platform root, e.g. "https://canvas.example.edu".
	BaseURL string `koanf:"base_url"`

	// AccessToken authenticates every platform request.
	AccessToken string `koanf:"access_token"`

	// PerPage is the page size requested from listing endpoints.
	PerPage int `koanf:"per_page"`

	// MaxRetries, BaseDelayMS and Growth configure the request backoff.
	MaxRetries  int     `koanf:"max_retries"`
	BaseDelayMS int     `koanf:"base_delay_ms"`
	Growth      float64 `koanf:"growth"`

	// QuotaFloor is the budget that must stay available to start an upload.
	QuotaFloor float64 `koanf:"quota_floor"`

	// MaxInFlight bounds concurrent uploads.
	MaxInFlight int `koanf:"max_in_flight"`

	// UploadAttempts caps retries of throttled uploads.
	UploadAttempts int `koanf:"upload_attempts"`

	// PollIntervalMS is used both for admission re-checks and job polling.
	PollIntervalMS int `koanf:"poll_interval_ms"`

	// MetricsAddr enables the ops HTTP server when not empty, e.g. ":9090".
	MetricsAddr string `koanf:"metrics_addr"`

	// RequestTimeoutMS bounds a single platform request.
	RequestTimeoutMS int `koanf:"request_timeout_ms"`

	// MetricsEnabled turns collection off entirely when false.
	MetricsEnabled bool `koanf:"metrics_enabled"`

	// MetricsNamespace prefixes every metric name.
	MetricsNamespace string `koanf:"metrics_namespace"`

	// MetricsRefreshMS is how often memory and goroutine gauges are sampled.
	MetricsRefreshMS int `koanf:"metrics_refresh_ms"`

	// MetricsLabels are constant labels attached to every metric.
	MetricsLabels map[string]string `koanf:"metrics_labels"`

	// MetricsBuckets overrides the latency histogram buckets (milliseconds).
	MetricsBuckets []float64 `koanf:"metrics_buckets"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		PerPage:          100,
		MaxRetries:       3,
		BaseDelayMS:      1000,
		Growth:           2,
		QuotaFloor:       150,
		MaxInFlight:      10,
		UploadAttempts:   3,
		PollIntervalMS:   5000,
		RequestTimeoutMS: 30000,
		MetricsEnabled:   true,
		MetricsNamespace: "rubricsync",
		MetricsRefreshMS: 10000,
	}
}

// BaseDelay returns the first backoff delay.
func (c *Config) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

// PollInterval returns the admission and job polling interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// RequestTimeout returns the per-request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// MetricsRefresh returns the system gauge sampling interval.
func (c *Config) MetricsRefresh() time.Duration {
	return time.Duration(c.MetricsRefreshMS) * time.Millisecond
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.PerPage < 1 || c.PerPage > 100:
		return fmt.Errorf("%w: per_page must be between 1 and 100, got %d", ErrInvalidConfig, c.PerPage)
	case c.MaxRetries < 0:
		return fmt.Errorf("%w: max_retries must not be negative", ErrInvalidConfig)
	case c.BaseDelayMS < 0:
		return fmt.Errorf("%w: base_delay_ms must not be negative", ErrInvalidConfig)
	case c.Growth < 1:
		return fmt.Errorf("%w: growth must be at least 1", ErrInvalidConfig)
	case c.QuotaFloor < 0:
		return fmt.Errorf("%w: quota_floor must not be negative", ErrInvalidConfig)
	case c.MaxInFlight < 1:
		return fmt.Errorf("%w: max_in_flight must be positive", ErrInvalidConfig)
	case c.UploadAttempts < 0:
		return fmt.Errorf("%w: upload_attempts must not be negative", ErrInvalidConfig)
	case c.PollIntervalMS <= 0:
		return fmt.Errorf("%w: poll_interval_ms must be positive", ErrInvalidConfig)
	case c.RequestTimeoutMS <= 0:
		return fmt.Errorf("%w: request_timeout_ms must be positive", ErrInvalidConfig)
	case c.MetricsRefreshMS <= 0:
		return fmt.Errorf("%w: metrics_refresh_ms must be positive", ErrInvalidConfig)
	case !validMetricName(c.MetricsNamespace):
		return fmt.Errorf("%w: metrics_namespace must match [a-zA-Z_][a-zA-Z0-9_]*, got %q", ErrInvalidConfig, c.MetricsNamespace)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log_format must be text or json, got %q", ErrInvalidConfig, c.LogFormat)
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: base_url must be an absolute http(s) URL, got %q", ErrInvalidConfig, c.BaseURL)
		}
	}
	return nil
}

func validMetricName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// RequireCredential reports whether the platform credential is set.
func (c *Config) RequireCredential() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("%w: base_url is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.AccessToken) == "" {
		return fmt.Errorf("%w: access_token is required", ErrInvalidConfig)
	}
	return nil
}
