// Package config holds gridfetch's tunables: built-in defaults, overridden
// by an optional YAML file, overridden by GRIDFETCH_* environment
// variables, overridden last by CLI flags — the same precedence chain the
// teacher's cmd/root.go applies.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// VerifyMode controls whether a missing expected digest blocks completion.
type VerifyMode string

const (
	VerifyAuto     VerifyMode = "auto"
	VerifyRequired VerifyMode = "required"
	VerifyDisabled VerifyMode = "disabled"
)

// Config is the full set of runtime settings.
type Config struct {
	Concurrency int        `yaml:"concurrency"`
	Segments    int        `yaml:"segments"`
	RateLimit   int64      `yaml:"rate_limit"` // bytes/sec, 0 = unlimited
	MaxRetries  int        `yaml:"max_retries"`
	Verify      VerifyMode `yaml:"verify"`
	ProxyURL    string     `yaml:"proxy_url"`
	LogLevel    string     `yaml:"log_level"`
	LogFile     string     `yaml:"log_file"`
	Quiet       bool       `yaml:"quiet"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Concurrency: 4,
		Segments:    8,
		RateLimit:   0,
		MaxRetries:  5,
		Verify:      VerifyAuto,
		LogLevel:    "info",
	}
}

// LoadFile merges a YAML config file over the receiver's current values.
// A missing file is not an error; the defaults stand.
func (c *Config) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// LoadEnv overlays GRIDFETCH_* environment variables.
func (c *Config) LoadEnv() {
	if v := os.Getenv("GRIDFETCH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Concurrency = n
		}
	}
	if v := os.Getenv("GRIDFETCH_SEGMENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Segments = n
		}
	}
	if v := os.Getenv("GRIDFETCH_RATE_LIMIT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			c.RateLimit = n
		}
	}
	if v := os.Getenv("GRIDFETCH_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.MaxRetries = n
		}
	}
	if v := os.Getenv("GRIDFETCH_VERIFY"); v != "" {
		c.Verify = VerifyMode(v)
	}
	if v := os.Getenv("GRIDFETCH_PROXY_URL"); v != "" {
		c.ProxyURL = v
	}
	if v := os.Getenv("GRIDFETCH_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("GRIDFETCH_LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("GRIDFETCH_QUIET"); v != "" {
		c.Quiet = v == "1" || v == "true"
	}
}

// Validate checks the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.Segments < 1 {
		return fmt.Errorf("segments must be >= 1, got %d", c.Segments)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must be >= 0, got %d", c.RateLimit)
	}
	switch c.Verify {
	case VerifyAuto, VerifyRequired, VerifyDisabled:
	default:
		return fmt.Errorf("verify must be one of auto|required|disabled, got %q", c.Verify)
	}
	return nil
}

// ParseRate parses a human rate string like "5M" or "512K" into bytes/sec,
// in the teacher's ParseRateLimit idiom.
func ParseRate(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid rate: %s", s)
	}
	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]
	n, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid rate: %s", s)
	}
	var mult float64
	switch suffix {
	case 'b', 'B':
		mult = 1
	case 'k', 'K':
		mult = 1024
	case 'm', 'M':
		mult = 1024 * 1024
	case 'g', 'G':
		mult = 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("unsupported rate suffix: %c", suffix)
	}
	return int64(n * mult), nil
}
