// Package config loads bankflow settings from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"bankflow/pkg/logging"
	"bankflow/pkg/resilience"

	"gopkg.in/yaml.v3"
)

// DefaultAPIBaseURL is used when neither the file nor the environment
// names an API.
const DefaultAPIBaseURL = "http://localhost:5000/api"

// Fallback policies for failed upstream reads and writes.
const (
	FallbackSample = "sample"
	FallbackFail   = "fail"
)

// Config holds all bankflow configuration.
type Config struct {
	API     APIConfig      `yaml:"api"`
	Breaker BreakerConfig  `yaml:"breaker"`
	Store   StoreConfig    `yaml:"store"`
	Server  ServerConfig   `yaml:"server"`
	Logging logging.Config `yaml:"logging"`
}

// APIConfig configures the upstream banking API.
type APIConfig struct {
	BaseURL string `yaml:"base_url"`
	// Token is a static bearer token for CLI use. The portal forwards the
	// caller's token instead.
	Token   string `yaml:"token"`
	Timeout string `yaml:"timeout"`
	// Fallback is "sample" or "fail".
	Fallback string `yaml:"fallback"`
}

// BreakerConfig configures the circuit breaker around the API.
type BreakerConfig struct {
	MaxRequests         uint32 `yaml:"max_requests"`
	Interval            string `yaml:"interval"`
	OpenTimeout         string `yaml:"open_timeout"`
	ConsecutiveFailures uint32 `yaml:"consecutive_failures"`
}

// StoreConfig configures the session store tiers.
type StoreConfig struct {
	MaxEntries      int    `yaml:"max_entries"`
	TTL             string `yaml:"ttl"`
	CleanupInterval string `yaml:"cleanup_interval"`

	// Redis enables the shared L2 tier when Address is set.
	Redis RedisConfig `yaml:"redis"`

	// Postgres enables the durable last tier when DSN is set.
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig configures the optional Postgres tier.
type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`

	// WriteBehind queues writes to this tier instead of waiting on them.
	WriteBehind bool `yaml:"write_behind"`
}

// RedisConfig configures the optional Redis tier.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ServerConfig configures the portal.
type ServerConfig struct {
	Address          string `yaml:"address"`
	MetricsNamespace string `yaml:"metrics_namespace"`
	// FlowTTL bounds how long an idle wizard is kept.
	FlowTTL string `yaml:"flow_ttl"`
}

// Default returns a configuration that runs against a local API with
// an in-memory session store.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:  DefaultAPIBaseURL,
			Timeout:  "10s",
			Fallback: FallbackSample,
		},
		Breaker: BreakerConfig{
			MaxRequests:         1,
			Interval:            "60s",
			OpenTimeout:         "30s",
			ConsecutiveFailures: 5,
		},
		Store: StoreConfig{
			MaxEntries:      10000,
			TTL:             "30m",
			CleanupInterval: "1m",
		},
		Server: ServerConfig{
			Address:          ":8080",
			MetricsNamespace: "bankflow",
			FlowTTL:          "30m",
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads path over the defaults and applies environment overrides.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("BANKFLOW_API_URL"); url != "" {
		c.API.BaseURL = url
	}
	if token := os.Getenv("BANKFLOW_API_TOKEN"); token != "" {
		c.API.Token = token
	}
	if policy := os.Getenv("BANKFLOW_FALLBACK"); policy != "" {
		c.API.Fallback = policy
	}
	if addr := os.Getenv("BANKFLOW_REDIS_ADDR"); addr != "" {
		c.Store.Redis.Address = addr
	}
	if db := os.Getenv("BANKFLOW_REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			c.Store.Redis.DB = n
		}
	}
	if dsn := os.Getenv("BANKFLOW_POSTGRES_DSN"); dsn != "" {
		c.Store.Postgres.DSN = dsn
	}
	if addr := os.Getenv("BANKFLOW_ADDR"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("BANKFLOW_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("BANKFLOW_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return fmt.Errorf("config: api.base_url is required")
	}
	switch c.API.Fallback {
	case FallbackSample, FallbackFail:
	default:
		return fmt.Errorf("config: api.fallback must be %q or %q, got %q", FallbackSample, FallbackFail, c.API.Fallback)
	}
	for name, v := range map[string]string{
		"api.timeout":            c.API.Timeout,
		"breaker.interval":       c.Breaker.Interval,
		"breaker.open_timeout":   c.Breaker.OpenTimeout,
		"store.ttl":              c.Store.TTL,
		"store.cleanup_interval": c.Store.CleanupInterval,
		"server.flow_ttl":        c.Server.FlowTTL,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	if c.Store.MaxEntries < 0 {
		return fmt.Errorf("config: store.max_entries must not be negative")
	}
	return nil
}

// APITimeout returns the upstream timeout.
func (c *Config) APITimeout() time.Duration {
	return duration(c.API.Timeout, 10*time.Second)
}

// StoreTTL returns the session entry lifetime.
func (c *Config) StoreTTL() time.Duration {
	return duration(c.Store.TTL, 30*time.Minute)
}

// CleanupInterval returns how often expired memory entries are swept.
func (c *Config) CleanupInterval() time.Duration {
	return duration(c.Store.CleanupInterval, time.Minute)
}

// FlowTTL returns the idle lifetime of a wizard.
func (c *Config) FlowTTL() time.Duration {
	return duration(c.Server.FlowTTL, 30*time.Minute)
}

// RedisEnabled reports whether the Redis tier is configured.
func (c *Config) RedisEnabled() bool {
	return c.Store.Redis.Address != ""
}

// PostgresEnabled reports whether the Postgres tier is configured.
func (c *Config) PostgresEnabled() bool {
	return c.Store.Postgres.DSN != ""
}

// Resilience converts the API and breaker settings.
func (c *Config) Resilience() resilience.Config {
	rc := resilience.DefaultConfig().WithTimeout(c.APITimeout())
	if c.Breaker.MaxRequests > 0 {
		rc.Breaker.MaxRequests = c.Breaker.MaxRequests
	}
	rc.Breaker.Interval = duration(c.Breaker.Interval, rc.Breaker.Interval)
	rc.Breaker.Timeout = duration(c.Breaker.OpenTimeout, rc.Breaker.Timeout)
	if c.Breaker.ConsecutiveFailures > 0 {
		rc.Breaker.ReadyToTrip = resilience.ConsecutiveFailures(c.Breaker.ConsecutiveFailures)
	}
	return rc
}

func duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
