package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gasline/gasline/internal/constants"
	"github.com/gasline/gasline/pkg/ethtx"
	"github.com/gasline/gasline/pkg/funding"
	"github.com/gasline/gasline/pkg/holdings"
	"github.com/gasline/gasline/pkg/proxy"
	"github.com/gasline/gasline/pkg/upstream"
)

// Config holds all configuration for the proxy
type Config struct {
	Server   proxy.Config           `yaml:"server"`
	Upstream upstream.Config        `yaml:"upstream"`
	Chain    ChainConfig            `yaml:"chain"`
	Price    PriceConfig            `yaml:"price"`
	Funding  funding.Config         `yaml:"funding"`
	Holdings holdings.Config        `yaml:"holdings"`
	Watched  []ethtx.ApprovalTarget `yaml:"watched_approvals"`
	Log      LogConfig              `yaml:"log"`
}

// ChainConfig identifies the chain the proxy fronts
type ChainConfig struct {
	// Name is a human-readable chain name, used in logs
	Name string `yaml:"name"`
}

// PriceConfig holds native-token price feed configuration
type PriceConfig struct {
	// URL is the token price API endpoint. Empty disables USD costs;
	// gas gating still works without a reference price.
	URL string `yaml:"url"`

	// RefreshInterval is the freshness window of the cached price and
	// the period of the background refresher
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults sets default values for the configuration
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Upstream.SetDefaults()
	c.Funding.SetDefaults()
	c.Holdings.SetDefaults()

	if c.Chain.Name == "" {
		c.Chain.Name = "base"
	}
	if c.Price.RefreshInterval == 0 {
		c.Price.RefreshInterval = constants.DefaultPriceRefreshInterval
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// LoadFromEnv loads configuration from environment variables
// Environment variables take precedence over file configuration
func (c *Config) LoadFromEnv() error {
	// Server configuration
	if host := os.Getenv("GASLINE_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("GASLINE_PORT"); port != "" {
		val, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid GASLINE_PORT: %w", err)
		}
		c.Server.Port = val
	}
	if rateLimit := os.Getenv("GASLINE_RATE_LIMIT"); rateLimit != "" {
		val, err := strconv.ParseBool(rateLimit)
		if err != nil {
			return fmt.Errorf("invalid GASLINE_RATE_LIMIT: %w", err)
		}
		c.Server.EnableRateLimit = val
	}

	// Upstream configuration
	if endpoints := os.Getenv("GASLINE_UPSTREAM_ENDPOINTS"); endpoints != "" {
		c.Upstream.Endpoints = splitAndTrim(endpoints)
	}
	if threshold := os.Getenv("GASLINE_UPSTREAM_FAILURE_THRESHOLD"); threshold != "" {
		val, err := strconv.Atoi(threshold)
		if err != nil {
			return fmt.Errorf("invalid GASLINE_UPSTREAM_FAILURE_THRESHOLD: %w", err)
		}
		c.Upstream.FailureThreshold = val
	}
	if cooldown := os.Getenv("GASLINE_UPSTREAM_RECOVERY_COOLDOWN"); cooldown != "" {
		duration, err := time.ParseDuration(cooldown)
		if err != nil {
			return fmt.Errorf("invalid GASLINE_UPSTREAM_RECOVERY_COOLDOWN: %w", err)
		}
		c.Upstream.RecoveryCooldown = duration
	}
	if timeout := os.Getenv("GASLINE_UPSTREAM_TIMEOUT"); timeout != "" {
		duration, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid GASLINE_UPSTREAM_TIMEOUT: %w", err)
		}
		c.Upstream.Timeout = duration
	}

	// Chain configuration
	if name := os.Getenv("GASLINE_CHAIN"); name != "" {
		c.Chain.Name = name
	}

	// Price configuration
	if url := os.Getenv("GASLINE_PRICE_URL"); url != "" {
		c.Price.URL = url
	}
	if interval := os.Getenv("GASLINE_PRICE_REFRESH_INTERVAL"); interval != "" {
		duration, err := time.ParseDuration(interval)
		if err != nil {
			return fmt.Errorf("invalid GASLINE_PRICE_REFRESH_INTERVAL: %w", err)
		}
		c.Price.RefreshInterval = duration
	}

	// Funding configuration
	if url := os.Getenv("GASLINE_FUNDING_URL"); url != "" {
		c.Funding.APIURL = url
	}
	if key := os.Getenv("GASLINE_FUNDING_API_KEY"); key != "" {
		c.Funding.APIKey = key
	}
	if mode := os.Getenv("GASLINE_FUNDING_MODE"); mode != "" {
		c.Funding.Mode = funding.Mode(mode)
	}
	if multiplier := os.Getenv("GASLINE_FUNDING_MULTIPLIER"); multiplier != "" {
		val, err := strconv.ParseFloat(multiplier, 64)
		if err != nil {
			return fmt.Errorf("invalid GASLINE_FUNDING_MULTIPLIER: %w", err)
		}
		c.Funding.Multiplier = val
	}

	// Holdings configuration
	if interval := os.Getenv("GASLINE_POLL_INTERVAL"); interval != "" {
		duration, err := time.ParseDuration(interval)
		if err != nil {
			return fmt.Errorf("invalid GASLINE_POLL_INTERVAL: %w", err)
		}
		c.Holdings.PollInterval = duration
	}
	if maxHold := os.Getenv("GASLINE_MAX_HOLD"); maxHold != "" {
		duration, err := time.ParseDuration(maxHold)
		if err != nil {
			return fmt.Errorf("invalid GASLINE_MAX_HOLD: %w", err)
		}
		c.Holdings.MaxHold = duration
	}

	// Log configuration
	if level := os.Getenv("GASLINE_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("GASLINE_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Upstream.Validate(); err != nil {
		return fmt.Errorf("upstream: %w", err)
	}
	if err := c.Holdings.Validate(); err != nil {
		return fmt.Errorf("holdings: %w", err)
	}

	switch c.Funding.Mode {
	case funding.ModeRelay, funding.ModeGasDrop:
	default:
		return fmt.Errorf("invalid funding mode %q, must be one of: relay, gasdrop", c.Funding.Mode)
	}

	if c.Price.RefreshInterval <= 0 {
		return fmt.Errorf("price refresh interval must be positive")
	}

	// Validate log configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Log.Format)
	}

	return nil
}

// Load is a convenience method that loads configuration in the following order:
// 1. Load from file (if provided)
// 2. Load from environment variables (override file)
// 3. Set defaults for any missing values
// 4. Validate
func Load(configFile string) (*Config, error) {
	cfg := &Config{}

	// Load from file if provided
	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Load from environment variables (override file)
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Set defaults for any missing values
	cfg.SetDefaults()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
