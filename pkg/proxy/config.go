package proxy

import (
	"errors"
	"fmt"
	"time"

	"github.com/gasline/gasline/internal/constants"
)

// Config holds proxy HTTP server configuration
type Config struct {
	// Host is the server host (default: localhost)
	Host string `yaml:"host"`

	// Port is the server port (default: 8545, the conventional RPC port)
	Port int `yaml:"port"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes.
	// Zero disables it: held transactions keep their HTTP response open
	// until the balance poller resolves them.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum duration to wait for the next request
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// MaxHeaderBytes is the maximum size of request headers
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// EnableCORS enables CORS middleware. Wallet extensions call the
	// proxy cross-origin, so most deployments want this on.
	EnableCORS bool `yaml:"enable_cors"`

	// AllowedOrigins is a list of allowed CORS origins
	AllowedOrigins []string `yaml:"allowed_origins"`

	// ShutdownTimeout is the graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// EnableRateLimit enables per-IP rate limiting
	EnableRateLimit bool `yaml:"enable_rate_limit"`

	// RateLimitPerSecond is the number of requests allowed per second per IP
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`

	// RateLimitBurst is the maximum burst size
	RateLimitBurst int `yaml:"rate_limit_burst"`
}

// SetDefaults fills in zero values with sensible defaults
func (c *Config) SetDefaults() {
	if c.Host == "" {
		c.Host = constants.DefaultProxyHost
	}
	if c.Port == 0 {
		c.Port = constants.DefaultProxyPort
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = constants.DefaultReadTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = constants.DefaultIdleTimeout
	}
	if c.MaxHeaderBytes == 0 {
		c.MaxHeaderBytes = constants.DefaultMaxHeaderBytes
	}
	if c.AllowedOrigins == nil {
		c.AllowedOrigins = []string{"*"}
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = constants.DefaultShutdownTimeout
	}
	if c.RateLimitPerSecond == 0 {
		c.RateLimitPerSecond = constants.DefaultRateLimitPerSecond
	}
	if c.RateLimitBurst == 0 {
		c.RateLimitBurst = constants.DefaultRateLimitBurst
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.ReadTimeout <= 0 {
		return errors.New("read timeout must be positive")
	}
	if c.WriteTimeout < 0 {
		return errors.New("write timeout cannot be negative")
	}
	if c.IdleTimeout <= 0 {
		return errors.New("idle timeout must be positive")
	}
	if c.MaxHeaderBytes <= 0 {
		return errors.New("max header bytes must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.EnableRateLimit {
		if c.RateLimitPerSecond <= 0 {
			return errors.New("rate limit per second must be positive")
		}
		if c.RateLimitBurst <= 0 {
			return errors.New("rate limit burst must be positive")
		}
	}
	return nil
}

// Address returns the server address in host:port format
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
