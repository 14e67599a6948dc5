package config

import (
	"fmt"
	"time"
)

// Config holds all configuration for the messaging server
type Config struct {
	ListenHost             string   `json:"listenHost"`
	ListenPort             int      `json:"listenPort"`
	StoreDSN               string   `json:"storeDsn"`
	BusDSN                 string   `json:"busDsn"`
	IdentityVerifierSecret string   `json:"identityVerifierSecret"`
	CORSOrigins            []string `json:"corsOrigins"`
	RateLimitMax           int      `json:"rateLimitMax"`
	RateLimitWindowMs      int      `json:"rateLimitWindowMs"`
	LogLevel               string   `json:"logLevel"`
	RequestTimeoutMs       int      `json:"requestTimeoutMs"`
	RuleWindow             string   `json:"ruleWindow"`
	DevMode                bool     `json:"devMode"` // enables X-Debug-User header fallback
}

// Rule window modes for per-rule daily message quotas.
const (
	RuleWindowRolling  = "rolling"  // last 24 hours
	RuleWindowCalendar = "calendar" // since local midnight
)

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		ListenHost:        "0.0.0.0",
		ListenPort:        3020,
		BusDSN:            "redis://localhost:6379",
		CORSOrigins:       []string{"*"},
		RateLimitMax:      100,
		RateLimitWindowMs: 60000,
		LogLevel:          "info",
		RequestTimeoutMs:  10000,
		RuleWindow:        RuleWindowRolling,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.StoreDSN == "" {
		return ErrMissingStoreDSN
	}

	if c.IdentityVerifierSecret == "" && !c.DevMode {
		return ErrMissingIdentitySecret
	}

	if c.ListenPort < 1 || c.ListenPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidListenPort, c.ListenPort)
	}

	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}

	switch c.RuleWindow {
	case RuleWindowRolling, RuleWindowCalendar:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRuleWindow, c.RuleWindow)
	}

	if c.RateLimitMax < 1 {
		return fmt.Errorf("%w: rateLimitMax=%d", ErrInvalidRateLimit, c.RateLimitMax)
	}
	if c.RateLimitWindowMs < 1 {
		return fmt.Errorf("%w: rateLimitWindowMs=%d", ErrInvalidRateLimit, c.RateLimitWindowMs)
	}

	return nil
}

// Addr returns the host:port pair the HTTP server binds to
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ListenHost, c.ListenPort)
}

// RateLimitWindow returns the per-address rate limit window as a duration
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowMs) * time.Millisecond
}

// RequestTimeout returns the per-request deadline as a duration
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// AllowAllOrigins reports whether CORS is configured with a wildcard origin
func (c *Config) AllowAllOrigins() bool {
	for _, o := range c.CORSOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}
