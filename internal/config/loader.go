package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Load loads configuration from a file path and applies environment variable overrides.
// Validation is deferred so CLI flag overrides can be applied first.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		fileConfig, err := loadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = fileConfig
	}

	applyEnvironmentOverrides(cfg)

	return cfg, nil
}

// LoadFromEnvironment creates a configuration using only environment variables.
// This is the usual path for containerized deployments.
func LoadFromEnvironment() (*Config, error) {
	cfg := DefaultConfig()
	applyEnvironmentOverrides(cfg)
	return cfg, nil
}

// loadFromFile loads configuration from a JSON file
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigFileNotFound
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfigFormat, err)
	}

	return cfg, nil
}

// applyEnvironmentOverrides applies configuration from SWITCHBOARD_* environment variables
func applyEnvironmentOverrides(cfg *Config) {
	if host := os.Getenv("SWITCHBOARD_LISTEN_HOST"); host != "" {
		cfg.ListenHost = host
	}

	if port := os.Getenv("SWITCHBOARD_LISTEN_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			cfg.ListenPort = n
		}
	}

	if dsn := os.Getenv("SWITCHBOARD_STORE_DSN"); dsn != "" {
		cfg.StoreDSN = dsn
	}

	if dsn := os.Getenv("SWITCHBOARD_BUS_DSN"); dsn != "" {
		cfg.BusDSN = dsn
	}

	if secret := os.Getenv("SWITCHBOARD_IDENTITY_VERIFIER_SECRET"); secret != "" {
		cfg.IdentityVerifierSecret = secret
	}

	// Comma-separated list, or "*" for any origin
	if origins := os.Getenv("SWITCHBOARD_CORS_ORIGINS"); origins != "" {
		parts := strings.Split(origins, ",")
		cfg.CORSOrigins = make([]string, 0, len(parts))
		for _, origin := range parts {
			trimmed := strings.TrimSpace(origin)
			if trimmed != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, trimmed)
			}
		}
	}

	if max := os.Getenv("SWITCHBOARD_RATE_LIMIT_MAX"); max != "" {
		if n, err := strconv.Atoi(max); err == nil {
			cfg.RateLimitMax = n
		}
	}

	if window := os.Getenv("SWITCHBOARD_RATE_LIMIT_WINDOW_MS"); window != "" {
		if n, err := strconv.Atoi(window); err == nil {
			cfg.RateLimitWindowMs = n
		}
	}

	if level := os.Getenv("SWITCHBOARD_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if timeout := os.Getenv("SWITCHBOARD_REQUEST_TIMEOUT_MS"); timeout != "" {
		if n, err := strconv.Atoi(timeout); err == nil {
			cfg.RequestTimeoutMs = n
		}
	}

	if window := os.Getenv("SWITCHBOARD_RULE_WINDOW"); window != "" {
		cfg.RuleWindow = window
	}

	if devMode := os.Getenv("SWITCHBOARD_DEV_MODE"); devMode == "true" || devMode == "1" {
		cfg.DevMode = true
	}
}
