package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

var allEnvKeys = []string{
	"SWITCHBOARD_LISTEN_HOST", "SWITCHBOARD_LISTEN_PORT", "SWITCHBOARD_STORE_DSN",
	"SWITCHBOARD_BUS_DSN", "SWITCHBOARD_IDENTITY_VERIFIER_SECRET", "SWITCHBOARD_CORS_ORIGINS",
	"SWITCHBOARD_RATE_LIMIT_MAX", "SWITCHBOARD_RATE_LIMIT_WINDOW_MS", "SWITCHBOARD_LOG_LEVEL",
	"SWITCHBOARD_REQUEST_TIMEOUT_MS", "SWITCHBOARD_RULE_WINDOW", "SWITCHBOARD_DEV_MODE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvKeys {
		os.Unsetenv(key)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		checks  func(*testing.T, *Config)
	}{
		{
			name:    "default values when no env set",
			envVars: map[string]string{},
			checks: func(t *testing.T, cfg *Config) {
				if cfg.ListenHost != "0.0.0.0" {
					t.Errorf("expected default ListenHost, got %s", cfg.ListenHost)
				}
				if cfg.ListenPort != 3020 {
					t.Errorf("expected default ListenPort=3020, got %d", cfg.ListenPort)
				}
				if cfg.BusDSN != "redis://localhost:6379" {
					t.Errorf("expected default BusDSN, got %s", cfg.BusDSN)
				}
				if cfg.RateLimitMax != 100 || cfg.RateLimitWindowMs != 60000 {
					t.Errorf("expected default rate limit 100/60000, got %d/%d", cfg.RateLimitMax, cfg.RateLimitWindowMs)
				}
				if cfg.LogLevel != "info" {
					t.Errorf("expected default LogLevel=info, got %s", cfg.LogLevel)
				}
				if cfg.RuleWindow != RuleWindowRolling {
					t.Errorf("expected default RuleWindow=rolling, got %s", cfg.RuleWindow)
				}
			},
		},
		{
			name: "env overrides",
			envVars: map[string]string{
				"SWITCHBOARD_LISTEN_PORT":              "8099",
				"SWITCHBOARD_STORE_DSN":                "postgres://localhost/switchboard",
				"SWITCHBOARD_IDENTITY_VERIFIER_SECRET": "s3cret",
				"SWITCHBOARD_CORS_ORIGINS":             "https://a.example.com, https://b.example.com",
				"SWITCHBOARD_LOG_LEVEL":                "debug",
			},
			checks: func(t *testing.T, cfg *Config) {
				if cfg.ListenPort != 8099 {
					t.Errorf("expected ListenPort=8099, got %d", cfg.ListenPort)
				}
				if cfg.StoreDSN != "postgres://localhost/switchboard" {
					t.Errorf("unexpected StoreDSN %s", cfg.StoreDSN)
				}
				if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example.com" {
					t.Errorf("expected two trimmed origins, got %v", cfg.CORSOrigins)
				}
				if cfg.LogLevel != "debug" {
					t.Errorf("expected LogLevel=debug, got %s", cfg.LogLevel)
				}
			},
		},
		{
			name: "dev mode flag forms",
			envVars: map[string]string{
				"SWITCHBOARD_DEV_MODE": "1",
			},
			checks: func(t *testing.T, cfg *Config) {
				if !cfg.DevMode {
					t.Error("expected DevMode=true")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for key, value := range tt.envVars {
				os.Setenv(key, value)
			}
			defer clearEnv(t)

			cfg, err := LoadFromEnvironment()
			if err != nil {
				t.Fatalf("LoadFromEnvironment() error = %v", err)
			}
			tt.checks(t, cfg)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()

	testConfigPath := filepath.Join(tmpDir, "test_config.json")
	testConfigJSON := `{
  "listenPort": 4000,
  "storeDsn": "postgres://db/switchboard",
  "identityVerifierSecret": "file-secret",
  "corsOrigins": ["https://app.example.com"],
  "logLevel": "warn"
}`
	if err := os.WriteFile(testConfigPath, []byte(testConfigJSON), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(testConfigPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ListenPort != 4000 {
		t.Errorf("expected ListenPort=4000, got %d", cfg.ListenPort)
	}
	if cfg.StoreDSN != "postgres://db/switchboard" {
		t.Errorf("unexpected StoreDSN %s", cfg.StoreDSN)
	}
	// Untouched fields keep their defaults.
	if cfg.BusDSN != "redis://localhost:6379" {
		t.Errorf("expected default BusDSN, got %s", cfg.BusDSN)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if !errors.Is(err, ErrConfigFileNotFound) {
		t.Errorf("expected ErrConfigFileNotFound, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:    "missing store dsn",
			mutate:  func(cfg *Config) { cfg.StoreDSN = "" },
			wantErr: ErrMissingStoreDSN,
		},
		{
			name:    "missing secret outside dev mode",
			mutate:  func(cfg *Config) { cfg.IdentityVerifierSecret = "" },
			wantErr: ErrMissingIdentitySecret,
		},
		{
			name: "missing secret allowed in dev mode",
			mutate: func(cfg *Config) {
				cfg.IdentityVerifierSecret = ""
				cfg.DevMode = true
			},
		},
		{
			name:    "bad port",
			mutate:  func(cfg *Config) { cfg.ListenPort = 0 },
			wantErr: ErrInvalidListenPort,
		},
		{
			name:    "bad log level",
			mutate:  func(cfg *Config) { cfg.LogLevel = "verbose" },
			wantErr: ErrInvalidLogLevel,
		},
		{
			name:    "bad rule window",
			mutate:  func(cfg *Config) { cfg.RuleWindow = "weekly" },
			wantErr: ErrInvalidRuleWindow,
		},
		{
			name:    "bad rate limit",
			mutate:  func(cfg *Config) { cfg.RateLimitMax = 0 },
			wantErr: ErrInvalidRateLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.StoreDSN = "postgres://db/switchboard"
			cfg.IdentityVerifierSecret = "secret"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
