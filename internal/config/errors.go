package config

import "errors"

var (
	// ErrMissingStoreDSN indicates that the durable store DSN is not configured
	ErrMissingStoreDSN = errors.New("storeDsn is required in configuration")

	// ErrMissingIdentitySecret indicates that the token verification secret is not configured
	ErrMissingIdentitySecret = errors.New("identityVerifierSecret is required when not in dev mode")

	// ErrInvalidListenPort indicates a listen port outside the valid range
	ErrInvalidListenPort = errors.New("listenPort must be between 1 and 65535")

	// ErrInvalidLogLevel indicates an unrecognized log level
	ErrInvalidLogLevel = errors.New("logLevel must be one of trace, debug, info, warn, error, fatal")

	// ErrInvalidRuleWindow indicates an unrecognized rule window mode
	ErrInvalidRuleWindow = errors.New("ruleWindow must be rolling or calendar")

	// ErrInvalidRateLimit indicates a non-positive rate limit setting
	ErrInvalidRateLimit = errors.New("rate limit settings must be positive")

	// ErrConfigFileNotFound indicates that the config file was not found
	ErrConfigFileNotFound = errors.New("configuration file not found")

	// ErrInvalidConfigFormat indicates that the config file has invalid JSON
	ErrInvalidConfigFormat = errors.New("invalid configuration file format")
)
