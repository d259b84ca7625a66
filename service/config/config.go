package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	LogLevel    string
	MetricsAddr string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL     string
	NATSEnabled bool

	// Redis configuration. An empty RedisURL disables the payment cache
	// and Idempotency-Key support.
	RedisURL        string
	PaymentCacheTTL time.Duration
	IdempotencyTTL  time.Duration

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
	TemporalEnabled   bool

	// Routing configuration
	RoutingMaxPaths      int
	RoutingMaxPathLength int

	// Payment configuration
	SettlementCommitTimeout time.Duration
	NotifyTimeout           time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")
	natsEnabled, err := parseBool("NATS_ENABLED", true)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.NATSEnabled = natsEnabled

	// Redis configuration
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cacheTTL, err := parseDuration("PAYMENT_CACHE_TTL", "10m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PaymentCacheTTL = cacheTTL
	}

	idempotencyTTL, err := parseDuration("IDEMPOTENCY_TTL", "24h")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.IdempotencyTTL = idempotencyTTL
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "ripple-payments")
	temporalEnabled, err := parseBool("TEMPORAL_ENABLED", false)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.TemporalEnabled = temporalEnabled

	// Routing configuration
	maxPaths, err := parseInt("ROUTING_MAX_PATHS", 1000)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RoutingMaxPaths = maxPaths
	}

	maxPathLength, err := parseInt("ROUTING_MAX_PATH_LENGTH", 10)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RoutingMaxPathLength = maxPathLength
	}

	// Payment configuration
	commitTimeout, err := parseDuration("SETTLEMENT_COMMIT_TIMEOUT", "10s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SettlementCommitTimeout = commitTimeout
	}

	notifyTimeout, err := parseDuration("NOTIFY_TIMEOUT", "5s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.NotifyTimeout = notifyTimeout
	}

	if len(errs) == 0 {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LogLevel must be one of debug, info, warn, error (got %q)", c.LogLevel))
	}

	if c.NATSEnabled && c.NATSURL == "" {
		errs = append(errs, fmt.Errorf("NATSURL is required when NATS is enabled"))
	}

	if c.RedisURL != "" {
		if c.PaymentCacheTTL <= 0 {
			errs = append(errs, fmt.Errorf("PaymentCacheTTL must be positive"))
		}
		if c.IdempotencyTTL < time.Minute {
			errs = append(errs, fmt.Errorf("IdempotencyTTL must be at least 1 minute"))
		}
	}

	if c.TemporalEnabled {
		if c.TemporalHost == "" {
			errs = append(errs, fmt.Errorf("TemporalHost is required"))
		}
		if c.TemporalNamespace == "" {
			errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
		}
		if c.TemporalTaskQueue == "" {
			errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
		}
	}

	if c.RoutingMaxPaths < 0 {
		errs = append(errs, fmt.Errorf("RoutingMaxPaths cannot be negative"))
	}

	if c.RoutingMaxPathLength < 0 {
		errs = append(errs, fmt.Errorf("RoutingMaxPathLength cannot be negative"))
	}

	if c.SettlementCommitTimeout < time.Second {
		errs = append(errs, fmt.Errorf("SettlementCommitTimeout must be at least 1 second"))
	}

	if c.NotifyTimeout <= 0 {
		errs = append(errs, fmt.Errorf("NotifyTimeout must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseBool parses a boolean from an environment variable or uses a default.
func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}
