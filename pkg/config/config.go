// Package config loads the identity service configuration from
// IDENTITY_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/skyfactor/identity/pkg/observability"
	"github.com/skyfactor/identity/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       storage.Config
	Auth          AuthConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// AuthConfig selects how callers are identified
type AuthConfig struct {
	// Mode is "header" (trusted proxy headers) or "none" (every request
	// runs unauthenticated and fails at the first authorization check)
	Mode string

	DomainHeader string
	UserHeader   string
}

// ObservabilityConfig holds logging and metrics settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Auth:          loadAuthConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("IDENTITY_HOST", "0.0.0.0"),
		Port:            getEnv("IDENTITY_PORT", "8080"),
		ReadTimeout:     getEnvDuration("IDENTITY_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("IDENTITY_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("IDENTITY_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("IDENTITY_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("IDENTITY_HEALTH_PORT", "9090"),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if backend := getEnv("IDENTITY_STORAGE_BACKEND", ""); backend != "" {
		cfg.Backend = storage.Backend(backend)
	}

	if pgURL := getEnv("IDENTITY_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if maxConns := getEnvInt("IDENTITY_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if timeout := getEnvDuration("IDENTITY_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	if path := getEnv("IDENTITY_SQLITE_PATH", ""); path != "" {
		cfg.SQLitePath = path
	}

	if redisURL := getEnv("IDENTITY_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("IDENTITY_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("IDENTITY_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if ttl := getEnvDuration("IDENTITY_DECISION_TTL", 0); ttl > 0 {
		cfg.DecisionTTL = ttl
	}

	return cfg
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		Mode:         getEnv("IDENTITY_AUTH_MODE", "header"),
		DomainHeader: getEnv("IDENTITY_AUTH_DOMAIN_HEADER", "X-Identity-Domain"),
		UserHeader:   getEnv("IDENTITY_AUTH_USER_HEADER", "X-Identity-User"),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       observability.ParseLogLevel(getEnv("IDENTITY_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("IDENTITY_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Storage.Backend {
	case storage.BackendMemory:
	case storage.BackendPostgres:
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	case storage.BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite storage")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be memory, postgres, or sqlite)", c.Storage.Backend)
	}

	switch c.Auth.Mode {
	case "header", "none":
	default:
		return fmt.Errorf("invalid auth mode: %s (must be header or none)", c.Auth.Mode)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
