// Package storage defines the persistence configuration shared by the
// identity store backends. The store contracts themselves live with the
// services that consume them; this package holds backend selection and
// connection settings.
package storage

import "time"

// Backend names a persistence implementation
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendPostgres Backend = "postgres"
	BackendSQLite   Backend = "sqlite"
)

// Config selects and parameterizes the persistence backend
type Config struct {
	Backend Backend

	// PostgreSQL settings
	PostgresURL      string
	PostgresMaxConns int
	PostgresTimeout  time.Duration

	// SQLite settings (single-node deployments and tests)
	SQLitePath string

	// Redis settings for the permission decision cache
	RedisURL      string
	RedisPassword string
	RedisDB       int
	DecisionTTL   time.Duration
}

// DefaultConfig returns sensible defaults: the in-memory backend with the
// decision cache disabled
func DefaultConfig() Config {
	return Config{
		Backend:          BackendMemory,
		PostgresMaxConns: 20,
		PostgresTimeout:  10 * time.Second,
		SQLitePath:       ":memory:",
		DecisionTTL:      5 * time.Minute,
	}
}
