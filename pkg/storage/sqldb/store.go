// Package sqldb implements the identity store contracts on database/sql.
// PostgreSQL is the production backend; SQLite serves single-node
// deployments and tests. Statements stick to $1 placeholders and portable
// column types so both drivers accept them.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/skyfactor/identity/pkg/storage"
)

// Store implements every identity store contract on a *sql.DB
type Store struct {
	db *sql.DB
}

// New wraps an already-open database handle. The caller owns the handle's
// lifecycle; Migrate must have run before the store serves traffic.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to the configured SQL backend, verifies the connection and
// applies pending migrations
func Open(ctx context.Context, cfg storage.Config) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Backend {
	case storage.BackendPostgres:
		db, err = sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(cfg.PostgresMaxConns)
		db.SetMaxIdleConns(cfg.PostgresMaxConns / 2)
		db.SetConnMaxLifetime(1 * time.Hour)
		db.SetConnMaxIdleTime(10 * time.Minute)
	case storage.BackendSQLite:
		db, err = sql.Open("sqlite3", cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// sqlite serializes writers; a second connection only buys lock errors
		db.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("backend %q is not a SQL backend", cfg.Backend)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PostgresTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports backend reachability for health checks
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// isUniqueViolation recognizes unique constraint errors from both drivers
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// encodeJSON renders a value for a TEXT column. Nil maps and slices encode
// as "null" so reads round-trip back to nil.
func encodeJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json column: %w", err)
	}
	return string(data), nil
}

func decodeJSON(raw sql.NullString, target interface{}) error {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw.String), target); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}
