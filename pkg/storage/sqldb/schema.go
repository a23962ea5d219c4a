package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration is one versioned schema step
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the full identity schema in apply order. Column types
// stay within the subset PostgreSQL and SQLite share; JSON values live in
// TEXT columns.
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create domains table",
			SQL: `
				CREATE TABLE IF NOT EXISTS domains (
					domain_id VARCHAR(64) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					config TEXT NOT NULL DEFAULT 'null',
					created_at TIMESTAMP NOT NULL
				);
			`,
		},
		{
			Version:     2,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					domain_id VARCHAR(64) NOT NULL,
					user_id VARCHAR(255) NOT NULL,
					name VARCHAR(255) NOT NULL DEFAULT '',
					password TEXT NOT NULL DEFAULT '',
					state VARCHAR(16) NOT NULL,
					email VARCHAR(255) NOT NULL DEFAULT '',
					mobile VARCHAR(64) NOT NULL DEFAULT '',
					user_group VARCHAR(255) NOT NULL DEFAULT '',
					language VARCHAR(16) NOT NULL DEFAULT '',
					timezone VARCHAR(64) NOT NULL DEFAULT '',
					tags TEXT NOT NULL DEFAULT 'null',
					role_ids TEXT NOT NULL DEFAULT 'null',
					created_at TIMESTAMP NOT NULL,
					PRIMARY KEY (domain_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_users_domain_id ON users(domain_id);
				CREATE INDEX IF NOT EXISTS idx_users_state ON users(domain_id, state);
			`,
		},
		{
			Version:     3,
			Description: "Create policies table",
			SQL: `
				CREATE TABLE IF NOT EXISTS policies (
					domain_id VARCHAR(64) NOT NULL,
					policy_id VARCHAR(64) NOT NULL,
					name VARCHAR(255) NOT NULL,
					permissions TEXT NOT NULL DEFAULT 'null',
					tags TEXT NOT NULL DEFAULT 'null',
					created_at TIMESTAMP NOT NULL,
					PRIMARY KEY (domain_id, policy_id)
				);
			`,
		},
		{
			Version:     4,
			Description: "Create roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					domain_id VARCHAR(64) NOT NULL,
					role_id VARCHAR(64) NOT NULL,
					name VARCHAR(255) NOT NULL,
					role_type VARCHAR(16) NOT NULL,
					policies TEXT NOT NULL DEFAULT 'null',
					tags TEXT NOT NULL DEFAULT 'null',
					created_at TIMESTAMP NOT NULL,
					PRIMARY KEY (domain_id, role_id)
				);
			`,
		},
		{
			Version:     5,
			Description: "Create providers table",
			SQL: `
				CREATE TABLE IF NOT EXISTS providers (
					provider VARCHAR(64) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					template TEXT NOT NULL DEFAULT 'null',
					metadata TEXT NOT NULL DEFAULT 'null',
					capability TEXT NOT NULL DEFAULT 'null',
					tags TEXT NOT NULL DEFAULT 'null',
					created_at TIMESTAMP NOT NULL
				);
			`,
		},
		{
			Version:     6,
			Description: "Create project_groups table",
			SQL: `
				CREATE TABLE IF NOT EXISTS project_groups (
					domain_id VARCHAR(64) NOT NULL,
					project_group_id VARCHAR(64) NOT NULL,
					name VARCHAR(255) NOT NULL,
					parent_project_group_id VARCHAR(64) NOT NULL DEFAULT '',
					tags TEXT NOT NULL DEFAULT 'null',
					created_at TIMESTAMP NOT NULL,
					PRIMARY KEY (domain_id, project_group_id)
				);

				CREATE INDEX IF NOT EXISTS idx_project_groups_parent
					ON project_groups(domain_id, parent_project_group_id);
			`,
		},
		{
			Version:     7,
			Description: "Create projects table",
			SQL: `
				CREATE TABLE IF NOT EXISTS projects (
					domain_id VARCHAR(64) NOT NULL,
					project_id VARCHAR(64) NOT NULL,
					name VARCHAR(255) NOT NULL,
					project_group_id VARCHAR(64) NOT NULL,
					tags TEXT NOT NULL DEFAULT 'null',
					created_at TIMESTAMP NOT NULL,
					PRIMARY KEY (domain_id, project_id)
				);

				CREATE INDEX IF NOT EXISTS idx_projects_group
					ON projects(domain_id, project_group_id);
			`,
		},
		{
			Version:     8,
			Description: "Create project_group_members table",
			SQL: `
				CREATE TABLE IF NOT EXISTS project_group_members (
					domain_id VARCHAR(64) NOT NULL,
					project_group_id VARCHAR(64) NOT NULL,
					user_id VARCHAR(255) NOT NULL,
					labels TEXT NOT NULL DEFAULT 'null',
					role_ids TEXT NOT NULL DEFAULT 'null',
					created_at TIMESTAMP NOT NULL,
					PRIMARY KEY (domain_id, project_group_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_members_user
					ON project_group_members(domain_id, user_id);
			`,
		},
	}
}

// Migrate applies pending migrations in a transaction each, tracking the
// applied set in schema_migrations
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate migration versions: %w", err)
	}
	rows.Close()

	for _, m := range Migrations() {
		if applied[m.Version] {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, description, applied_at) VALUES ($1, $2, $3)`,
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
