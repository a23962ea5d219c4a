package sqldb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/skyfactor/identity/pkg/domains"
	"github.com/skyfactor/identity/pkg/errdefs"
	"github.com/skyfactor/identity/pkg/users"
)

// CreateDomain inserts a domain; a duplicate id reports NOT_UNIQUE
func (s *Store) CreateDomain(ctx context.Context, d *domains.Domain) error {
	config, err := encodeJSON(d.Config)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO domains (domain_id, name, config, created_at)
		VALUES ($1, $2, $3, $4)
	`, d.DomainID, d.Name, config, d.CreatedAt)
	if isUniqueViolation(err) {
		return errdefs.NotUnique("domain", d.DomainID)
	}
	if err != nil {
		return fmt.Errorf("insert domain: %w", err)
	}
	return nil
}

func (s *Store) GetDomain(ctx context.Context, domainID string) (*domains.Domain, error) {
	var (
		d      domains.Domain
		config sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT domain_id, name, config, created_at FROM domains WHERE domain_id = $1
	`, domainID).Scan(&d.DomainID, &d.Name, &config, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("domain", domainID)
	}
	if err != nil {
		return nil, fmt.Errorf("select domain: %w", err)
	}
	if err := decodeJSON(config, &d.Config); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) DeleteDomain(ctx context.Context, domainID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM domains WHERE domain_id = $1`, domainID)
	if err != nil {
		return fmt.Errorf("delete domain: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.NotFound("domain", domainID)
	}
	return nil
}

func (s *Store) ListDomains(ctx context.Context) ([]*domains.Domain, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain_id, name, config, created_at
		FROM domains ORDER BY created_at, domain_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	var out []*domains.Domain
	for rows.Next() {
		var (
			d      domains.Domain
			config sql.NullString
		)
		if err := rows.Scan(&d.DomainID, &d.Name, &config, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		if err := decodeJSON(config, &d.Config); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate domains: %w", err)
	}
	return out, nil
}

const userColumns = `domain_id, user_id, name, password, state, email, mobile,
	user_group, language, timezone, tags, role_ids, created_at`

// CreateUser inserts a user; the (domain_id, user_id) primary key makes the
// uniqueness check atomic and duplicates report NOT_UNIQUE
func (s *Store) CreateUser(ctx context.Context, u *users.User) error {
	tags, err := encodeJSON(u.Tags)
	if err != nil {
		return err
	}
	roleIDs, err := encodeJSON(u.RoleIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, u.DomainID, u.UserID, u.Name, u.Password, string(u.State), u.Email, u.Mobile,
		u.Group, u.Language, u.Timezone, tags, roleIDs, u.CreatedAt)
	if isUniqueViolation(err) {
		return errdefs.NotUnique("user", u.UserID)
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func scanUser(scan func(dest ...interface{}) error) (*users.User, error) {
	var (
		u       users.User
		state   string
		tags    sql.NullString
		roleIDs sql.NullString
	)
	err := scan(&u.DomainID, &u.UserID, &u.Name, &u.Password, &state, &u.Email,
		&u.Mobile, &u.Group, &u.Language, &u.Timezone, &tags, &roleIDs, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	u.State = users.State(state)
	if err := decodeJSON(tags, &u.Tags); err != nil {
		return nil, err
	}
	if err := decodeJSON(roleIDs, &u.RoleIDs); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, domainID, userID string) (*users.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE domain_id = $1 AND user_id = $2
	`, domainID, userID)
	u, err := scanUser(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("user", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u *users.User) error {
	tags, err := encodeJSON(u.Tags)
	if err != nil {
		return err
	}
	roleIDs, err := encodeJSON(u.RoleIDs)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET name = $1, password = $2, state = $3, email = $4,
			mobile = $5, user_group = $6, language = $7, timezone = $8,
			tags = $9, role_ids = $10
		WHERE domain_id = $11 AND user_id = $12
	`, u.Name, u.Password, string(u.State), u.Email,
		u.Mobile, u.Group, u.Language, u.Timezone, tags, roleIDs, u.DomainID, u.UserID)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.NotFound("user", u.UserID)
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, domainID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM users WHERE domain_id = $1 AND user_id = $2
	`, domainID, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.NotFound("user", userID)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context, domainID string) ([]*users.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE domain_id = $1 ORDER BY created_at, user_id
	`, domainID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []*users.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

// CountUsersWithRole backs the role deletion guard. Role bindings live in a
// JSON column, so the membership test runs in Go rather than SQL.
func (s *Store) CountUsersWithRole(ctx context.Context, domainID, roleID string) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role_ids FROM users WHERE domain_id = $1
	`, domainID)
	if err != nil {
		return 0, fmt.Errorf("count role holders: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var raw sql.NullString
		if err := rows.Scan(&raw); err != nil {
			return 0, fmt.Errorf("scan role_ids: %w", err)
		}
		var roleIDs []string
		if err := decodeJSON(raw, &roleIDs); err != nil {
			return 0, err
		}
		for _, id := range roleIDs {
			if id == roleID {
				count++
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate role holders: %w", err)
	}
	return count, nil
}

// RoleIDsOf backs permission resolution for the rbac checker
func (s *Store) RoleIDsOf(ctx context.Context, domainID, userID string) ([]string, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT role_ids FROM users WHERE domain_id = $1 AND user_id = $2
	`, domainID, userID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("user", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("select role_ids: %w", err)
	}
	var roleIDs []string
	if err := decodeJSON(raw, &roleIDs); err != nil {
		return nil, err
	}
	return roleIDs, nil
}
