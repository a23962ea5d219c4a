package sqldb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/skyfactor/identity/pkg/errdefs"
	"github.com/skyfactor/identity/pkg/rbac"
)

func (s *Store) CreatePolicy(ctx context.Context, p *rbac.Policy) error {
	permissions, err := encodeJSON(p.Permissions)
	if err != nil {
		return err
	}
	tags, err := encodeJSON(p.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policies (domain_id, policy_id, name, permissions, tags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.DomainID, p.PolicyID, p.Name, permissions, tags, p.CreatedAt)
	if isUniqueViolation(err) {
		return errdefs.NotUnique("policy", p.PolicyID)
	}
	if err != nil {
		return fmt.Errorf("insert policy: %w", err)
	}
	return nil
}

func scanPolicy(scan func(dest ...interface{}) error) (*rbac.Policy, error) {
	var (
		p           rbac.Policy
		permissions sql.NullString
		tags        sql.NullString
	)
	err := scan(&p.DomainID, &p.PolicyID, &p.Name, &permissions, &tags, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(permissions, &p.Permissions); err != nil {
		return nil, err
	}
	if err := decodeJSON(tags, &p.Tags); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetPolicy(ctx context.Context, domainID, policyID string) (*rbac.Policy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT domain_id, policy_id, name, permissions, tags, created_at
		FROM policies WHERE domain_id = $1 AND policy_id = $2
	`, domainID, policyID)
	p, err := scanPolicy(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("policy", policyID)
	}
	if err != nil {
		return nil, fmt.Errorf("select policy: %w", err)
	}
	return p, nil
}

func (s *Store) UpdatePolicy(ctx context.Context, p *rbac.Policy) error {
	permissions, err := encodeJSON(p.Permissions)
	if err != nil {
		return err
	}
	tags, err := encodeJSON(p.Tags)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE policies SET name = $3, permissions = $4, tags = $5
		WHERE domain_id = $1 AND policy_id = $2
	`, p.DomainID, p.PolicyID, p.Name, permissions, tags)
	if err != nil {
		return fmt.Errorf("update policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.NotFound("policy", p.PolicyID)
	}
	return nil
}

func (s *Store) DeletePolicy(ctx context.Context, domainID, policyID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM policies WHERE domain_id = $1 AND policy_id = $2
	`, domainID, policyID)
	if err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.NotFound("policy", policyID)
	}
	return nil
}

func (s *Store) ListPolicies(ctx context.Context, domainID string) ([]*rbac.Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain_id, policy_id, name, permissions, tags, created_at
		FROM policies WHERE domain_id = $1 ORDER BY created_at, policy_id
	`, domainID)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	var out []*rbac.Policy
	for rows.Next() {
		p, err := scanPolicy(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policies: %w", err)
	}
	return out, nil
}

func (s *Store) CreateRole(ctx context.Context, r *rbac.Role) error {
	policies, err := encodeJSON(r.Policies)
	if err != nil {
		return err
	}
	tags, err := encodeJSON(r.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO roles (domain_id, role_id, name, role_type, policies, tags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.DomainID, r.RoleID, r.Name, string(r.RoleType), policies, tags, r.CreatedAt)
	if isUniqueViolation(err) {
		return errdefs.NotUnique("role", r.RoleID)
	}
	if err != nil {
		return fmt.Errorf("insert role: %w", err)
	}
	return nil
}

func scanRole(scan func(dest ...interface{}) error) (*rbac.Role, error) {
	var (
		r        rbac.Role
		roleType string
		policies sql.NullString
		tags     sql.NullString
	)
	err := scan(&r.DomainID, &r.RoleID, &r.Name, &roleType, &policies, &tags, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.RoleType = rbac.RoleType(roleType)
	if err := decodeJSON(policies, &r.Policies); err != nil {
		return nil, err
	}
	if err := decodeJSON(tags, &r.Tags); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) GetRole(ctx context.Context, domainID, roleID string) (*rbac.Role, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT domain_id, role_id, name, role_type, policies, tags, created_at
		FROM roles WHERE domain_id = $1 AND role_id = $2
	`, domainID, roleID)
	r, err := scanRole(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("role", roleID)
	}
	if err != nil {
		return nil, fmt.Errorf("select role: %w", err)
	}
	return r, nil
}

func (s *Store) UpdateRole(ctx context.Context, r *rbac.Role) error {
	policies, err := encodeJSON(r.Policies)
	if err != nil {
		return err
	}
	tags, err := encodeJSON(r.Tags)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE roles SET name = $3, role_type = $4, policies = $5, tags = $6
		WHERE domain_id = $1 AND role_id = $2
	`, r.DomainID, r.RoleID, r.Name, string(r.RoleType), policies, tags)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.NotFound("role", r.RoleID)
	}
	return nil
}

func (s *Store) DeleteRole(ctx context.Context, domainID, roleID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM roles WHERE domain_id = $1 AND role_id = $2
	`, domainID, roleID)
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.NotFound("role", roleID)
	}
	return nil
}

func (s *Store) ListRoles(ctx context.Context, domainID string) ([]*rbac.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain_id, role_id, name, role_type, policies, tags, created_at
		FROM roles WHERE domain_id = $1 ORDER BY created_at, role_id
	`, domainID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var out []*rbac.Role
	for rows.Next() {
		r, err := scanRole(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return out, nil
}
