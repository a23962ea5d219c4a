package sqldb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/skyfactor/identity/pkg/errdefs"
	"github.com/skyfactor/identity/pkg/projects"
)

func (s *Store) CreateProjectGroup(ctx context.Context, g *projects.ProjectGroup) error {
	tags, err := encodeJSON(g.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO project_groups (domain_id, project_group_id, name, parent_project_group_id, tags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, g.DomainID, g.ProjectGroupID, g.Name, g.ParentProjectGroupID, tags, g.CreatedAt)
	if isUniqueViolation(err) {
		return errdefs.NotUnique("project_group", g.ProjectGroupID)
	}
	if err != nil {
		return fmt.Errorf("insert project group: %w", err)
	}
	return nil
}

func scanGroup(scan func(dest ...interface{}) error) (*projects.ProjectGroup, error) {
	var (
		g    projects.ProjectGroup
		tags sql.NullString
	)
	err := scan(&g.DomainID, &g.ProjectGroupID, &g.Name, &g.ParentProjectGroupID, &tags, &g.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(tags, &g.Tags); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) GetProjectGroup(ctx context.Context, domainID, groupID string) (*projects.ProjectGroup, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT domain_id, project_group_id, name, parent_project_group_id, tags, created_at
		FROM project_groups WHERE domain_id = $1 AND project_group_id = $2
	`, domainID, groupID)
	g, err := scanGroup(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("project_group", groupID)
	}
	if err != nil {
		return nil, fmt.Errorf("select project group: %w", err)
	}
	return g, nil
}

func (s *Store) UpdateProjectGroup(ctx context.Context, g *projects.ProjectGroup) error {
	tags, err := encodeJSON(g.Tags)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE project_groups SET name = $3, parent_project_group_id = $4, tags = $5
		WHERE domain_id = $1 AND project_group_id = $2
	`, g.DomainID, g.ProjectGroupID, g.Name, g.ParentProjectGroupID, tags)
	if err != nil {
		return fmt.Errorf("update project group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.NotFound("project_group", g.ProjectGroupID)
	}
	return nil
}

func (s *Store) DeleteProjectGroup(ctx context.Context, domainID, groupID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM project_groups WHERE domain_id = $1 AND project_group_id = $2
	`, domainID, groupID)
	if err != nil {
		return fmt.Errorf("delete project group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.NotFound("project_group", groupID)
	}
	return nil
}

func (s *Store) listGroups(ctx context.Context, query string, args ...interface{}) ([]*projects.ProjectGroup, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list project groups: %w", err)
	}
	defer rows.Close()

	var out []*projects.ProjectGroup
	for rows.Next() {
		g, err := scanGroup(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan project group: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project groups: %w", err)
	}
	return out, nil
}

func (s *Store) ListProjectGroups(ctx context.Context, domainID string) ([]*projects.ProjectGroup, error) {
	return s.listGroups(ctx, `
		SELECT domain_id, project_group_id, name, parent_project_group_id, tags, created_at
		FROM project_groups WHERE domain_id = $1 ORDER BY created_at, project_group_id
	`, domainID)
}

func (s *Store) ListChildGroups(ctx context.Context, domainID, groupID string) ([]*projects.ProjectGroup, error) {
	return s.listGroups(ctx, `
		SELECT domain_id, project_group_id, name, parent_project_group_id, tags, created_at
		FROM project_groups
		WHERE domain_id = $1 AND parent_project_group_id = $2
		ORDER BY created_at, project_group_id
	`, domainID, groupID)
}

func (s *Store) CreateProject(ctx context.Context, p *projects.Project) error {
	tags, err := encodeJSON(p.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (domain_id, project_id, name, project_group_id, tags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.DomainID, p.ProjectID, p.Name, p.ProjectGroupID, tags, p.CreatedAt)
	if isUniqueViolation(err) {
		return errdefs.NotUnique("project", p.ProjectID)
	}
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func scanProject(scan func(dest ...interface{}) error) (*projects.Project, error) {
	var (
		p    projects.Project
		tags sql.NullString
	)
	err := scan(&p.DomainID, &p.ProjectID, &p.Name, &p.ProjectGroupID, &tags, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(tags, &p.Tags); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProject(ctx context.Context, domainID, projectID string) (*projects.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT domain_id, project_id, name, project_group_id, tags, created_at
		FROM projects WHERE domain_id = $1 AND project_id = $2
	`, domainID, projectID)
	p, err := scanProject(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("project", projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("select project: %w", err)
	}
	return p, nil
}

func (s *Store) UpdateProject(ctx context.Context, p *projects.Project) error {
	tags, err := encodeJSON(p.Tags)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET name = $3, project_group_id = $4, tags = $5
		WHERE domain_id = $1 AND project_id = $2
	`, p.DomainID, p.ProjectID, p.Name, p.ProjectGroupID, tags)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.NotFound("project", p.ProjectID)
	}
	return nil
}

func (s *Store) DeleteProject(ctx context.Context, domainID, projectID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM projects WHERE domain_id = $1 AND project_id = $2
	`, domainID, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.NotFound("project", projectID)
	}
	return nil
}

func (s *Store) listProjects(ctx context.Context, query string, args ...interface{}) ([]*projects.Project, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []*projects.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return out, nil
}

func (s *Store) ListProjects(ctx context.Context, domainID string) ([]*projects.Project, error) {
	return s.listProjects(ctx, `
		SELECT domain_id, project_id, name, project_group_id, tags, created_at
		FROM projects WHERE domain_id = $1 ORDER BY created_at, project_id
	`, domainID)
}

func (s *Store) ListProjectsInGroup(ctx context.Context, domainID, groupID string) ([]*projects.Project, error) {
	return s.listProjects(ctx, `
		SELECT domain_id, project_id, name, project_group_id, tags, created_at
		FROM projects
		WHERE domain_id = $1 AND project_group_id = $2
		ORDER BY created_at, project_id
	`, domainID, groupID)
}

// AddMembership inserts a membership; the (domain, group, user) primary key
// makes the pair uniqueness atomic and duplicates report CONFLICT
func (s *Store) AddMembership(ctx context.Context, m *projects.Membership) error {
	labels, err := encodeJSON(m.Labels)
	if err != nil {
		return err
	}
	roleIDs, err := encodeJSON(m.RoleIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO project_group_members (domain_id, project_group_id, user_id, labels, role_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, m.DomainID, m.ProjectGroupID, m.UserID, labels, roleIDs, m.CreatedAt)
	if isUniqueViolation(err) {
		return errdefs.Conflict("user %s is already a member of %s", m.UserID, m.ProjectGroupID)
	}
	if err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

func scanMembership(scan func(dest ...interface{}) error) (*projects.Membership, error) {
	var (
		m       projects.Membership
		labels  sql.NullString
		roleIDs sql.NullString
	)
	err := scan(&m.DomainID, &m.ProjectGroupID, &m.UserID, &labels, &roleIDs, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(labels, &m.Labels); err != nil {
		return nil, err
	}
	if err := decodeJSON(roleIDs, &m.RoleIDs); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) GetMembership(ctx context.Context, domainID, groupID, userID string) (*projects.Membership, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT domain_id, project_group_id, user_id, labels, role_ids, created_at
		FROM project_group_members
		WHERE domain_id = $1 AND project_group_id = $2 AND user_id = $3
	`, domainID, groupID, userID)
	m, err := scanMembership(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("project_group_member", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("select membership: %w", err)
	}
	return m, nil
}

func (s *Store) UpdateMembership(ctx context.Context, m *projects.Membership) error {
	labels, err := encodeJSON(m.Labels)
	if err != nil {
		return err
	}
	roleIDs, err := encodeJSON(m.RoleIDs)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE project_group_members SET labels = $1, role_ids = $2
		WHERE domain_id = $3 AND project_group_id = $4 AND user_id = $5
	`, labels, roleIDs, m.DomainID, m.ProjectGroupID, m.UserID)
	if err != nil {
		return fmt.Errorf("update membership: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.NotFound("project_group_member", m.UserID)
	}
	return nil
}

func (s *Store) RemoveMembership(ctx context.Context, domainID, groupID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM project_group_members
		WHERE domain_id = $1 AND project_group_id = $2 AND user_id = $3
	`, domainID, groupID, userID)
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.NotFound("project_group_member", userID)
	}
	return nil
}

func (s *Store) ListMemberships(ctx context.Context, domainID, groupID string) ([]*projects.Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain_id, project_group_id, user_id, labels, role_ids, created_at
		FROM project_group_members
		WHERE domain_id = $1 AND project_group_id = $2
		ORDER BY created_at, user_id
	`, domainID, groupID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	var out []*projects.Membership
	for rows.Next() {
		m, err := scanMembership(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return out, nil
}
