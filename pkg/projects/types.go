package projects

import (
	"context"
	"time"
)

// ProjectGroup is a node in the domain's resource tree. An empty
// ParentProjectGroupID marks a root.
type ProjectGroup struct {
	ProjectGroupID       string                 `json:"project_group_id"`
	Name                 string                 `json:"name"`
	ParentProjectGroupID string                 `json:"parent_project_group_id,omitempty"`
	Tags                 map[string]interface{} `json:"tags,omitempty"`
	DomainID             string                 `json:"domain_id"`
	CreatedAt            time.Time              `json:"created_at"`
}

// Project belongs to exactly one ProjectGroup
type Project struct {
	ProjectID      string                 `json:"project_id"`
	Name           string                 `json:"name"`
	ProjectGroupID string                 `json:"project_group_id"`
	Tags           map[string]interface{} `json:"tags,omitempty"`
	DomainID       string                 `json:"domain_id"`
	CreatedAt      time.Time              `json:"created_at"`
}

// Membership associates a user with a project group, carrying free-form
// labels and role bindings. At most one membership exists per (group, user).
type Membership struct {
	ProjectGroupID string    `json:"project_group_id"`
	UserID         string    `json:"user_id"`
	Labels         []string  `json:"labels,omitempty"`
	RoleIDs        []string  `json:"roles,omitempty"`
	DomainID       string    `json:"domain_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// GroupStore persists project groups
type GroupStore interface {
	CreateProjectGroup(ctx context.Context, g *ProjectGroup) error
	GetProjectGroup(ctx context.Context, domainID, groupID string) (*ProjectGroup, error)
	UpdateProjectGroup(ctx context.Context, g *ProjectGroup) error
	DeleteProjectGroup(ctx context.Context, domainID, groupID string) error
	ListProjectGroups(ctx context.Context, domainID string) ([]*ProjectGroup, error)
	// ListChildGroups returns the direct children of a group
	ListChildGroups(ctx context.Context, domainID, groupID string) ([]*ProjectGroup, error)
}

// ProjectStore persists projects
type ProjectStore interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, domainID, projectID string) (*Project, error)
	UpdateProject(ctx context.Context, p *Project) error
	DeleteProject(ctx context.Context, domainID, projectID string) error
	ListProjects(ctx context.Context, domainID string) ([]*Project, error)
	// ListProjectsInGroup returns the projects directly owned by a group
	ListProjectsInGroup(ctx context.Context, domainID, groupID string) ([]*Project, error)
}

// MembershipStore persists project group memberships. AddMembership must
// enforce (group, user) uniqueness atomically and report violations as
// CONFLICT.
type MembershipStore interface {
	AddMembership(ctx context.Context, m *Membership) error
	GetMembership(ctx context.Context, domainID, groupID, userID string) (*Membership, error)
	UpdateMembership(ctx context.Context, m *Membership) error
	RemoveMembership(ctx context.Context, domainID, groupID, userID string) error
	ListMemberships(ctx context.Context, domainID, groupID string) ([]*Membership, error)
}
