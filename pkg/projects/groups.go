package projects

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skyfactor/identity/pkg/errdefs"
	"github.com/skyfactor/identity/pkg/query"
	"github.com/skyfactor/identity/pkg/rbac"
	"github.com/skyfactor/identity/pkg/validation"
)

// DomainChecker verifies a domain id exists before any scoped mutation
type DomainChecker interface {
	Exists(ctx context.Context, domainID string) error
}

// UserSource resolves users for membership operations. Implemented by the
// users service.
type UserSource interface {
	Get(ctx context.Context, domainID, userID string) (UserRef, error)
}

// UserRef is the slice of a user the membership surface needs
type UserRef struct {
	UserID string
	Name   string
	State  string
}

// RoleChecker verifies role ids for membership role bindings without
// requiring any role permission of the caller. Implemented by the rbac
// registry.
type RoleChecker interface {
	LookupRole(ctx context.Context, domainID, roleID string) (*rbac.Role, error)
}

// Service is the resource tree and membership manager
type Service struct {
	groups      GroupStore
	projects    ProjectStore
	memberships MembershipStore
	users       UserSource
	roles       RoleChecker
	domains     DomainChecker
}

// NewService creates the project/group Service
func NewService(groups GroupStore, projects ProjectStore, memberships MembershipStore,
	users UserSource, roles RoleChecker, domains DomainChecker) *Service {
	return &Service{
		groups:      groups,
		projects:    projects,
		memberships: memberships,
		users:       users,
		roles:       roles,
		domains:     domains,
	}
}

// CreateGroupRequest carries the attributes accepted at group creation
type CreateGroupRequest struct {
	Name                 string                 `json:"name"`
	ParentProjectGroupID string                 `json:"parent_project_group_id,omitempty"`
	Tags                 map[string]interface{} `json:"tags,omitempty"`
	DomainID             string                 `json:"domain_id"`
}

// CreateGroup registers a new tree node. A parent, when given, must already
// exist in the same domain. The new node starts childless.
func (s *Service) CreateGroup(ctx context.Context, req CreateGroupRequest) (*ProjectGroup, error) {
	if err := rbac.AuthorizeInDomain(ctx, "identity.ProjectGroup.create", req.DomainID); err != nil {
		return nil, err
	}
	if err := s.domains.Exists(ctx, req.DomainID); err != nil {
		return nil, err
	}
	if err := validation.ValidateName(req.Name); err != nil {
		return nil, err
	}
	if err := validation.ValidateTags(req.Tags); err != nil {
		return nil, err
	}
	if req.ParentProjectGroupID != "" {
		if _, err := s.groups.GetProjectGroup(ctx, req.DomainID, req.ParentProjectGroupID); err != nil {
			return nil, err
		}
	}
	g := &ProjectGroup{
		ProjectGroupID:       newID("pg"),
		Name:                 req.Name,
		ParentProjectGroupID: req.ParentProjectGroupID,
		Tags:                 req.Tags,
		DomainID:             req.DomainID,
		CreatedAt:            time.Now().UTC(),
	}
	if err := s.groups.CreateProjectGroup(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// UpdateGroupRequest renames and/or reparents a group. ParentProjectGroupID
// is applied only when Reparent is set, so a group can be moved to the root.
type UpdateGroupRequest struct {
	ProjectGroupID       string                 `json:"project_group_id"`
	DomainID             string                 `json:"domain_id"`
	Name                 string                 `json:"name,omitempty"`
	ParentProjectGroupID string                 `json:"parent_project_group_id,omitempty"`
	Reparent             bool                   `json:"-"`
	Tags                 map[string]interface{} `json:"tags,omitempty"`
}

// UpdateGroup applies a rename and/or a reparent. A reparent target must
// exist, must not be the group itself and must not be one of the group's
// descendants.
func (s *Service) UpdateGroup(ctx context.Context, req UpdateGroupRequest) (*ProjectGroup, error) {
	if err := rbac.AuthorizeInDomain(ctx, "identity.ProjectGroup.update", req.DomainID); err != nil {
		return nil, err
	}
	g, err := s.groups.GetProjectGroup(ctx, req.DomainID, req.ProjectGroupID)
	if err != nil {
		return nil, err
	}
	if req.Name != "" {
		if err := validation.ValidateName(req.Name); err != nil {
			return nil, err
		}
		g.Name = req.Name
	}
	if req.Tags != nil {
		if err := validation.ValidateTags(req.Tags); err != nil {
			return nil, err
		}
		g.Tags = req.Tags
	}
	if req.Reparent || req.ParentProjectGroupID != "" {
		if err := s.checkReparent(ctx, g, req.ParentProjectGroupID); err != nil {
			return nil, err
		}
		g.ParentProjectGroupID = req.ParentProjectGroupID
	}
	if err := s.groups.UpdateProjectGroup(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// checkReparent walks the ancestor chain of the proposed parent; finding the
// group itself on that chain means the move would close a cycle
func (s *Service) checkReparent(ctx context.Context, g *ProjectGroup, newParentID string) error {
	if newParentID == "" {
		return nil // becoming a root is always structurally safe
	}
	if newParentID == g.ProjectGroupID {
		return errdefs.Conflict("project group %s cannot be its own parent", g.ProjectGroupID)
	}
	parent, err := s.groups.GetProjectGroup(ctx, g.DomainID, newParentID)
	if err != nil {
		return err
	}
	seen := map[string]struct{}{}
	cur := parent
	for cur.ParentProjectGroupID != "" {
		if cur.ParentProjectGroupID == g.ProjectGroupID {
			return errdefs.Conflict("project group %s is a descendant of %s", newParentID, g.ProjectGroupID)
		}
		if _, dup := seen[cur.ParentProjectGroupID]; dup {
			// Pre-existing corruption; refuse to make it worse.
			return errdefs.Conflict("project group ancestry of %s contains a cycle", newParentID)
		}
		seen[cur.ParentProjectGroupID] = struct{}{}
		cur, err = s.groups.GetProjectGroup(ctx, g.DomainID, cur.ParentProjectGroupID)
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteGroup removes a childless group. Child groups or owned projects
// block deletion with RESOURCE_IN_USE.
func (s *Service) DeleteGroup(ctx context.Context, domainID, groupID string) error {
	if err := rbac.AuthorizeInDomain(ctx, "identity.ProjectGroup.delete", domainID); err != nil {
		return err
	}
	if _, err := s.groups.GetProjectGroup(ctx, domainID, groupID); err != nil {
		return err
	}
	children, err := s.groups.ListChildGroups(ctx, domainID, groupID)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return errdefs.ResourceInUse("project_group", groupID)
	}
	owned, err := s.projects.ListProjectsInGroup(ctx, domainID, groupID)
	if err != nil {
		return err
	}
	if len(owned) > 0 {
		return errdefs.ResourceInUse("project_group", groupID)
	}
	return s.groups.DeleteProjectGroup(ctx, domainID, groupID)
}

// GetGroup fetches one group by id
func (s *Service) GetGroup(ctx context.Context, domainID, groupID string) (*ProjectGroup, error) {
	if err := rbac.AuthorizeInDomain(ctx, "identity.ProjectGroup.get", domainID); err != nil {
		return nil, err
	}
	return s.groups.GetProjectGroup(ctx, domainID, groupID)
}

// ListGroups answers a filtered group query with a total count. Filtering
// parent_project_group_id with eq nil selects root groups.
func (s *Service) ListGroups(ctx context.Context, domainID string, q query.Query) ([]*ProjectGroup, int, error) {
	if err := rbac.AuthorizeInDomain(ctx, "identity.ProjectGroup.list", domainID); err != nil {
		return nil, 0, err
	}
	all, err := s.groups.ListProjectGroups(ctx, domainID)
	if err != nil {
		return nil, 0, err
	}
	records := make([]query.Record, len(all))
	byID := make(map[string]*ProjectGroup, len(all))
	for i, g := range all {
		records[i] = groupRecord(g)
		byID[g.ProjectGroupID] = g
	}
	matched, total := query.Apply(records, q)
	out := make([]*ProjectGroup, 0, len(matched))
	for _, rec := range matched {
		out = append(out, byID[rec["project_group_id"].(string)])
	}
	return out, total, nil
}

// StatGroups runs an aggregation pipeline over the group collection. Each
// record carries the group's memberships under project_group_member so stat
// queries can size nested member fields.
func (s *Service) StatGroups(ctx context.Context, domainID string, q query.StatQuery) ([]query.Record, error) {
	if err := rbac.AuthorizeInDomain(ctx, "identity.ProjectGroup.stat", domainID); err != nil {
		return nil, err
	}
	all, err := s.groups.ListProjectGroups(ctx, domainID)
	if err != nil {
		return nil, err
	}
	records := make([]query.Record, 0, len(all))
	for _, g := range all {
		rec := groupRecord(g)
		members, err := s.memberships.ListMemberships(ctx, domainID, g.ProjectGroupID)
		if err != nil {
			return nil, err
		}
		memberRecs := make([]interface{}, 0, len(members))
		for _, m := range members {
			memberRecs = append(memberRecs, map[string]interface{}{
				"user": map[string]interface{}{"user_id": m.UserID},
			})
		}
		rec["project_group_member"] = memberRecs
		records = append(records, rec)
	}
	return query.Stat(records, q)
}

// groupRecord builds the query engine's attribute view of a group. A root's
// parent field is an explicit nil so eq-nil filters select it.
func groupRecord(g *ProjectGroup) query.Record {
	tags := g.Tags
	if tags == nil {
		tags = map[string]interface{}{}
	}
	rec := query.Record{
		"project_group_id": g.ProjectGroupID,
		"name":             g.Name,
		"tags":             tags,
		"domain_id":        g.DomainID,
		"created_at":       g.CreatedAt,
	}
	if g.ParentProjectGroupID != "" {
		rec["parent_project_group_id"] = g.ParentProjectGroupID
		rec["parent_project_group"] = g.ParentProjectGroupID
	} else {
		rec["parent_project_group_id"] = nil
		rec["parent_project_group"] = nil
	}
	return rec
}

func newID(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
