package projects

import (
	"context"
	"time"

	"github.com/skyfactor/identity/pkg/errdefs"
	"github.com/skyfactor/identity/pkg/query"
	"github.com/skyfactor/identity/pkg/rbac"
	"github.com/skyfactor/identity/pkg/validation"
)

// CreateProjectRequest carries the attributes accepted at project creation
type CreateProjectRequest struct {
	Name           string                 `json:"name"`
	ProjectGroupID string                 `json:"project_group_id"`
	Tags           map[string]interface{} `json:"tags,omitempty"`
	DomainID       string                 `json:"domain_id"`
}

// CreateProject registers a project under an existing group
func (s *Service) CreateProject(ctx context.Context, req CreateProjectRequest) (*Project, error) {
	if err := rbac.AuthorizeInDomain(ctx, "identity.Project.create", req.DomainID); err != nil {
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
	if req.ProjectGroupID == "" {
		return nil, errdefs.Validation("project_group_id is required")
	}
	if _, err := s.groups.GetProjectGroup(ctx, req.DomainID, req.ProjectGroupID); err != nil {
		return nil, err
	}
	p := &Project{
		ProjectID:      newID("project"),
		Name:           req.Name,
		ProjectGroupID: req.ProjectGroupID,
		Tags:           req.Tags,
		DomainID:       req.DomainID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.projects.CreateProject(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateProjectRequest renames, retags or moves a project between groups
type UpdateProjectRequest struct {
	ProjectID      string                 `json:"project_id"`
	DomainID       string                 `json:"domain_id"`
	Name           string                 `json:"name,omitempty"`
	ProjectGroupID string                 `json:"project_group_id,omitempty"`
	Tags           map[string]interface{} `json:"tags,omitempty"`
}

// UpdateProject applies the non-zero fields of the request
func (s *Service) UpdateProject(ctx context.Context, req UpdateProjectRequest) (*Project, error) {
	if err := rbac.AuthorizeInDomain(ctx, "identity.Project.update", req.DomainID); err != nil {
		return nil, err
	}
	p, err := s.projects.GetProject(ctx, req.DomainID, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if req.Name != "" {
		if err := validation.ValidateName(req.Name); err != nil {
			return nil, err
		}
		p.Name = req.Name
	}
	if req.ProjectGroupID != "" {
		if _, err := s.groups.GetProjectGroup(ctx, req.DomainID, req.ProjectGroupID); err != nil {
			return nil, err
		}
		p.ProjectGroupID = req.ProjectGroupID
	}
	if req.Tags != nil {
		if err := validation.ValidateTags(req.Tags); err != nil {
			return nil, err
		}
		p.Tags = req.Tags
	}
	if err := s.projects.UpdateProject(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeleteProject removes a project; projects own no children so deletion is
// never blocked
func (s *Service) DeleteProject(ctx context.Context, domainID, projectID string) error {
	if err := rbac.AuthorizeInDomain(ctx, "identity.Project.delete", domainID); err != nil {
		return err
	}
	return s.projects.DeleteProject(ctx, domainID, projectID)
}

// GetProject fetches one project by id
func (s *Service) GetProject(ctx context.Context, domainID, projectID string) (*Project, error) {
	if err := rbac.AuthorizeInDomain(ctx, "identity.Project.get", domainID); err != nil {
		return nil, err
	}
	return s.projects.GetProject(ctx, domainID, projectID)
}

// ListProjects answers a filtered query over every project in the domain
func (s *Service) ListProjects(ctx context.Context, domainID string, q query.Query) ([]*Project, int, error) {
	if err := rbac.AuthorizeInDomain(ctx, "identity.Project.list", domainID); err != nil {
		return nil, 0, err
	}
	all, err := s.projects.ListProjects(ctx, domainID)
	if err != nil {
		return nil, 0, err
	}
	return applyProjectQuery(all, q)
}

// ListGroupProjects returns the projects of one group; recursive includes
// every transitive descendant group. The walk uses an explicit stack and
// visits each descendant exactly once.
func (s *Service) ListGroupProjects(ctx context.Context, domainID, groupID string, recursive bool, q query.Query) ([]*Project, int, error) {
	if err := rbac.AuthorizeInDomain(ctx, "identity.ProjectGroup.list_projects", domainID); err != nil {
		return nil, 0, err
	}
	if _, err := s.groups.GetProjectGroup(ctx, domainID, groupID); err != nil {
		return nil, 0, err
	}

	groupIDs := []string{groupID}
	if recursive {
		visited := map[string]struct{}{groupID: {}}
		stack := []string{groupID}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			children, err := s.groups.ListChildGroups(ctx, domainID, cur)
			if err != nil {
				return nil, 0, err
			}
			for _, child := range children {
				if _, seen := visited[child.ProjectGroupID]; seen {
					continue
				}
				visited[child.ProjectGroupID] = struct{}{}
				groupIDs = append(groupIDs, child.ProjectGroupID)
				stack = append(stack, child.ProjectGroupID)
			}
		}
	}

	var all []*Project
	for _, gid := range groupIDs {
		owned, err := s.projects.ListProjectsInGroup(ctx, domainID, gid)
		if err != nil {
			return nil, 0, err
		}
		all = append(all, owned...)
	}
	return applyProjectQuery(all, q)
}

// StatProjects runs an aggregation pipeline over the project collection
func (s *Service) StatProjects(ctx context.Context, domainID string, q query.StatQuery) ([]query.Record, error) {
	if err := rbac.AuthorizeInDomain(ctx, "identity.Project.stat", domainID); err != nil {
		return nil, err
	}
	all, err := s.projects.ListProjects(ctx, domainID)
	if err != nil {
		return nil, err
	}
	records := make([]query.Record, len(all))
	for i, p := range all {
		records[i] = projectRecord(p)
	}
	return query.Stat(records, q)
}

func applyProjectQuery(all []*Project, q query.Query) ([]*Project, int, error) {
	records := make([]query.Record, len(all))
	byID := make(map[string]*Project, len(all))
	for i, p := range all {
		records[i] = projectRecord(p)
		byID[p.ProjectID] = p
	}
	matched, total := query.Apply(records, q)
	out := make([]*Project, 0, len(matched))
	for _, rec := range matched {
		out = append(out, byID[rec["project_id"].(string)])
	}
	return out, total, nil
}

func projectRecord(p *Project) query.Record {
	tags := p.Tags
	if tags == nil {
		tags = map[string]interface{}{}
	}
	return query.Record{
		"project_id":       p.ProjectID,
		"name":             p.Name,
		"project_group_id": p.ProjectGroupID,
		"tags":             tags,
		"domain_id":        p.DomainID,
		"created_at":       p.CreatedAt,
	}
}
