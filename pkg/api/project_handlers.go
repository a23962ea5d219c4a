package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/skyfactor/identity/pkg/httputil"
	"github.com/skyfactor/identity/pkg/projects"
	"github.com/skyfactor/identity/pkg/query"
)

// ProjectHandlers handles project group, project and membership HTTP
// requests
type ProjectHandlers struct {
	projects *projects.Service
}

// NewProjectHandlers creates a new ProjectHandlers
func NewProjectHandlers(service *projects.Service) *ProjectHandlers {
	return &ProjectHandlers{projects: service}
}

// RegisterRoutes registers project group and project routes
func (h *ProjectHandlers) RegisterRoutes(router *mux.Router) {
	g := router.PathPrefix("/domains/{domain_id}/project-groups").Subrouter()
	g.HandleFunc("", h.CreateGroup).Methods("POST")
	g.HandleFunc("/search", h.SearchGroups).Methods("POST")
	g.HandleFunc("/stat", h.StatGroups).Methods("POST")
	g.HandleFunc("/{project_group_id}", h.GetGroup).Methods("GET")
	g.HandleFunc("/{project_group_id}", h.UpdateGroup).Methods("PUT")
	g.HandleFunc("/{project_group_id}", h.DeleteGroup).Methods("DELETE")
	g.HandleFunc("/{project_group_id}/members", h.AddMember).Methods("POST")
	g.HandleFunc("/{project_group_id}/members/search", h.SearchMembers).Methods("POST")
	g.HandleFunc("/{project_group_id}/members/{user_id}", h.ModifyMember).Methods("PUT")
	g.HandleFunc("/{project_group_id}/members/{user_id}", h.RemoveMember).Methods("DELETE")
	g.HandleFunc("/{project_group_id}/projects/search", h.SearchGroupProjects).Methods("POST")

	p := router.PathPrefix("/domains/{domain_id}/projects").Subrouter()
	p.HandleFunc("", h.CreateProject).Methods("POST")
	p.HandleFunc("/search", h.SearchProjects).Methods("POST")
	p.HandleFunc("/stat", h.StatProjects).Methods("POST")
	p.HandleFunc("/{project_id}", h.GetProject).Methods("GET")
	p.HandleFunc("/{project_id}", h.UpdateProject).Methods("PUT")
	p.HandleFunc("/{project_id}", h.DeleteProject).Methods("DELETE")
}

// CreateGroup registers a project group in the path domain
func (h *ProjectHandlers) CreateGroup(w http.ResponseWriter, r *http.Request) {
	domainID, ok := httputil.PathStringOrError(w, r, "domain_id")
	if !ok {
		return
	}
	var req projects.CreateGroupRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.DomainID = domainID
	group, err := h.projects.CreateGroup(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, group)
}

// GetGroup retrieves a project group
func (h *ProjectHandlers) GetGroup(w http.ResponseWriter, r *http.Request) {
	domainID, groupID, ok := scopedPath(w, r, "project_group_id")
	if !ok {
		return
	}
	group, err := h.projects.GetGroup(r.Context(), domainID, groupID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, group)
}

type updateGroupRequest struct {
	Name                 string                 `json:"name,omitempty"`
	ParentProjectGroupID string                 `json:"parent_project_group_id,omitempty"`
	ReleaseParent        bool                   `json:"release_parent,omitempty"`
	Tags                 map[string]interface{} `json:"tags,omitempty"`
}

// UpdateGroup renames and/or reparents a group. release_parent moves the
// group to the root; an empty parent without it leaves the parent alone.
func (h *ProjectHandlers) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	domainID, groupID, ok := scopedPath(w, r, "project_group_id")
	if !ok {
		return
	}
	var req updateGroupRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	group, err := h.projects.UpdateGroup(r.Context(), projects.UpdateGroupRequest{
		ProjectGroupID:       groupID,
		DomainID:             domainID,
		Name:                 req.Name,
		ParentProjectGroupID: req.ParentProjectGroupID,
		Reparent:             req.ReleaseParent,
		Tags:                 req.Tags,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, group)
}

// DeleteGroup removes a childless group
func (h *ProjectHandlers) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	domainID, groupID, ok := scopedPath(w, r, "project_group_id")
	if !ok {
		return
	}
	if err := h.projects.DeleteGroup(r.Context(), domainID, groupID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// SearchGroups lists project groups matching a query
func (h *ProjectHandlers) SearchGroups(w http.ResponseWriter, r *http.Request) {
	domainID, ok := httputil.PathStringOrError(w, r, "domain_id")
	if !ok {
		return
	}
	var req searchRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	results, total, err := h.projects.ListGroups(r.Context(), domainID, req.Query)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteList(w, results, total)
}

// StatGroups aggregates project groups, members included
func (h *ProjectHandlers) StatGroups(w http.ResponseWriter, r *http.Request) {
	domainID, ok := httputil.PathStringOrError(w, r, "domain_id")
	if !ok {
		return
	}
	var q query.StatQuery
	if !httputil.ParseJSONOrError(w, r, &q) {
		return
	}
	results, err := h.projects.StatGroups(r.Context(), domainID, q)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"results": results})
}

type addMemberRequest struct {
	UserID  string   `json:"user_id"`
	Labels  []string `json:"labels,omitempty"`
	RoleIDs []string `json:"role_ids,omitempty"`
}

// AddMember adds a user to a project group
func (h *ProjectHandlers) AddMember(w http.ResponseWriter, r *http.Request) {
	domainID, groupID, ok := scopedPath(w, r, "project_group_id")
	if !ok {
		return
	}
	var req addMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	member, err := h.projects.AddMember(r.Context(), domainID, groupID, req.UserID, req.Labels, req.RoleIDs)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, member)
}

type modifyMemberRequest struct {
	Labels  []string `json:"labels,omitempty"`
	RoleIDs []string `json:"role_ids,omitempty"`
}

// ModifyMember replaces the membership's labels and roles. Absent fields
// keep their current value.
func (h *ProjectHandlers) ModifyMember(w http.ResponseWriter, r *http.Request) {
	domainID, groupID, ok := scopedPath(w, r, "project_group_id")
	if !ok {
		return
	}
	userID, ok := httputil.PathStringOrError(w, r, "user_id")
	if !ok {
		return
	}
	var req modifyMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	member, err := h.projects.ModifyMember(r.Context(), domainID, groupID, userID, req.Labels, req.RoleIDs)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, member)
}

// RemoveMember removes a user from a project group
func (h *ProjectHandlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	domainID, groupID, ok := scopedPath(w, r, "project_group_id")
	if !ok {
		return
	}
	userID, ok := httputil.PathStringOrError(w, r, "user_id")
	if !ok {
		return
	}
	if err := h.projects.RemoveMember(r.Context(), domainID, groupID, userID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

type searchMembersRequest struct {
	Query  query.Query `json:"query"`
	UserID string      `json:"user_id,omitempty"`
}

// SearchMembers lists the group's memberships joined with user display
// fields
func (h *ProjectHandlers) SearchMembers(w http.ResponseWriter, r *http.Request) {
	domainID, groupID, ok := scopedPath(w, r, "project_group_id")
	if !ok {
		return
	}
	var req searchMembersRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	results, total, err := h.projects.ListMembers(r.Context(), domainID, groupID, projects.ListMembersParams{
		Query:  req.Query,
		UserID: req.UserID,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteList(w, results, total)
}

type searchGroupProjectsRequest struct {
	Query     query.Query `json:"query"`
	Recursive bool        `json:"recursive,omitempty"`
}

// SearchGroupProjects lists a group's projects, recursing into descendant
// groups when asked
func (h *ProjectHandlers) SearchGroupProjects(w http.ResponseWriter, r *http.Request) {
	domainID, groupID, ok := scopedPath(w, r, "project_group_id")
	if !ok {
		return
	}
	var req searchGroupProjectsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	results, total, err := h.projects.ListGroupProjects(r.Context(), domainID, groupID, req.Recursive, req.Query)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteList(w, results, total)
}

// CreateProject registers a project under an existing group
func (h *ProjectHandlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	domainID, ok := httputil.PathStringOrError(w, r, "domain_id")
	if !ok {
		return
	}
	var req projects.CreateProjectRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.DomainID = domainID
	project, err := h.projects.CreateProject(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, project)
}

// GetProject retrieves a project
func (h *ProjectHandlers) GetProject(w http.ResponseWriter, r *http.Request) {
	domainID, projectID, ok := scopedPath(w, r, "project_id")
	if !ok {
		return
	}
	project, err := h.projects.GetProject(r.Context(), domainID, projectID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, project)
}

// UpdateProject applies the non-zero fields of the body, moving the project
// between groups when project_group_id is set
func (h *ProjectHandlers) UpdateProject(w http.ResponseWriter, r *http.Request) {
	domainID, projectID, ok := scopedPath(w, r, "project_id")
	if !ok {
		return
	}
	var req projects.UpdateProjectRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.DomainID = domainID
	req.ProjectID = projectID
	project, err := h.projects.UpdateProject(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, project)
}

// DeleteProject removes a project
func (h *ProjectHandlers) DeleteProject(w http.ResponseWriter, r *http.Request) {
	domainID, projectID, ok := scopedPath(w, r, "project_id")
	if !ok {
		return
	}
	if err := h.projects.DeleteProject(r.Context(), domainID, projectID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// SearchProjects lists projects matching a query
func (h *ProjectHandlers) SearchProjects(w http.ResponseWriter, r *http.Request) {
	domainID, ok := httputil.PathStringOrError(w, r, "domain_id")
	if !ok {
		return
	}
	var req searchRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	results, total, err := h.projects.ListProjects(r.Context(), domainID, req.Query)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteList(w, results, total)
}

// StatProjects aggregates projects
func (h *ProjectHandlers) StatProjects(w http.ResponseWriter, r *http.Request) {
	domainID, ok := httputil.PathStringOrError(w, r, "domain_id")
	if !ok {
		return
	}
	var q query.StatQuery
	if !httputil.ParseJSONOrError(w, r, &q) {
		return
	}
	results, err := h.projects.StatProjects(r.Context(), domainID, q)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"results": results})
}
