package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/skyfactor/identity/pkg/httputil"
	"github.com/skyfactor/identity/pkg/query"
	"github.com/skyfactor/identity/pkg/rbac"
)

// RBACHandlers handles policy and role HTTP requests
type RBACHandlers struct {
	registry *rbac.Registry
}

// NewRBACHandlers creates a new RBACHandlers
func NewRBACHandlers(registry *rbac.Registry) *RBACHandlers {
	return &RBACHandlers{registry: registry}
}

// RegisterRoutes registers policy and role routes
func (h *RBACHandlers) RegisterRoutes(router *mux.Router) {
	p := router.PathPrefix("/domains/{domain_id}/policies").Subrouter()
	p.HandleFunc("", h.CreatePolicy).Methods("POST")
	p.HandleFunc("/search", h.SearchPolicies).Methods("POST")
	p.HandleFunc("/stat", h.StatPolicies).Methods("POST")
	p.HandleFunc("/{policy_id}", h.GetPolicy).Methods("GET")
	p.HandleFunc("/{policy_id}", h.UpdatePolicy).Methods("PUT")
	p.HandleFunc("/{policy_id}", h.DeletePolicy).Methods("DELETE")

	r := router.PathPrefix("/domains/{domain_id}/roles").Subrouter()
	r.HandleFunc("", h.CreateRole).Methods("POST")
	r.HandleFunc("/search", h.SearchRoles).Methods("POST")
	r.HandleFunc("/stat", h.StatRoles).Methods("POST")
	r.HandleFunc("/{role_id}", h.GetRole).Methods("GET")
	r.HandleFunc("/{role_id}", h.UpdateRole).Methods("PUT")
	r.HandleFunc("/{role_id}", h.DeleteRole).Methods("DELETE")
}

// CreatePolicy registers a policy in the path domain
func (h *RBACHandlers) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	domainID, ok := httputil.PathStringOrError(w, r, "domain_id")
	if !ok {
		return
	}
	var req rbac.CreatePolicyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.DomainID = domainID
	policy, err := h.registry.CreatePolicy(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, policy)
}

// GetPolicy retrieves a policy
func (h *RBACHandlers) GetPolicy(w http.ResponseWriter, r *http.Request) {
	domainID, policyID, ok := scopedPath(w, r, "policy_id")
	if !ok {
		return
	}
	policy, err := h.registry.GetPolicy(r.Context(), domainID, policyID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, policy)
}

// UpdatePolicy applies the non-zero fields of the body
func (h *RBACHandlers) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	domainID, policyID, ok := scopedPath(w, r, "policy_id")
	if !ok {
		return
	}
	var req rbac.UpdatePolicyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.DomainID = domainID
	req.PolicyID = policyID
	policy, err := h.registry.UpdatePolicy(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, policy)
}

// DeletePolicy removes a policy. Roles referencing it are not touched; they
// fail at resolution time until repaired.
func (h *RBACHandlers) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	domainID, policyID, ok := scopedPath(w, r, "policy_id")
	if !ok {
		return
	}
	if err := h.registry.DeletePolicy(r.Context(), domainID, policyID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// SearchPolicies lists policies matching a query
func (h *RBACHandlers) SearchPolicies(w http.ResponseWriter, r *http.Request) {
	domainID, ok := httputil.PathStringOrError(w, r, "domain_id")
	if !ok {
		return
	}
	var req searchRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	results, total, err := h.registry.ListPolicies(r.Context(), domainID, req.Query)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteList(w, results, total)
}

// StatPolicies aggregates policies
func (h *RBACHandlers) StatPolicies(w http.ResponseWriter, r *http.Request) {
	domainID, ok := httputil.PathStringOrError(w, r, "domain_id")
	if !ok {
		return
	}
	var q query.StatQuery
	if !httputil.ParseJSONOrError(w, r, &q) {
		return
	}
	results, err := h.registry.StatPolicies(r.Context(), domainID, q)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"results": results})
}

// CreateRole registers a role in the path domain
func (h *RBACHandlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	domainID, ok := httputil.PathStringOrError(w, r, "domain_id")
	if !ok {
		return
	}
	var req rbac.CreateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.DomainID = domainID
	role, err := h.registry.CreateRole(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, role)
}

// GetRole retrieves a role
func (h *RBACHandlers) GetRole(w http.ResponseWriter, r *http.Request) {
	domainID, roleID, ok := scopedPath(w, r, "role_id")
	if !ok {
		return
	}
	role, err := h.registry.GetRole(r.Context(), domainID, roleID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// UpdateRole applies the non-zero fields of the body
func (h *RBACHandlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	domainID, roleID, ok := scopedPath(w, r, "role_id")
	if !ok {
		return
	}
	var req rbac.UpdateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.DomainID = domainID
	req.RoleID = roleID
	role, err := h.registry.UpdateRole(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// DeleteRole removes a role unless users still hold it
func (h *RBACHandlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	domainID, roleID, ok := scopedPath(w, r, "role_id")
	if !ok {
		return
	}
	if err := h.registry.DeleteRole(r.Context(), domainID, roleID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// SearchRoles lists roles matching a query
func (h *RBACHandlers) SearchRoles(w http.ResponseWriter, r *http.Request) {
	domainID, ok := httputil.PathStringOrError(w, r, "domain_id")
	if !ok {
		return
	}
	var req searchRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	results, total, err := h.registry.ListRoles(r.Context(), domainID, req.Query)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteList(w, results, total)
}

// StatRoles aggregates roles
func (h *RBACHandlers) StatRoles(w http.ResponseWriter, r *http.Request) {
	domainID, ok := httputil.PathStringOrError(w, r, "domain_id")
	if !ok {
		return
	}
	var q query.StatQuery
	if !httputil.ParseJSONOrError(w, r, &q) {
		return
	}
	results, err := h.registry.StatRoles(r.Context(), domainID, q)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"results": results})
}
