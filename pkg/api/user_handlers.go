package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/skyfactor/identity/pkg/httputil"
	"github.com/skyfactor/identity/pkg/query"
	"github.com/skyfactor/identity/pkg/users"
)

// UserHandlers handles user-related HTTP requests
type UserHandlers struct {
	users *users.Service
}

// NewUserHandlers creates a new UserHandlers
func NewUserHandlers(service *users.Service) *UserHandlers {
	return &UserHandlers{users: service}
}

// RegisterRoutes registers user routes
func (h *UserHandlers) RegisterRoutes(router *mux.Router) {
	r := router.PathPrefix("/domains/{domain_id}/users").Subrouter()
	r.HandleFunc("", h.Create).Methods("POST")
	r.HandleFunc("/search", h.Search).Methods("POST")
	r.HandleFunc("/stat", h.Stat).Methods("POST")
	r.HandleFunc("/find", h.Find).Methods("GET")
	r.HandleFunc("/{user_id}", h.Get).Methods("GET")
	r.HandleFunc("/{user_id}", h.Update).Methods("PUT")
	r.HandleFunc("/{user_id}", h.Delete).Methods("DELETE")
	r.HandleFunc("/{user_id}/enable", h.Enable).Methods("POST")
	r.HandleFunc("/{user_id}/disable", h.Disable).Methods("POST")
	r.HandleFunc("/{user_id}/roles", h.UpdateRole).Methods("PUT")
}

// Create registers a user in the path domain
func (h *UserHandlers) Create(w http.ResponseWriter, r *http.Request) {
	domainID, ok := httputil.PathStringOrError(w, r, "domain_id")
	if !ok {
		return
	}
	var req users.CreateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.DomainID = domainID
	user, err := h.users.Create(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, user)
}

// Get retrieves a user
func (h *UserHandlers) Get(w http.ResponseWriter, r *http.Request) {
	domainID, userID, ok := scopedPath(w, r, "user_id")
	if !ok {
		return
	}
	user, err := h.users.Get(r.Context(), domainID, userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// Update applies the non-zero fields of the body to the user
func (h *UserHandlers) Update(w http.ResponseWriter, r *http.Request) {
	domainID, userID, ok := scopedPath(w, r, "user_id")
	if !ok {
		return
	}
	var req users.UpdateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.DomainID = domainID
	req.UserID = userID
	user, err := h.users.Update(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// Delete removes a user
func (h *UserHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	domainID, userID, ok := scopedPath(w, r, "user_id")
	if !ok {
		return
	}
	if err := h.users.Delete(r.Context(), domainID, userID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// Enable moves the user to the ENABLED state
func (h *UserHandlers) Enable(w http.ResponseWriter, r *http.Request) {
	domainID, userID, ok := scopedPath(w, r, "user_id")
	if !ok {
		return
	}
	user, err := h.users.Enable(r.Context(), domainID, userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// Disable moves the user to the DISABLED state
func (h *UserHandlers) Disable(w http.ResponseWriter, r *http.Request) {
	domainID, userID, ok := scopedPath(w, r, "user_id")
	if !ok {
		return
	}
	user, err := h.users.Disable(r.Context(), domainID, userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

type updateRoleRequest struct {
	RoleIDs []string `json:"role_ids"`
}

// UpdateRole replaces the user's role bindings wholesale
func (h *UserHandlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	domainID, userID, ok := scopedPath(w, r, "user_id")
	if !ok {
		return
	}
	var req updateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	user, err := h.users.UpdateRole(r.Context(), domainID, userID, req.RoleIDs)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

type searchUsersRequest struct {
	Query  query.Query `json:"query"`
	UserID string      `json:"user_id,omitempty"`
	Group  string      `json:"group,omitempty"`
	RoleID string      `json:"role_id,omitempty"`
	State  users.State `json:"state,omitempty"`
}

// Search lists users matching a query with shortcut filters
func (h *UserHandlers) Search(w http.ResponseWriter, r *http.Request) {
	domainID, ok := httputil.PathStringOrError(w, r, "domain_id")
	if !ok {
		return
	}
	var req searchUsersRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	results, total, err := h.users.List(r.Context(), domainID, users.ListParams{
		Query:  req.Query,
		UserID: req.UserID,
		Group:  req.Group,
		RoleID: req.RoleID,
		State:  req.State,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteList(w, results, total)
}

// Find searches users by id or name prefix
func (h *UserHandlers) Find(w http.ResponseWriter, r *http.Request) {
	domainID, ok := httputil.PathStringOrError(w, r, "domain_id")
	if !ok {
		return
	}
	results, total, err := h.users.Find(r.Context(), domainID, r.URL.Query().Get("search"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteList(w, results, total)
}

// Stat aggregates users by the grouped keys of the body
func (h *UserHandlers) Stat(w http.ResponseWriter, r *http.Request) {
	domainID, ok := httputil.PathStringOrError(w, r, "domain_id")
	if !ok {
		return
	}
	var q query.StatQuery
	if !httputil.ParseJSONOrError(w, r, &q) {
		return
	}
	results, err := h.users.Stat(r.Context(), domainID, q)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"results": results})
}

// scopedPath extracts the domain id plus one more path variable
func scopedPath(w http.ResponseWriter, r *http.Request, name string) (string, string, bool) {
	domainID, ok := httputil.PathStringOrError(w, r, "domain_id")
	if !ok {
		return "", "", false
	}
	value, ok := httputil.PathStringOrError(w, r, name)
	if !ok {
		return "", "", false
	}
	return domainID, value, true
}
