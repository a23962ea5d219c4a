package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/skyfactor/identity/pkg/httputil"
	"github.com/skyfactor/identity/pkg/providers"
	"github.com/skyfactor/identity/pkg/query"
)

// ProviderHandlers handles identity provider HTTP requests
type ProviderHandlers struct {
	providers *providers.Service
}

// NewProviderHandlers creates a new ProviderHandlers
func NewProviderHandlers(service *providers.Service) *ProviderHandlers {
	return &ProviderHandlers{providers: service}
}

// RegisterRoutes registers provider routes. Providers are global, not
// domain scoped.
func (h *ProviderHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/providers", h.Create).Methods("POST")
	router.HandleFunc("/providers/search", h.Search).Methods("POST")
	router.HandleFunc("/providers/stat", h.Stat).Methods("POST")
	router.HandleFunc("/providers/{provider}", h.Get).Methods("GET")
	router.HandleFunc("/providers/{provider}", h.Update).Methods("PUT")
	router.HandleFunc("/providers/{provider}", h.Delete).Methods("DELETE")
}

// Create registers a provider
func (h *ProviderHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req providers.CreateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	provider, err := h.providers.Create(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, provider)
}

// Get retrieves a provider by key
func (h *ProviderHandlers) Get(w http.ResponseWriter, r *http.Request) {
	key, ok := httputil.PathStringOrError(w, r, "provider")
	if !ok {
		return
	}
	provider, err := h.providers.Get(r.Context(), key)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, provider)
}

// Update applies the non-nil fields of the body
func (h *ProviderHandlers) Update(w http.ResponseWriter, r *http.Request) {
	key, ok := httputil.PathStringOrError(w, r, "provider")
	if !ok {
		return
	}
	var req providers.UpdateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.Provider = key
	provider, err := h.providers.Update(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, provider)
}

// Delete removes a provider
func (h *ProviderHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	key, ok := httputil.PathStringOrError(w, r, "provider")
	if !ok {
		return
	}
	if err := h.providers.Delete(r.Context(), key); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

type searchProvidersRequest struct {
	Query    query.Query `json:"query"`
	Provider string      `json:"provider,omitempty"`
}

// Search lists providers matching a query with a key shortcut
func (h *ProviderHandlers) Search(w http.ResponseWriter, r *http.Request) {
	var req searchProvidersRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	results, total, err := h.providers.List(r.Context(), req.Provider, req.Query)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteList(w, results, total)
}

// Stat aggregates providers
func (h *ProviderHandlers) Stat(w http.ResponseWriter, r *http.Request) {
	var q query.StatQuery
	if !httputil.ParseJSONOrError(w, r, &q) {
		return
	}
	results, err := h.providers.Stat(r.Context(), q)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"results": results})
}
