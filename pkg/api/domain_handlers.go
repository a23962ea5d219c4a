package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/skyfactor/identity/pkg/domains"
	"github.com/skyfactor/identity/pkg/httputil"
	"github.com/skyfactor/identity/pkg/query"
)

// DomainHandlers handles domain-related HTTP requests
type DomainHandlers struct {
	domains *domains.Service
}

// NewDomainHandlers creates a new DomainHandlers
func NewDomainHandlers(service *domains.Service) *DomainHandlers {
	return &DomainHandlers{domains: service}
}

// RegisterRoutes registers domain routes
func (h *DomainHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/domains", h.Create).Methods("POST")
	router.HandleFunc("/domains/search", h.Search).Methods("POST")
	router.HandleFunc("/domains/{domain_id}", h.Get).Methods("GET")
	router.HandleFunc("/domains/{domain_id}", h.Delete).Methods("DELETE")
}

type createDomainRequest struct {
	Name   string                 `json:"name"`
	Config map[string]interface{} `json:"config,omitempty"`
}

// Create registers a new domain
func (h *DomainHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req createDomainRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	domain, err := h.domains.Create(r.Context(), req.Name, req.Config)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, domain)
}

// Get retrieves a domain by id
func (h *DomainHandlers) Get(w http.ResponseWriter, r *http.Request) {
	domainID, ok := httputil.PathStringOrError(w, r, "domain_id")
	if !ok {
		return
	}
	domain, err := h.domains.Get(r.Context(), domainID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, domain)
}

// Delete removes a domain
func (h *DomainHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	domainID, ok := httputil.PathStringOrError(w, r, "domain_id")
	if !ok {
		return
	}
	if err := h.domains.Delete(r.Context(), domainID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

type searchRequest struct {
	Query query.Query `json:"query"`
}

// Search lists domains matching a query
func (h *DomainHandlers) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	results, total, err := h.domains.List(r.Context(), req.Query)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteList(w, results, total)
}
