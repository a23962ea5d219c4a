// Package api exposes the identity services over HTTP. Handlers are thin:
// they decode the request, call the service and translate classified errors
// to status codes. Authorization happens inside the services against the
// principal the auth middleware attached.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/skyfactor/identity/pkg/domains"
	"github.com/skyfactor/identity/pkg/httputil"
	"github.com/skyfactor/identity/pkg/observability"
	"github.com/skyfactor/identity/pkg/projects"
	"github.com/skyfactor/identity/pkg/providers"
	"github.com/skyfactor/identity/pkg/rbac"
	"github.com/skyfactor/identity/pkg/users"
)

// Deps carries everything the server needs. Auth wraps the /v1 API surface;
// health and metrics endpoints stay outside it. Metrics and Health may be
// nil.
type Deps struct {
	Domains   *domains.Service
	Users     *users.Service
	Providers *providers.Service
	Projects  *projects.Service
	Registry  *rbac.Registry
	Auth      func(http.Handler) http.Handler
	Metrics   *observability.Metrics
	Health    *observability.HealthChecker
}

// maxRequestBody bounds every /v1 request body. Query DSL payloads are the
// largest legitimate bodies and stay far below this.
const maxRequestBody = 1 << 20

// Server is the HTTP front of the identity service
type Server struct {
	router *mux.Router
}

// NewServer builds the router and registers all routes
func NewServer(deps Deps) *Server {
	root := mux.NewRouter()

	if deps.Health != nil {
		root.HandleFunc("/healthz", deps.Health.Liveness).Methods("GET")
		root.HandleFunc("/readyz", deps.Health.Readiness).Methods("GET")
	}

	v1 := root.PathPrefix("/v1").Subrouter()
	NewDomainHandlers(deps.Domains).RegisterRoutes(v1)
	NewUserHandlers(deps.Users).RegisterRoutes(v1)
	NewRBACHandlers(deps.Registry).RegisterRoutes(v1)
	NewProviderHandlers(deps.Providers).RegisterRoutes(v1)
	NewProjectHandlers(deps.Projects).RegisterRoutes(v1)

	middlewares := []mux.MiddlewareFunc{
		httputil.RecoveryMiddleware,
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware,
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(maxRequestBody),
	}
	if deps.Metrics != nil {
		middlewares = append(middlewares, observability.HTTPMetricsMiddleware(deps.Metrics, routeTemplate))
	}
	if deps.Auth != nil {
		middlewares = append(middlewares, deps.Auth)
	}
	v1.Use(middlewares...)

	return &Server{router: root}
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// routeTemplate reports the mux route template matched by the request, so
// metric labels stay bounded
func routeTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	template, err := route.GetPathTemplate()
	if err != nil {
		return ""
	}
	return template
}
