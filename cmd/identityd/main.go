// identityd is the identity service daemon. It wires the configured storage
// backend into the domain services and serves the HTTP API plus a separate
// health/metrics listener.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/skyfactor/identity/pkg/api"
	"github.com/skyfactor/identity/pkg/config"
	"github.com/skyfactor/identity/pkg/domains"
	"github.com/skyfactor/identity/pkg/middleware"
	"github.com/skyfactor/identity/pkg/observability"
	"github.com/skyfactor/identity/pkg/projects"
	"github.com/skyfactor/identity/pkg/providers"
	"github.com/skyfactor/identity/pkg/rbac"
	"github.com/skyfactor/identity/pkg/storage"
	"github.com/skyfactor/identity/pkg/storage/memory"
	"github.com/skyfactor/identity/pkg/storage/sqldb"
	"github.com/skyfactor/identity/pkg/users"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("identityd exited with error")
	}
	log.Info("identityd stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	deps, cleanup, err := buildDeps(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	server := api.NewServer(deps.api)

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", deps.health.Liveness)
	healthMux.HandleFunc("/readyz", deps.health.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.MetricsHandler(deps.registry))
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", apiServer.Addr).Info("api server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("api server shutdown")
		}
		return healthServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// serverDeps bundles the wired components run needs
type serverDeps struct {
	api      api.Deps
	health   *observability.HealthChecker
	registry *prometheus.Registry
}

// identityStore is the union of the service store contracts, implemented by
// both the memory and sql backends
type identityStore interface {
	domains.Store
	users.Store
	providers.Store
	projects.GroupStore
	projects.ProjectStore
	projects.MembershipStore
	rbac.PolicyStore
	rbac.RoleStore
	rbac.RoleReferenceCounter
	rbac.UserRoleSource
}

func buildDeps(ctx context.Context, cfg *config.Config, log *logrus.Logger) (serverDeps, func(), error) {
	cleanups := []func(){}
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	var store identityStore
	pingers := map[string]observability.Pinger{}
	switch cfg.Storage.Backend {
	case storage.BackendMemory:
		log.Warn("using in-memory storage; data will not survive a restart")
		store = memory.NewStore()
	case storage.BackendPostgres, storage.BackendSQLite:
		sqlStore, err := sqldb.Open(ctx, cfg.Storage)
		if err != nil {
			return serverDeps{}, cleanup, err
		}
		cleanups = append(cleanups, func() { sqlStore.Close() })
		store = sqlStore
		pingers["database"] = sqlStore
		log.WithField("backend", cfg.Storage.Backend).Info("storage ready")
	}

	registry, err := rbac.NewRegistry(store, store, store)
	if err != nil {
		return serverDeps{}, cleanup, err
	}

	var decisions *rbac.DecisionCache
	if cfg.Storage.RedisURL != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.RedisURL,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		})
		cleanups = append(cleanups, func() { client.Close() })
		decisions = rbac.NewDecisionCache(client, cfg.Storage.DecisionTTL)
		pingers["redis"] = redisPinger{client}
		log.Info("decision cache enabled")
	}

	domainSvc := domains.NewService(store)
	userSvc := users.NewService(store, registry, domainSvc, decisionInvalidator(decisions))
	providerSvc := providers.NewService(store)
	projectSvc := projects.NewService(store, store, store, userAdapter{store}, registry, domainSvc)

	if err := providerSvc.InstallDefaults(systemContext(ctx)); err != nil {
		return serverDeps{}, cleanup, err
	}

	checker := rbac.NewChecker(registry, store, decisions)

	var auth func(http.Handler) http.Handler
	if cfg.Auth.Mode == "header" {
		authenticator := &middleware.HeaderAuthenticator{
			DomainHeader: cfg.Auth.DomainHeader,
			UserHeader:   cfg.Auth.UserHeader,
		}
		auth = middleware.NewAuthMiddleware(authenticator, checker, false).Handler
	}

	promRegistry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(promRegistry)
	}
	health := observability.NewHealthChecker(pingers)

	return serverDeps{
		api: api.Deps{
			Domains:   domainSvc,
			Users:     userSvc,
			Providers: providerSvc,
			Projects:  projectSvc,
			Registry:  registry,
			Auth:      auth,
			Metrics:   metrics,
			Health:    health,
		},
		health:   health,
		registry: promRegistry,
	}, cleanup, nil
}

// userAdapter narrows the user store to the membership view the project
// service needs
type userAdapter struct {
	store users.Store
}

func (u userAdapter) Get(ctx context.Context, domainID, userID string) (projects.UserRef, error) {
	user, err := u.store.GetUser(ctx, domainID, userID)
	if err != nil {
		return projects.UserRef{}, err
	}
	return projects.UserRef{UserID: user.UserID, Name: user.Name, State: string(user.State)}, nil
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// decisionInvalidator adapts the nilable cache to the users service
// collaborator without handing it a typed nil
func decisionInvalidator(cache *rbac.DecisionCache) users.DecisionInvalidator {
	if cache == nil {
		return nil
	}
	return cache
}

// systemContext carries an unscoped principal for bootstrap work such as
// seeding default providers
func systemContext(ctx context.Context) context.Context {
	perms, err := rbac.ParsePermissions([]string{"identity.Provider.*"})
	if err != nil {
		panic(err)
	}
	return rbac.WithPrincipal(ctx, &rbac.Principal{
		UserID:      "system",
		Permissions: perms,
	})
}
