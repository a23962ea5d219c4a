// identity-aggregator periodically snapshots per-domain statistics (users
// by state, role and project counts) and emits them as structured log
// records for downstream collection.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/skyfactor/identity/pkg/config"
	"github.com/skyfactor/identity/pkg/domains"
	"github.com/skyfactor/identity/pkg/projects"
	"github.com/skyfactor/identity/pkg/query"
	"github.com/skyfactor/identity/pkg/rbac"
	"github.com/skyfactor/identity/pkg/storage"
	"github.com/skyfactor/identity/pkg/storage/sqldb"
	"github.com/skyfactor/identity/pkg/users"
)

var (
	schedule = flag.String("schedule", "*/15 * * * *", "Cron schedule for stat snapshots (default: every 15 minutes)")
	runOnce  = flag.Bool("run-once", false, "Run one snapshot and exit (for testing)")
)

func main() {
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if cfg.Storage.Backend == storage.BackendMemory {
		log.Fatal("the aggregator needs a persistent backend; set IDENTITY_STORAGE_BACKEND to postgres or sqlite")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqldb.Open(ctx, cfg.Storage)
	if err != nil {
		log.WithError(err).Fatal("failed to open storage")
	}
	defer store.Close()

	agg, err := newAggregator(store, log)
	if err != nil {
		log.WithError(err).Fatal("failed to wire services")
	}

	if *runOnce {
		if err := agg.snapshot(ctx); err != nil {
			log.WithError(err).Fatal("snapshot failed")
		}
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(*schedule, func() {
		if err := agg.snapshot(context.Background()); err != nil {
			log.WithError(err).Error("snapshot failed")
		}
	}); err != nil {
		log.WithError(err).Fatal("failed to schedule snapshots")
	}

	c.Start()
	log.WithField("schedule", *schedule).Info("identity aggregator started")

	<-ctx.Done()
	log.Info("shutting down")
	<-c.Stop().Done()
}

type aggregator struct {
	domains  *domains.Service
	users    *users.Service
	projects *projects.Service
	registry *rbac.Registry
	log      *logrus.Logger
	system   *rbac.Principal
}

func newAggregator(store *sqldb.Store, log *logrus.Logger) (*aggregator, error) {
	registry, err := rbac.NewRegistry(store, store, store)
	if err != nil {
		return nil, err
	}
	domainSvc := domains.NewService(store)
	userSvc := users.NewService(store, registry, domainSvc, nil)
	projectSvc := projects.NewService(store, store, store, userAdapter{store}, registry, domainSvc)

	perms, err := rbac.ParsePermissions([]string{
		"identity.Domain.*",
		"identity.User.*",
		"identity.Role.*",
		"identity.Project.*",
	})
	if err != nil {
		return nil, err
	}

	return &aggregator{
		domains:  domainSvc,
		users:    userSvc,
		projects: projectSvc,
		registry: registry,
		log:      log,
		system:   &rbac.Principal{UserID: "identity-aggregator", Permissions: perms},
	}, nil
}

// snapshot walks every domain and logs one record per domain with the user
// state breakdown plus role and project totals
func (a *aggregator) snapshot(ctx context.Context) error {
	ctx = rbac.WithPrincipal(ctx, a.system)

	all, total, err := a.domains.List(ctx, query.Query{})
	if err != nil {
		return err
	}
	a.log.WithField("domains", total).Info("starting stat snapshot")

	for _, domain := range all {
		entry := a.log.WithField("domain_id", domain.DomainID)

		stats, err := a.users.Stat(ctx, domain.DomainID, query.StatQuery{
			Aggregate: &query.Aggregate{
				Group: &query.Group{
					Keys:   []query.GroupKey{{Key: "state", Name: "state"}},
					Fields: []query.GroupField{{Operator: query.FieldCount, Name: "count"}},
				},
			},
		})
		if err != nil {
			entry.WithError(err).Error("user stat failed")
			continue
		}
		byState := map[string]interface{}{}
		for _, rec := range stats {
			if state, ok := rec["state"].(string); ok {
				byState[state] = rec["count"]
			}
		}

		_, roleTotal, err := a.registry.ListRoles(ctx, domain.DomainID, query.Query{CountOnly: true})
		if err != nil {
			entry.WithError(err).Error("role count failed")
			continue
		}
		_, projectTotal, err := a.projects.ListProjects(ctx, domain.DomainID, query.Query{CountOnly: true})
		if err != nil {
			entry.WithError(err).Error("project count failed")
			continue
		}

		entry.WithFields(logrus.Fields{
			"users_by_state": byState,
			"roles":          roleTotal,
			"projects":       projectTotal,
		}).Info("domain snapshot")
	}
	return nil
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
