package sqldb

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyfactor/identity/pkg/domains"
	"github.com/skyfactor/identity/pkg/errdefs"
	"github.com/skyfactor/identity/pkg/projects"
	"github.com/skyfactor/identity/pkg/providers"
	"github.com/skyfactor/identity/pkg/rbac"
	"github.com/skyfactor/identity/pkg/users"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(context.Background(), db))
	return New(db)
}

func TestMigrateIsIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, Migrate(ctx, db))
	require.NoError(t, Migrate(ctx, db))
}

func TestDomainRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	d := &domains.Domain{
		DomainID:  "domain-1",
		Name:      "acme",
		Config:    map[string]interface{}{"sso": true},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.CreateDomain(ctx, d))

	err := s.CreateDomain(ctx, &domains.Domain{DomainID: "domain-1", Name: "dup", CreatedAt: d.CreatedAt})
	assert.Equal(t, errdefs.KindNotUnique, errdefs.KindOf(err))

	got, err := s.GetDomain(ctx, "domain-1")
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Name)
	assert.Equal(t, true, got.Config["sso"])

	require.NoError(t, s.DeleteDomain(ctx, "domain-1"))
	err = s.DeleteDomain(ctx, "domain-1")
	assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))
}

func TestUserRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	u := &users.User{
		UserID:    "alice@corp",
		Name:      "Alice",
		Password:  "secret",
		State:     users.StateEnabled,
		Email:     "alice@corp.example",
		Group:     "platform",
		Tags:      map[string]interface{}{"team": "core"},
		RoleIDs:   []string{"role-1"},
		DomainID:  "domain-1",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.CreateUser(ctx, u))

	err := s.CreateUser(ctx, &users.User{UserID: "alice@corp", DomainID: "domain-1", State: users.StatePending, CreatedAt: u.CreatedAt})
	assert.Equal(t, errdefs.KindNotUnique, errdefs.KindOf(err))

	// same id in a second domain is its own row
	require.NoError(t, s.CreateUser(ctx, &users.User{UserID: "alice@corp", DomainID: "domain-2", State: users.StatePending, CreatedAt: u.CreatedAt}))

	got, err := s.GetUser(ctx, "domain-1", "alice@corp")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)
	assert.Equal(t, "secret", got.Password)
	assert.Equal(t, users.StateEnabled, got.State)
	assert.Equal(t, []string{"role-1"}, got.RoleIDs)
	assert.Equal(t, "core", got.Tags["team"])

	got.State = users.StateDisabled
	got.RoleIDs = []string{"role-1", "role-2"}
	require.NoError(t, s.UpdateUser(ctx, got))

	again, err := s.GetUser(ctx, "domain-1", "alice@corp")
	require.NoError(t, err)
	assert.Equal(t, users.StateDisabled, again.State)
	assert.Equal(t, []string{"role-1", "role-2"}, again.RoleIDs)

	list, err := s.ListUsers(ctx, "domain-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCountUsersWithRole(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.CreateUser(ctx, &users.User{UserID: "a", DomainID: "domain-1", State: users.StateEnabled, RoleIDs: []string{"role-1", "role-2"}, CreatedAt: now}))
	require.NoError(t, s.CreateUser(ctx, &users.User{UserID: "b", DomainID: "domain-1", State: users.StateEnabled, RoleIDs: []string{"role-2"}, CreatedAt: now}))
	require.NoError(t, s.CreateUser(ctx, &users.User{UserID: "c", DomainID: "domain-2", State: users.StateEnabled, RoleIDs: []string{"role-1"}, CreatedAt: now}))

	n, err := s.CountUsersWithRole(ctx, "domain-1", "role-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountUsersWithRole(ctx, "domain-1", "role-2")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	roleIDs, err := s.RoleIDsOf(ctx, "domain-1", "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"role-1", "role-2"}, roleIDs)

	_, err = s.RoleIDsOf(ctx, "domain-1", "missing")
	assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))
}

func TestPolicyAndRoleRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	p := &rbac.Policy{
		PolicyID:    "policy-1",
		Name:        "project admin",
		Permissions: []string{"identity.Project.*"},
		DomainID:    "domain-1",
		CreatedAt:   now,
	}
	require.NoError(t, s.CreatePolicy(ctx, p))

	got, err := s.GetPolicy(ctx, "domain-1", "policy-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"identity.Project.*"}, got.Permissions)

	r := &rbac.Role{
		RoleID:   "role-1",
		Name:     "admin",
		RoleType: rbac.RoleTypeDomain,
		Policies: []rbac.PolicyRef{{PolicyType: rbac.PolicyTypeCustom, PolicyID: "policy-1"}},
		DomainID: "domain-1",
		CreatedAt: now,
	}
	require.NoError(t, s.CreateRole(ctx, r))

	gotRole, err := s.GetRole(ctx, "domain-1", "role-1")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleTypeDomain, gotRole.RoleType)
	require.Len(t, gotRole.Policies, 1)
	assert.Equal(t, "policy-1", gotRole.Policies[0].PolicyID)
	assert.Equal(t, rbac.PolicyTypeCustom, gotRole.Policies[0].PolicyType)

	require.NoError(t, s.DeleteRole(ctx, "domain-1", "role-1"))
	require.NoError(t, s.DeletePolicy(ctx, "domain-1", "policy-1"))
	_, err = s.GetPolicy(ctx, "domain-1", "policy-1")
	assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))
}

func TestProviderRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p := &providers.Provider{
		Provider: "aws",
		Name:     "AWS",
		Template: map[string]interface{}{
			"account_id": map[string]interface{}{"type": "string"},
		},
		Capability: map[string]interface{}{"supported_schema": []interface{}{"aws_access_key"}},
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.CreateProvider(ctx, p))

	err := s.CreateProvider(ctx, &providers.Provider{Provider: "aws", Name: "dup", CreatedAt: p.CreatedAt})
	assert.Equal(t, errdefs.KindNotUnique, errdefs.KindOf(err))

	got, err := s.GetProvider(ctx, "aws")
	require.NoError(t, err)
	assert.Equal(t, "AWS", got.Name)
	assert.NotNil(t, got.Template["account_id"])
}

func TestProjectTreeRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	root := &projects.ProjectGroup{ProjectGroupID: "pg-root", Name: "root", DomainID: "domain-1", CreatedAt: now}
	child := &projects.ProjectGroup{ProjectGroupID: "pg-child", Name: "child", ParentProjectGroupID: "pg-root", DomainID: "domain-1", CreatedAt: now.Add(time.Second)}
	require.NoError(t, s.CreateProjectGroup(ctx, root))
	require.NoError(t, s.CreateProjectGroup(ctx, child))

	children, err := s.ListChildGroups(ctx, "domain-1", "pg-root")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "pg-child", children[0].ProjectGroupID)

	roots, err := s.ListChildGroups(ctx, "domain-1", "")
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "pg-root", roots[0].ProjectGroupID)

	p := &projects.Project{ProjectID: "project-1", Name: "api", ProjectGroupID: "pg-child", DomainID: "domain-1", CreatedAt: now}
	require.NoError(t, s.CreateProject(ctx, p))

	inGroup, err := s.ListProjectsInGroup(ctx, "domain-1", "pg-child")
	require.NoError(t, err)
	assert.Len(t, inGroup, 1)

	inRoot, err := s.ListProjectsInGroup(ctx, "domain-1", "pg-root")
	require.NoError(t, err)
	assert.Empty(t, inRoot)
}

func TestMembershipRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	m := &projects.Membership{
		ProjectGroupID: "pg-1",
		UserID:         "alice@corp",
		Labels:         []string{"oncall"},
		RoleIDs:        []string{"role-1"},
		DomainID:       "domain-1",
		CreatedAt:      now,
	}
	require.NoError(t, s.AddMembership(ctx, m))

	err := s.AddMembership(ctx, m)
	assert.Equal(t, errdefs.KindConflict, errdefs.KindOf(err))

	got, err := s.GetMembership(ctx, "domain-1", "pg-1", "alice@corp")
	require.NoError(t, err)
	assert.Equal(t, []string{"oncall"}, got.Labels)

	got.Labels = []string{"lead"}
	got.RoleIDs = nil
	require.NoError(t, s.UpdateMembership(ctx, got))

	again, err := s.GetMembership(ctx, "domain-1", "pg-1", "alice@corp")
	require.NoError(t, err)
	assert.Equal(t, []string{"lead"}, again.Labels)
	assert.Nil(t, again.RoleIDs)

	require.NoError(t, s.RemoveMembership(ctx, "domain-1", "pg-1", "alice@corp"))
	err = s.RemoveMembership(ctx, "domain-1", "pg-1", "alice@corp")
	assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))
}
