package users_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyfactor/identity/pkg/domains"
	"github.com/skyfactor/identity/pkg/errdefs"
	"github.com/skyfactor/identity/pkg/query"
	"github.com/skyfactor/identity/pkg/rbac"
	"github.com/skyfactor/identity/pkg/storage/memory"
	"github.com/skyfactor/identity/pkg/users"
)

type fixture struct {
	ctx      context.Context
	svc      *users.Service
	registry *rbac.Registry
	domainID string
}

// recordingInvalidator captures decision cache invalidations
type recordingInvalidator struct {
	calls []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, domainID, userID string) error {
	r.calls = append(r.calls, domainID+"/"+userID)
	return nil
}

func newFixture(t *testing.T) (*fixture, *recordingInvalidator) {
	t.Helper()
	perms, err := rbac.ParsePermissions([]string{
		"identity.Domain.*", "identity.User.*", "identity.Policy.*", "identity.Role.*",
	})
	require.NoError(t, err)
	ctx := rbac.WithPrincipal(context.Background(), &rbac.Principal{
		UserID:      "root@system",
		Permissions: perms,
	})

	store := memory.NewStore()
	registry, err := rbac.NewRegistry(store, store, store)
	require.NoError(t, err)
	domainSvc := domains.NewService(store)

	domain, err := domainSvc.Create(ctx, "acme", nil)
	require.NoError(t, err)

	inv := &recordingInvalidator{}
	svc := users.NewService(store, registry, domainSvc, inv)
	return &fixture{ctx: ctx, svc: svc, registry: registry, domainID: domain.DomainID}, inv
}

func (f *fixture) createRole(t *testing.T, name string, rt rbac.RoleType) *rbac.Role {
	t.Helper()
	policy, err := f.registry.CreatePolicy(f.ctx, rbac.CreatePolicyRequest{
		Name: name + " policy", Permissions: []string{"identity.User.get"}, DomainID: f.domainID,
	})
	require.NoError(t, err)
	role, err := f.registry.CreateRole(f.ctx, rbac.CreateRoleRequest{
		Name:     name,
		RoleType: rt,
		Policies: []rbac.PolicyRef{{PolicyType: rbac.PolicyTypeCustom, PolicyID: policy.PolicyID}},
		DomainID: f.domainID,
	})
	require.NoError(t, err)
	return role
}

func TestCreateUser(t *testing.T) {
	f, _ := newFixture(t)

	u, err := f.svc.Create(f.ctx, users.CreateRequest{
		UserID: "alice@corp", Name: "Alice", Password: "secret", DomainID: f.domainID,
	})
	require.NoError(t, err)
	assert.Equal(t, users.StatePending, u.State)

	t.Run("duplicate id in the same domain", func(t *testing.T) {
		_, err := f.svc.Create(f.ctx, users.CreateRequest{
			UserID: "alice@corp", Name: "Other Alice", DomainID: f.domainID,
		})
		assert.Equal(t, errdefs.KindNotUnique, errdefs.KindOf(err))
	})

	t.Run("unknown domain", func(t *testing.T) {
		_, err := f.svc.Create(f.ctx, users.CreateRequest{
			UserID: "bob@corp", Name: "Bob", DomainID: "domain-ghost",
		})
		assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))
	})

	t.Run("missing user_id", func(t *testing.T) {
		_, err := f.svc.Create(f.ctx, users.CreateRequest{Name: "No ID", DomainID: f.domainID})
		assert.Equal(t, errdefs.KindValidation, errdefs.KindOf(err))
	})

	t.Run("name over limit", func(t *testing.T) {
		_, err := f.svc.Create(f.ctx, users.CreateRequest{
			UserID: "long@corp", Name: strings.Repeat("x", 129), DomainID: f.domainID,
		})
		assert.Equal(t, errdefs.KindValidation, errdefs.KindOf(err))
	})
}

func TestUpdateUserValidatesBeforeWriting(t *testing.T) {
	f, _ := newFixture(t)

	_, err := f.svc.Create(f.ctx, users.CreateRequest{
		UserID: "alice@corp", Name: "Alice", DomainID: f.domainID,
	})
	require.NoError(t, err)

	_, err = f.svc.Update(f.ctx, users.UpdateRequest{
		UserID:   "alice@corp",
		DomainID: f.domainID,
		Name:     "Alice Smith",
		State:    "FROZEN",
	})
	assert.Equal(t, errdefs.KindValidation, errdefs.KindOf(err))

	// the rejected update left the user untouched
	u, err := f.svc.Get(f.ctx, f.domainID, "alice@corp")
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.Name)
	assert.Equal(t, users.StatePending, u.State)

	u, err = f.svc.Update(f.ctx, users.UpdateRequest{
		UserID: "alice@corp", DomainID: f.domainID, Name: "Alice Smith", State: users.StateEnabled,
	})
	require.NoError(t, err)
	assert.Equal(t, "Alice Smith", u.Name)
	assert.Equal(t, users.StateEnabled, u.State)
}

func TestEnableDisable(t *testing.T) {
	f, _ := newFixture(t)

	_, err := f.svc.Create(f.ctx, users.CreateRequest{
		UserID: "alice@corp", Name: "Alice", DomainID: f.domainID,
	})
	require.NoError(t, err)

	u, err := f.svc.Enable(f.ctx, f.domainID, "alice@corp")
	require.NoError(t, err)
	assert.Equal(t, users.StateEnabled, u.State)

	u, err = f.svc.Disable(f.ctx, f.domainID, "alice@corp")
	require.NoError(t, err)
	assert.Equal(t, users.StateDisabled, u.State)

	_, err = f.svc.Enable(f.ctx, f.domainID, "ghost@corp")
	assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))
}

func TestUpdateRole(t *testing.T) {
	f, inv := newFixture(t)

	system := f.createRole(t, "system admin", rbac.RoleTypeSystem)
	domain := f.createRole(t, "domain admin", rbac.RoleTypeDomain)
	project := f.createRole(t, "project operator", rbac.RoleTypeProject)

	_, err := f.svc.Create(f.ctx, users.CreateRequest{
		UserID: "alice@corp", Name: "Alice", DomainID: f.domainID,
	})
	require.NoError(t, err)

	t.Run("system and project cannot combine", func(t *testing.T) {
		_, err := f.svc.UpdateRole(f.ctx, f.domainID, "alice@corp", []string{system.RoleID, project.RoleID})
		assert.Equal(t, errdefs.KindValidation, errdefs.KindOf(err))
	})

	t.Run("domain combines with project", func(t *testing.T) {
		u, err := f.svc.UpdateRole(f.ctx, f.domainID, "alice@corp", []string{domain.RoleID, project.RoleID})
		require.NoError(t, err)
		assert.Equal(t, []string{domain.RoleID, project.RoleID}, u.RoleIDs)
		assert.Equal(t, []string{f.domainID + "/alice@corp"}, inv.calls)
	})

	t.Run("set is replaced wholesale", func(t *testing.T) {
		u, err := f.svc.UpdateRole(f.ctx, f.domainID, "alice@corp", []string{system.RoleID})
		require.NoError(t, err)
		assert.Equal(t, []string{system.RoleID}, u.RoleIDs)
	})

	t.Run("empty set clears roles", func(t *testing.T) {
		u, err := f.svc.UpdateRole(f.ctx, f.domainID, "alice@corp", nil)
		require.NoError(t, err)
		assert.Empty(t, u.RoleIDs)
	})

	t.Run("unknown role", func(t *testing.T) {
		_, err := f.svc.UpdateRole(f.ctx, f.domainID, "alice@corp", []string{"role-ghost"})
		assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))
	})
}

func TestUpdateRoleWithUserScopedPrincipal(t *testing.T) {
	f, _ := newFixture(t)
	role := f.createRole(t, "domain admin", rbac.RoleTypeDomain)

	_, err := f.svc.Create(f.ctx, users.CreateRequest{
		UserID: "alice@corp", Name: "Alice", DomainID: f.domainID,
	})
	require.NoError(t, err)

	// A caller holding only user permissions can bind roles; resolving the
	// role ids is a reference check, not a role read on the caller's behalf.
	perms, err := rbac.ParsePermissions([]string{"identity.User.*"})
	require.NoError(t, err)
	ctx := rbac.WithPrincipal(context.Background(), &rbac.Principal{
		DomainID:    f.domainID,
		UserID:      "user-admin@corp",
		Permissions: perms,
	})

	u, err := f.svc.UpdateRole(ctx, f.domainID, "alice@corp", []string{role.RoleID})
	require.NoError(t, err)
	assert.Equal(t, []string{role.RoleID}, u.RoleIDs)
}

func TestRoleDeleteBlockedWhileAssigned(t *testing.T) {
	f, _ := newFixture(t)
	role := f.createRole(t, "domain admin", rbac.RoleTypeDomain)

	_, err := f.svc.Create(f.ctx, users.CreateRequest{
		UserID: "alice@corp", Name: "Alice", DomainID: f.domainID,
	})
	require.NoError(t, err)
	_, err = f.svc.UpdateRole(f.ctx, f.domainID, "alice@corp", []string{role.RoleID})
	require.NoError(t, err)

	err = f.registry.DeleteRole(f.ctx, f.domainID, role.RoleID)
	assert.Equal(t, errdefs.KindResourceInUse, errdefs.KindOf(err))

	_, err = f.svc.UpdateRole(f.ctx, f.domainID, "alice@corp", nil)
	require.NoError(t, err)
	assert.NoError(t, f.registry.DeleteRole(f.ctx, f.domainID, role.RoleID))
}

func TestListUsers(t *testing.T) {
	f, _ := newFixture(t)
	role := f.createRole(t, "domain admin", rbac.RoleTypeDomain)

	seed := []struct {
		id, name, group string
	}{
		{"alice@corp", "Alice", "platform"},
		{"bob@corp", "Bob", "platform"},
		{"carol@corp", "Carol", "data"},
	}
	for _, s := range seed {
		_, err := f.svc.Create(f.ctx, users.CreateRequest{
			UserID: s.id, Name: s.name, Group: s.group, DomainID: f.domainID,
		})
		require.NoError(t, err)
	}
	_, err := f.svc.Enable(f.ctx, f.domainID, "alice@corp")
	require.NoError(t, err)
	_, err = f.svc.UpdateRole(f.ctx, f.domainID, "bob@corp", []string{role.RoleID})
	require.NoError(t, err)

	t.Run("state shortcut", func(t *testing.T) {
		out, total, err := f.svc.List(f.ctx, f.domainID, users.ListParams{State: users.StateEnabled})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, out, 1)
		assert.Equal(t, "alice@corp", out[0].UserID)
	})

	t.Run("group shortcut", func(t *testing.T) {
		_, total, err := f.svc.List(f.ctx, f.domainID, users.ListParams{Group: "platform"})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
	})

	t.Run("role shortcut matches through the role list", func(t *testing.T) {
		out, total, err := f.svc.List(f.ctx, f.domainID, users.ListParams{RoleID: role.RoleID})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, out, 1)
		assert.Equal(t, "bob@corp", out[0].UserID)
	})

	t.Run("query contain on name", func(t *testing.T) {
		_, total, err := f.svc.List(f.ctx, f.domainID, users.ListParams{
			Query: query.Query{Filters: []query.Filter{{Key: "name", Value: "aro", Operator: query.OpContain}}},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
	})

	t.Run("paging reports the full total", func(t *testing.T) {
		out, total, err := f.svc.List(f.ctx, f.domainID, users.ListParams{
			Query: query.Query{Page: &query.Page{Limit: 2}},
		})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		assert.Len(t, out, 2)
	})
}

func TestFindUsers(t *testing.T) {
	f, _ := newFixture(t)

	for _, s := range []struct{ id, name string }{
		{"alice@corp", "Alice"},
		{"alina@corp", "Alina"},
		{"bob@corp", "Bob"},
	} {
		_, err := f.svc.Create(f.ctx, users.CreateRequest{UserID: s.id, Name: s.name, DomainID: f.domainID})
		require.NoError(t, err)
	}

	out, total, err := f.svc.Find(f.ctx, f.domainID, "ali")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, out, 2)

	out, total, err = f.svc.Find(f.ctx, f.domainID, "Bob")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, out, 1)
	assert.Equal(t, "bob@corp", out[0].UserID)
}

func TestStatUsersByState(t *testing.T) {
	f, _ := newFixture(t)

	for _, id := range []string{"a@corp", "b@corp", "c@corp"} {
		_, err := f.svc.Create(f.ctx, users.CreateRequest{UserID: id, Name: "User", DomainID: f.domainID})
		require.NoError(t, err)
	}
	_, err := f.svc.Enable(f.ctx, f.domainID, "a@corp")
	require.NoError(t, err)

	out, err := f.svc.Stat(f.ctx, f.domainID, query.StatQuery{
		Aggregate: &query.Aggregate{
			Group: &query.Group{
				Keys:   []query.GroupKey{{Key: "state", Name: "state"}},
				Fields: []query.GroupField{{Name: "count", Operator: query.FieldCount}},
			},
		},
		Sort: &query.Sort{Name: "count", Desc: true},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "PENDING", out[0]["state"])
	assert.Equal(t, 2, out[0]["count"])
	assert.Equal(t, "ENABLED", out[1]["state"])
	assert.Equal(t, 1, out[1]["count"])
}

func TestRecordOmitsPassword(t *testing.T) {
	rec := users.Record(&users.User{
		UserID:   "alice@corp",
		Password: "secret",
		State:    users.StateEnabled,
	})
	for key, val := range rec {
		assert.NotEqual(t, "secret", val, "password leaked under key %q", key)
	}
	_, hasPassword := rec["password"]
	assert.False(t, hasPassword)
}
