package projects_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyfactor/identity/pkg/domains"
	"github.com/skyfactor/identity/pkg/errdefs"
	"github.com/skyfactor/identity/pkg/projects"
	"github.com/skyfactor/identity/pkg/query"
	"github.com/skyfactor/identity/pkg/rbac"
	"github.com/skyfactor/identity/pkg/storage/memory"
	"github.com/skyfactor/identity/pkg/users"
)

// userSource adapts the user store to the narrow membership view
type userSource struct {
	store *memory.Store
}

func (u userSource) Get(ctx context.Context, domainID, userID string) (projects.UserRef, error) {
	usr, err := u.store.GetUser(ctx, domainID, userID)
	if err != nil {
		return projects.UserRef{}, err
	}
	return projects.UserRef{UserID: usr.UserID, Name: usr.Name, State: string(usr.State)}, nil
}

type fixture struct {
	ctx      context.Context
	svc      *projects.Service
	store    *memory.Store
	registry *rbac.Registry
	domainID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	perms, err := rbac.ParsePermissions([]string{
		"identity.Domain.*", "identity.Policy.*", "identity.Role.*",
		"identity.Project.*", "identity.ProjectGroup.*",
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

	svc := projects.NewService(store, store, store, userSource{store}, registry, domainSvc)
	return &fixture{ctx: ctx, svc: svc, store: store, registry: registry, domainID: domain.DomainID}
}

func (f *fixture) createGroup(t *testing.T, name, parentID string) *projects.ProjectGroup {
	t.Helper()
	g, err := f.svc.CreateGroup(f.ctx, projects.CreateGroupRequest{
		Name:                 name,
		ParentProjectGroupID: parentID,
		DomainID:             f.domainID,
	})
	require.NoError(t, err)
	return g
}

func (f *fixture) createProject(t *testing.T, name, groupID string) *projects.Project {
	t.Helper()
	p, err := f.svc.CreateProject(f.ctx, projects.CreateProjectRequest{
		Name:           name,
		ProjectGroupID: groupID,
		DomainID:       f.domainID,
	})
	require.NoError(t, err)
	return p
}

func TestCreateGroup(t *testing.T) {
	f := newFixture(t)

	root := f.createGroup(t, "infrastructure", "")
	assert.Empty(t, root.ParentProjectGroupID)

	child := f.createGroup(t, "networking", root.ProjectGroupID)
	assert.Equal(t, root.ProjectGroupID, child.ParentProjectGroupID)

	t.Run("missing parent", func(t *testing.T) {
		_, err := f.svc.CreateGroup(f.ctx, projects.CreateGroupRequest{
			Name: "orphan", ParentProjectGroupID: "pg-ghost", DomainID: f.domainID,
		})
		assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))
	})

	t.Run("unknown domain", func(t *testing.T) {
		_, err := f.svc.CreateGroup(f.ctx, projects.CreateGroupRequest{
			Name: "lost", DomainID: "domain-ghost",
		})
		assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))
	})
}

func TestReparentGuards(t *testing.T) {
	f := newFixture(t)

	// a -> b -> c
	a := f.createGroup(t, "a", "")
	b := f.createGroup(t, "b", a.ProjectGroupID)
	c := f.createGroup(t, "c", b.ProjectGroupID)

	t.Run("self parent", func(t *testing.T) {
		_, err := f.svc.UpdateGroup(f.ctx, projects.UpdateGroupRequest{
			ProjectGroupID:       a.ProjectGroupID,
			DomainID:             f.domainID,
			ParentProjectGroupID: a.ProjectGroupID,
		})
		assert.Equal(t, errdefs.KindConflict, errdefs.KindOf(err))
	})

	t.Run("moving under a descendant closes a cycle", func(t *testing.T) {
		_, err := f.svc.UpdateGroup(f.ctx, projects.UpdateGroupRequest{
			ProjectGroupID:       a.ProjectGroupID,
			DomainID:             f.domainID,
			ParentProjectGroupID: c.ProjectGroupID,
		})
		assert.Equal(t, errdefs.KindConflict, errdefs.KindOf(err))
	})

	t.Run("moving under a sibling subtree is fine", func(t *testing.T) {
		d := f.createGroup(t, "d", "")
		got, err := f.svc.UpdateGroup(f.ctx, projects.UpdateGroupRequest{
			ProjectGroupID:       d.ProjectGroupID,
			DomainID:             f.domainID,
			ParentProjectGroupID: c.ProjectGroupID,
		})
		require.NoError(t, err)
		assert.Equal(t, c.ProjectGroupID, got.ParentProjectGroupID)
	})

	t.Run("explicit move to root", func(t *testing.T) {
		got, err := f.svc.UpdateGroup(f.ctx, projects.UpdateGroupRequest{
			ProjectGroupID: c.ProjectGroupID,
			DomainID:       f.domainID,
			Reparent:       true,
		})
		require.NoError(t, err)
		assert.Empty(t, got.ParentProjectGroupID)
	})
}

func TestDeleteGroupGuards(t *testing.T) {
	f := newFixture(t)

	parent := f.createGroup(t, "parent", "")
	child := f.createGroup(t, "child", parent.ProjectGroupID)

	err := f.svc.DeleteGroup(f.ctx, f.domainID, parent.ProjectGroupID)
	assert.Equal(t, errdefs.KindResourceInUse, errdefs.KindOf(err))

	p := f.createProject(t, "api", child.ProjectGroupID)
	err = f.svc.DeleteGroup(f.ctx, f.domainID, child.ProjectGroupID)
	assert.Equal(t, errdefs.KindResourceInUse, errdefs.KindOf(err))

	// projects delete unguarded, then the tree unwinds bottom-up
	require.NoError(t, f.svc.DeleteProject(f.ctx, f.domainID, p.ProjectID))
	require.NoError(t, f.svc.DeleteGroup(f.ctx, f.domainID, child.ProjectGroupID))
	require.NoError(t, f.svc.DeleteGroup(f.ctx, f.domainID, parent.ProjectGroupID))
}

func TestListGroupsRootFilter(t *testing.T) {
	f := newFixture(t)

	r1 := f.createGroup(t, "root one", "")
	r2 := f.createGroup(t, "root two", "")
	f.createGroup(t, "nested", r1.ProjectGroupID)

	out, total, err := f.svc.ListGroups(f.ctx, f.domainID, query.Query{
		Filters: []query.Filter{{Key: "parent_project_group_id", Value: nil, Operator: query.OpEqual}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	ids := []string{out[0].ProjectGroupID, out[1].ProjectGroupID}
	assert.ElementsMatch(t, []string{r1.ProjectGroupID, r2.ProjectGroupID}, ids)

	// the alias key selects roots the same way
	_, total, err = f.svc.ListGroups(f.ctx, f.domainID, query.Query{
		Filters: []query.Filter{{Key: "parent_project_group", Value: nil, Operator: query.OpEqual}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestCreateProjectRequiresGroup(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateProject(f.ctx, projects.CreateProjectRequest{
		Name: "floating", DomainID: f.domainID,
	})
	assert.Equal(t, errdefs.KindValidation, errdefs.KindOf(err))

	_, err = f.svc.CreateProject(f.ctx, projects.CreateProjectRequest{
		Name: "lost", ProjectGroupID: "pg-ghost", DomainID: f.domainID,
	})
	assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))
}

func TestListGroupProjectsRecursive(t *testing.T) {
	f := newFixture(t)

	// root owns 1 project; two children own 2 each; a grandchild owns 1
	root := f.createGroup(t, "root", "")
	c1 := f.createGroup(t, "child one", root.ProjectGroupID)
	c2 := f.createGroup(t, "child two", root.ProjectGroupID)
	gc := f.createGroup(t, "grandchild", c1.ProjectGroupID)

	f.createProject(t, "p-root", root.ProjectGroupID)
	f.createProject(t, "p-c1-a", c1.ProjectGroupID)
	f.createProject(t, "p-c1-b", c1.ProjectGroupID)
	f.createProject(t, "p-c2-a", c2.ProjectGroupID)
	f.createProject(t, "p-c2-b", c2.ProjectGroupID)
	f.createProject(t, "p-gc", gc.ProjectGroupID)

	t.Run("direct only", func(t *testing.T) {
		_, total, err := f.svc.ListGroupProjects(f.ctx, f.domainID, root.ProjectGroupID, false, query.Query{})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
	})

	t.Run("recursive from root", func(t *testing.T) {
		_, total, err := f.svc.ListGroupProjects(f.ctx, f.domainID, root.ProjectGroupID, true, query.Query{})
		require.NoError(t, err)
		assert.Equal(t, 6, total)
	})

	t.Run("recursive from a mid node", func(t *testing.T) {
		_, total, err := f.svc.ListGroupProjects(f.ctx, f.domainID, c1.ProjectGroupID, true, query.Query{})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
	})

	t.Run("leaf group", func(t *testing.T) {
		_, total, err := f.svc.ListGroupProjects(f.ctx, f.domainID, gc.ProjectGroupID, true, query.Query{})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
	})

	t.Run("unknown group", func(t *testing.T) {
		_, _, err := f.svc.ListGroupProjects(f.ctx, f.domainID, "pg-ghost", true, query.Query{})
		assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))
	})
}

func TestMoveProjectBetweenGroups(t *testing.T) {
	f := newFixture(t)

	src := f.createGroup(t, "source", "")
	dst := f.createGroup(t, "target", "")
	p := f.createProject(t, "api", src.ProjectGroupID)

	got, err := f.svc.UpdateProject(f.ctx, projects.UpdateProjectRequest{
		ProjectID:      p.ProjectID,
		DomainID:       f.domainID,
		ProjectGroupID: dst.ProjectGroupID,
	})
	require.NoError(t, err)
	assert.Equal(t, dst.ProjectGroupID, got.ProjectGroupID)

	_, total, err := f.svc.ListGroupProjects(f.ctx, f.domainID, src.ProjectGroupID, false, query.Query{})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestStatGroupsMemberSize(t *testing.T) {
	f := newFixture(t)

	g := f.createGroup(t, "platform", "")
	for _, id := range []string{"alice@corp", "bob@corp"} {
		require.NoError(t, f.store.CreateUser(f.ctx, &users.User{
			UserID: id, Name: id, State: users.StateEnabled, DomainID: f.domainID,
		}))
		_, err := f.svc.AddMember(f.ctx, f.domainID, g.ProjectGroupID, id, nil, nil)
		require.NoError(t, err)
	}
	f.createGroup(t, "empty", "")

	out, err := f.svc.StatGroups(f.ctx, f.domainID, query.StatQuery{
		Aggregate: &query.Aggregate{
			Group: &query.Group{
				Keys: []query.GroupKey{{Key: "name", Name: "name"}},
				Fields: []query.GroupField{
					{Key: "project_group_member.user.user_id", Name: "member_count", Operator: query.FieldSize},
				},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "platform", out[0]["name"])
	assert.Equal(t, 2, out[0]["member_count"])
	assert.Equal(t, "empty", out[1]["name"])
	assert.Equal(t, 0, out[1]["member_count"])
}
