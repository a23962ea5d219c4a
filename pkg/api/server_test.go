package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyfactor/identity/pkg/api"
	"github.com/skyfactor/identity/pkg/domains"
	"github.com/skyfactor/identity/pkg/middleware"
	"github.com/skyfactor/identity/pkg/projects"
	"github.com/skyfactor/identity/pkg/providers"
	"github.com/skyfactor/identity/pkg/rbac"
	"github.com/skyfactor/identity/pkg/storage/memory"
	"github.com/skyfactor/identity/pkg/users"
)

// adminPerms grants every resource so the handlers under test, not the
// authorization layer, decide the outcome
type adminPerms struct{}

func (adminPerms) PermissionsOf(context.Context, string, string) (rbac.PermissionSet, error) {
	set, err := rbac.ParsePermissions([]string{
		"identity.Domain.*",
		"identity.User.*",
		"identity.Policy.*",
		"identity.Role.*",
		"identity.Provider.*",
		"identity.Project.*",
		"identity.ProjectGroup.*",
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

type userSource struct {
	store *memory.Store
}

func (u userSource) Get(ctx context.Context, domainID, userID string) (projects.UserRef, error) {
	user, err := u.store.GetUser(ctx, domainID, userID)
	if err != nil {
		return projects.UserRef{}, err
	}
	return projects.UserRef{UserID: user.UserID, Name: user.Name, State: string(user.State)}, nil
}

type fixture struct {
	t       *testing.T
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	registry, err := rbac.NewRegistry(store, store, store)
	require.NoError(t, err)

	domainSvc := domains.NewService(store)
	userSvc := users.NewService(store, registry, domainSvc, nil)
	providerSvc := providers.NewService(store)
	projectSvc := projects.NewService(store, store, store, userSource{store}, registry, domainSvc)

	authMW := middleware.NewAuthMiddleware(middleware.NewHeaderAuthenticator(), adminPerms{}, false)

	server := api.NewServer(api.Deps{
		Domains:   domainSvc,
		Users:     userSvc,
		Providers: providerSvc,
		Projects:  projectSvc,
		Registry:  registry,
		Auth:      authMW.Handler,
	})
	return &fixture{t: t, handler: server.Handler()}
}

// do issues an authenticated JSON request and decodes the response into out
// when out is non-nil
func (f *fixture) do(method, path string, body interface{}, out interface{}) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Identity-Domain", "")
	req.Header.Set("X-Identity-User", "root")

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func (f *fixture) createDomain(name string) string {
	f.t.Helper()
	var domain struct {
		DomainID string `json:"domain_id"`
	}
	rec := f.do("POST", "/v1/domains", map[string]interface{}{"name": name}, &domain)
	require.Equal(f.t, http.StatusCreated, rec.Code)
	return domain.DomainID
}

func TestDomainLifecycle(t *testing.T) {
	f := newFixture(t)

	domainID := f.createDomain("acme")

	var fetched struct {
		DomainID string `json:"domain_id"`
		Name     string `json:"name"`
	}
	rec := f.do("GET", "/v1/domains/"+domainID, nil, &fetched)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domainID, fetched.DomainID)
	assert.Equal(t, "acme", fetched.Name)

	rec = f.do("DELETE", "/v1/domains/"+domainID, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do("GET", "/v1/domains/"+domainID, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDomainSearch(t *testing.T) {
	f := newFixture(t)
	f.createDomain("acme")
	f.createDomain("globex")

	var list struct {
		Results    []map[string]interface{} `json:"results"`
		TotalCount int                      `json:"total_count"`
	}
	rec := f.do("POST", "/v1/domains/search", map[string]interface{}{
		"query": map[string]interface{}{
			"filter": []map[string]interface{}{
				{"k": "name", "v": "glo", "o": "contain"},
			},
		},
	}, &list)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, list.TotalCount)
	assert.Equal(t, "globex", list.Results[0]["name"])
}

func TestUserEndpoints(t *testing.T) {
	f := newFixture(t)
	domainID := f.createDomain("acme")
	base := "/v1/domains/" + domainID + "/users"

	var created struct {
		UserID string `json:"user_id"`
		State  string `json:"state"`
	}
	rec := f.do("POST", base, map[string]interface{}{
		"user_id":  "alice@corp",
		"name":     "Alice Johnson",
		"password": "hunter22",
	}, &created)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "PENDING", created.State)
	assert.NotContains(t, rec.Body.String(), "hunter22")

	t.Run("duplicate is conflict", func(t *testing.T) {
		rec := f.do("POST", base, map[string]interface{}{
			"user_id":  "alice@corp",
			"name":     "Alice Again",
			"password": "hunter23",
		}, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), "not_unique")
	})

	t.Run("enable and disable", func(t *testing.T) {
		var user struct {
			State string `json:"state"`
		}
		rec := f.do("POST", base+"/alice@corp/enable", nil, &user)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ENABLED", user.State)

		rec = f.do("POST", base+"/alice@corp/disable", nil, &user)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "DISABLED", user.State)
	})

	t.Run("update role rejects unknown role", func(t *testing.T) {
		rec := f.do("PUT", base+"/alice@corp/roles", map[string]interface{}{
			"role_ids": []string{"role-ghost"},
		}, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("search by state", func(t *testing.T) {
		var list struct {
			TotalCount int `json:"total_count"`
		}
		rec := f.do("POST", base+"/search", map[string]interface{}{"state": "DISABLED"}, &list)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, list.TotalCount)
	})

	t.Run("stat by state", func(t *testing.T) {
		var stat struct {
			Results []map[string]interface{} `json:"results"`
		}
		rec := f.do("POST", base+"/stat", map[string]interface{}{
			"aggregate": map[string]interface{}{
				"group": map[string]interface{}{
					"keys":   []map[string]interface{}{{"key": "state", "name": "state"}},
					"fields": []map[string]interface{}{{"operator": "count", "name": "count"}},
				},
			},
		}, &stat)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, stat.Results, 1)
		assert.Equal(t, "DISABLED", stat.Results[0]["state"])
	})
}

func TestRoleAndPolicyEndpoints(t *testing.T) {
	f := newFixture(t)
	domainID := f.createDomain("acme")
	base := "/v1/domains/" + domainID

	var policy struct {
		PolicyID string `json:"policy_id"`
	}
	rec := f.do("POST", base+"/policies", map[string]interface{}{
		"name":        "viewer",
		"permissions": []string{"identity.User.get", "identity.User.list"},
	}, &policy)
	require.Equal(t, http.StatusCreated, rec.Code)

	t.Run("bad pattern is validation error", func(t *testing.T) {
		rec := f.do("POST", base+"/policies", map[string]interface{}{
			"name":        "broken",
			"permissions": []string{"identity.*.get"},
		}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	var role struct {
		RoleID string `json:"role_id"`
	}
	rec = f.do("POST", base+"/roles", map[string]interface{}{
		"name":      "domain-viewer",
		"role_type": "DOMAIN",
		"policies": []map[string]interface{}{
			{"policy_type": "CUSTOM", "policy_id": policy.PolicyID},
		},
	}, &role)
	require.Equal(t, http.StatusCreated, rec.Code)

	t.Run("role delete blocked while assigned", func(t *testing.T) {
		userBase := base + "/users"
		rec := f.do("POST", userBase, map[string]interface{}{
			"user_id": "bob@corp", "name": "Bob", "password": "pw",
		}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
		rec = f.do("PUT", userBase+"/bob@corp/roles", map[string]interface{}{
			"role_ids": []string{role.RoleID},
		}, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = f.do("DELETE", base+"/roles/"+role.RoleID, nil, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), "resource_in_use")

		rec = f.do("PUT", userBase+"/bob@corp/roles", map[string]interface{}{
			"role_ids": []string{},
		}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		rec = f.do("DELETE", base+"/roles/"+role.RoleID, nil, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("policy delete is unguarded", func(t *testing.T) {
		rec := f.do("DELETE", base+"/policies/"+policy.PolicyID, nil, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestProviderEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do("POST", "/v1/providers", map[string]interface{}{
		"provider": "aws",
		"name":     "Amazon Web Services",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do("POST", "/v1/providers", map[string]interface{}{
		"provider": "aws",
		"name":     "Duplicate",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var fetched struct {
		Name string `json:"name"`
	}
	rec = f.do("GET", "/v1/providers/aws", nil, &fetched)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Amazon Web Services", fetched.Name)
}

func TestProjectGroupEndpoints(t *testing.T) {
	f := newFixture(t)
	domainID := f.createDomain("acme")
	base := "/v1/domains/" + domainID + "/project-groups"

	createGroup := func(name, parent string) string {
		var group struct {
			ProjectGroupID string `json:"project_group_id"`
		}
		body := map[string]interface{}{"name": name}
		if parent != "" {
			body["parent_project_group_id"] = parent
		}
		rec := f.do("POST", base, body, &group)
		require.Equal(t, http.StatusCreated, rec.Code)
		return group.ProjectGroupID
	}

	root := createGroup("platform", "")
	child := createGroup("ingest", root)

	t.Run("self parent is conflict", func(t *testing.T) {
		rec := f.do("PUT", base+"/"+root, map[string]interface{}{
			"parent_project_group_id": root,
		}, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("cycle is conflict", func(t *testing.T) {
		rec := f.do("PUT", base+"/"+root, map[string]interface{}{
			"parent_project_group_id": child,
		}, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("delete with children is blocked", func(t *testing.T) {
		rec := f.do("DELETE", base+"/"+root, nil, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), "resource_in_use")
	})

	t.Run("recursive project listing", func(t *testing.T) {
		projBase := "/v1/domains/" + domainID + "/projects"
		for i, g := range []string{root, child} {
			rec := f.do("POST", projBase, map[string]interface{}{
				"name":             fmt.Sprintf("svc-%d", i),
				"project_group_id": g,
			}, nil)
			require.Equal(t, http.StatusCreated, rec.Code)
		}

		var list struct {
			TotalCount int `json:"total_count"`
		}
		rec := f.do("POST", base+"/"+root+"/projects/search", map[string]interface{}{}, &list)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, list.TotalCount)

		rec = f.do("POST", base+"/"+root+"/projects/search", map[string]interface{}{
			"recursive": true,
		}, &list)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 2, list.TotalCount)
	})

	t.Run("membership round trip", func(t *testing.T) {
		rec := f.do("POST", "/v1/domains/"+domainID+"/users", map[string]interface{}{
			"user_id": "carol@corp", "name": "Carol", "password": "pw",
		}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)

		memberBase := base + "/" + child + "/members"
		rec = f.do("POST", memberBase, map[string]interface{}{
			"user_id": "carol@corp",
			"labels":  []string{"oncall"},
		}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = f.do("POST", memberBase, map[string]interface{}{"user_id": "carol@corp"}, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)

		var list struct {
			Results    []map[string]interface{} `json:"results"`
			TotalCount int                      `json:"total_count"`
		}
		rec = f.do("POST", memberBase+"/search", map[string]interface{}{}, &list)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, 1, list.TotalCount)
		assert.Equal(t, "Carol", list.Results[0]["user_name"])

		rec = f.do("DELETE", memberBase+"/carol@corp", nil, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = f.do("DELETE", memberBase+"/carol@corp", nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestOversizedBodyIsRejected(t *testing.T) {
	f := newFixture(t)

	// 2 MiB of padding blows past the request body cap; the decode fails
	// before any service sees the payload.
	huge := bytes.Repeat([]byte("x"), 2<<20)
	body := fmt.Sprintf(`{"name":"big","tags":{"pad":"%s"}}`, huge)

	req := httptest.NewRequest("POST", "/v1/domains", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Identity-User", "root")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnauthenticatedRequestIsRejected(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest("GET", "/v1/domains/domain-1", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
