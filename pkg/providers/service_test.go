package providers_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyfactor/identity/pkg/errdefs"
	"github.com/skyfactor/identity/pkg/providers"
	"github.com/skyfactor/identity/pkg/query"
	"github.com/skyfactor/identity/pkg/rbac"
	"github.com/skyfactor/identity/pkg/storage/memory"
)

func adminCtx(t *testing.T) context.Context {
	t.Helper()
	perms, err := rbac.ParsePermissions([]string{"identity.Provider.*"})
	require.NoError(t, err)
	return rbac.WithPrincipal(context.Background(), &rbac.Principal{
		UserID:      "root@system",
		Permissions: perms,
	})
}

func TestCreateProvider(t *testing.T) {
	svc := providers.NewService(memory.NewStore())
	ctx := adminCtx(t)

	p, err := svc.Create(ctx, providers.CreateRequest{
		Provider: "gcp",
		Name:     "Google Cloud",
		Template: map[string]interface{}{"project_id": map[string]interface{}{"type": "string"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "gcp", p.Provider)

	_, err = svc.Create(ctx, providers.CreateRequest{Provider: "gcp", Name: "dup"})
	assert.Equal(t, errdefs.KindNotUnique, errdefs.KindOf(err))

	_, err = svc.Create(ctx, providers.CreateRequest{Name: "no key"})
	assert.Equal(t, errdefs.KindValidation, errdefs.KindOf(err))

	_, err = svc.Create(ctx, providers.CreateRequest{Provider: "azure", Name: strings.Repeat("x", 200)})
	assert.Equal(t, errdefs.KindValidation, errdefs.KindOf(err))
}

func TestUpdateProvider(t *testing.T) {
	svc := providers.NewService(memory.NewStore())
	ctx := adminCtx(t)

	_, err := svc.Create(ctx, providers.CreateRequest{
		Provider: "gcp",
		Name:     "Google Cloud",
		Template: map[string]interface{}{"project_id": map[string]interface{}{"type": "string"}},
		Tags:     map[string]interface{}{"stage": "beta"},
	})
	require.NoError(t, err)

	// non-nil maps replace wholesale, absent maps stay untouched
	p, err := svc.Update(ctx, providers.UpdateRequest{
		Provider: "gcp",
		Name:     "GCP",
		Tags:     map[string]interface{}{"stage": "ga"},
	})
	require.NoError(t, err)
	assert.Equal(t, "GCP", p.Name)
	assert.Equal(t, "ga", p.Tags["stage"])
	assert.NotNil(t, p.Template["project_id"])

	_, err = svc.Update(ctx, providers.UpdateRequest{Provider: "ghost", Name: "nope"})
	assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))
}

func TestListProvidersKeyShortcut(t *testing.T) {
	svc := providers.NewService(memory.NewStore())
	ctx := adminCtx(t)

	for _, key := range []string{"aws", "gcp", "azure"} {
		_, err := svc.Create(ctx, providers.CreateRequest{Provider: key, Name: key})
		require.NoError(t, err)
	}

	out, total, err := svc.List(ctx, "gcp", query.Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, out, 1)
	assert.Equal(t, "gcp", out[0].Provider)

	out, total, err = svc.List(ctx, "", query.Query{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, out, 3)
}

func TestInstallDefaults(t *testing.T) {
	svc := providers.NewService(memory.NewStore())
	ctx := adminCtx(t)

	require.NoError(t, svc.InstallDefaults(ctx))

	aws, err := svc.Get(ctx, "aws")
	require.NoError(t, err)
	assert.Equal(t, "AWS", aws.Name)
	assert.NotNil(t, aws.Capability["supported_schema"])

	// a second install leaves the customized entry alone
	_, err = svc.Update(ctx, providers.UpdateRequest{Provider: "aws", Name: "Amazon Web Services"})
	require.NoError(t, err)
	require.NoError(t, svc.InstallDefaults(ctx))

	aws, err = svc.Get(ctx, "aws")
	require.NoError(t, err)
	assert.Equal(t, "Amazon Web Services", aws.Name)
}

func TestDeleteProvider(t *testing.T) {
	svc := providers.NewService(memory.NewStore())
	ctx := adminCtx(t)

	_, err := svc.Create(ctx, providers.CreateRequest{Provider: "aws", Name: "AWS"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "aws"))
	err = svc.Delete(ctx, "aws")
	assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))
}
