package rbac

import (
	"context"

	"github.com/skyfactor/identity/pkg/errdefs"
)

type principalKey struct{}

// WithPrincipal attaches the authenticated caller to the context
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom extracts the caller from the context
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}

// Authorize gates an action against the caller in the context. A missing
// principal denies, the same as an empty grant set.
func Authorize(ctx context.Context, action string) error {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return errdefs.Forbidden(action)
	}
	return p.Permissions.Authorize(action)
}

// AuthorizeInDomain additionally rejects callers operating outside their own
// domain. A principal with an empty domain id is domain-unscoped (system
// tooling) and may address any domain.
func AuthorizeInDomain(ctx context.Context, action, domainID string) error {
	if err := Authorize(ctx, action); err != nil {
		return err
	}
	p, _ := PrincipalFrom(ctx)
	if p.DomainID != "" && p.DomainID != domainID {
		return errdefs.Forbidden(action)
	}
	return nil
}
