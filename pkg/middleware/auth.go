// Package middleware resolves the calling identity for each HTTP request
// and attaches it to the request context as an rbac.Principal.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/skyfactor/identity/pkg/errdefs"
	"github.com/skyfactor/identity/pkg/httputil"
	"github.com/skyfactor/identity/pkg/rbac"
)

// Credentials identify the caller before permission resolution
type Credentials struct {
	DomainID string
	UserID   string
}

// Authenticator turns request credentials into a verified identity.
// Token verification itself is delegated to the deployment (a gateway,
// or a TokenAuthenticator wired with the deployment's verifier).
type Authenticator interface {
	Authenticate(r *http.Request) (Credentials, error)
}

// HeaderAuthenticator trusts identity headers set by an upstream proxy
// that has already verified the caller.
type HeaderAuthenticator struct {
	DomainHeader string
	UserHeader   string
}

// NewHeaderAuthenticator creates a HeaderAuthenticator with the default
// X-Identity-Domain / X-Identity-User headers
func NewHeaderAuthenticator() *HeaderAuthenticator {
	return &HeaderAuthenticator{
		DomainHeader: "X-Identity-Domain",
		UserHeader:   "X-Identity-User",
	}
}

func (a *HeaderAuthenticator) Authenticate(r *http.Request) (Credentials, error) {
	userID := r.Header.Get(a.UserHeader)
	if userID == "" {
		return Credentials{}, errdefs.Validation("missing %s header", a.UserHeader)
	}
	return Credentials{
		DomainID: r.Header.Get(a.DomainHeader),
		UserID:   userID,
	}, nil
}

// TokenVerifier validates an opaque bearer token and returns the identity
// it was issued to
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Credentials, error)
}

// TokenAuthenticator extracts a Bearer token from the Authorization header
// and verifies it through the configured verifier
type TokenAuthenticator struct {
	verifier TokenVerifier
}

// NewTokenAuthenticator creates a TokenAuthenticator
func NewTokenAuthenticator(verifier TokenVerifier) *TokenAuthenticator {
	return &TokenAuthenticator{verifier: verifier}
}

func (a *TokenAuthenticator) Authenticate(r *http.Request) (Credentials, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return Credentials{}, errdefs.Validation("missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return Credentials{}, errdefs.Validation("invalid authorization header format")
	}
	return a.verifier.Verify(r.Context(), parts[1])
}

// PermissionSource resolves the effective grant set of a verified identity
type PermissionSource interface {
	PermissionsOf(ctx context.Context, domainID, userID string) (rbac.PermissionSet, error)
}

// AuthMiddleware authenticates requests and attaches the caller's principal
type AuthMiddleware struct {
	authenticator Authenticator
	permissions   PermissionSource
	optional      bool // If true, allow requests without credentials
}

// NewAuthMiddleware creates an authentication middleware. When optional is
// true, requests without credentials continue with no principal and fail
// only when a handler requires authorization.
func NewAuthMiddleware(authenticator Authenticator, permissions PermissionSource, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		authenticator: authenticator,
		permissions:   permissions,
		optional:      optional,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		creds, err := m.authenticator.Authenticate(r)
		if err != nil {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, err.Error())
			return
		}

		perms, err := m.permissions.PermissionsOf(r.Context(), creds.DomainID, creds.UserID)
		if err != nil {
			if errdefs.KindOf(err) == errdefs.KindNotFound {
				httputil.WriteUnauthorized(w, "unknown identity")
				return
			}
			httputil.WriteError(w, err)
			return
		}

		principal := &rbac.Principal{
			DomainID:    creds.DomainID,
			UserID:      creds.UserID,
			Permissions: perms,
		}
		ctx := rbac.WithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
