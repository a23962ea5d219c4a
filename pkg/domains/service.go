// Package domains manages the tenant boundary entity. Deletion cascades to
// domain-scoped resources are owned by a provisioning collaborator, not this
// service; operations referencing an unknown domain fail with NOT_FOUND.
package domains

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skyfactor/identity/pkg/errdefs"
	"github.com/skyfactor/identity/pkg/query"
	"github.com/skyfactor/identity/pkg/rbac"
)

// Service exposes domain lifecycle operations
type Service struct {
	store Store
}

// NewService creates a domain Service
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Create registers a new tenant domain
func (s *Service) Create(ctx context.Context, name string, config map[string]interface{}) (*Domain, error) {
	if err := rbac.Authorize(ctx, "identity.Domain.create"); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errdefs.Validation("domain name is required")
	}
	d := &Domain{
		DomainID:  "domain-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		Name:      name,
		Config:    config,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateDomain(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Get fetches one domain by id
func (s *Service) Get(ctx context.Context, domainID string) (*Domain, error) {
	if err := rbac.Authorize(ctx, "identity.Domain.get"); err != nil {
		return nil, err
	}
	return s.store.GetDomain(ctx, domainID)
}

// Delete removes a domain record
func (s *Service) Delete(ctx context.Context, domainID string) error {
	if err := rbac.Authorize(ctx, "identity.Domain.delete"); err != nil {
		return err
	}
	return s.store.DeleteDomain(ctx, domainID)
}

// List answers a filtered domain query with a total count
func (s *Service) List(ctx context.Context, q query.Query) ([]*Domain, int, error) {
	if err := rbac.Authorize(ctx, "identity.Domain.list"); err != nil {
		return nil, 0, err
	}
	all, err := s.store.ListDomains(ctx)
	if err != nil {
		return nil, 0, err
	}
	records := make([]query.Record, len(all))
	byID := make(map[string]*Domain, len(all))
	for i, d := range all {
		records[i] = query.Record{
			"domain_id":  d.DomainID,
			"name":       d.Name,
			"created_at": d.CreatedAt,
		}
		byID[d.DomainID] = d
	}
	matched, total := query.Apply(records, q)
	out := make([]*Domain, 0, len(matched))
	for _, rec := range matched {
		out = append(out, byID[rec["domain_id"].(string)])
	}
	return out, total, nil
}

// Exists verifies a domain id, returning NOT_FOUND when absent. Other
// services call this before any domain-scoped mutation.
func (s *Service) Exists(ctx context.Context, domainID string) error {
	if domainID == "" {
		return errdefs.Validation("domain_id is required")
	}
	_, err := s.store.GetDomain(ctx, domainID)
	return err
}
