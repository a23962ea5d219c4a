// Package providers manages the global provider catalog.
package providers

import (
	"context"
	"time"

	"github.com/skyfactor/identity/pkg/errdefs"
	"github.com/skyfactor/identity/pkg/query"
	"github.com/skyfactor/identity/pkg/rbac"
	"github.com/skyfactor/identity/pkg/validation"
)

// Service exposes provider catalog operations
type Service struct {
	store Store
}

// NewService creates a provider Service
func NewService(store Store) *Service {
	return &Service{store: store}
}

// CreateRequest carries the provider attributes. The provider key is
// immutable after creation.
type CreateRequest struct {
	Provider   string                 `json:"provider"`
	Name       string                 `json:"name"`
	Template   map[string]interface{} `json:"template,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Capability map[string]interface{} `json:"capability,omitempty"`
	Tags       map[string]interface{} `json:"tags,omitempty"`
}

// Create registers a provider; duplicate keys fail with NOT_UNIQUE
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Provider, error) {
	if err := rbac.Authorize(ctx, "identity.Provider.create"); err != nil {
		return nil, err
	}
	if req.Provider == "" {
		return nil, errdefs.Validation("provider key is required")
	}
	if err := validation.ValidateName(req.Name); err != nil {
		return nil, err
	}
	if err := validation.ValidateTags(req.Tags); err != nil {
		return nil, err
	}
	p := &Provider{
		Provider:   req.Provider,
		Name:       req.Name,
		Template:   req.Template,
		Metadata:   req.Metadata,
		Capability: req.Capability,
		Tags:       req.Tags,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.CreateProvider(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateRequest updates the mutable provider fields; nil maps leave the
// stored value unchanged
type UpdateRequest struct {
	Provider   string                 `json:"provider"`
	Name       string                 `json:"name,omitempty"`
	Template   map[string]interface{} `json:"template,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Capability map[string]interface{} `json:"capability,omitempty"`
	Tags       map[string]interface{} `json:"tags,omitempty"`
}

// Update applies the non-nil fields of the request
func (s *Service) Update(ctx context.Context, req UpdateRequest) (*Provider, error) {
	if err := rbac.Authorize(ctx, "identity.Provider.update"); err != nil {
		return nil, err
	}
	p, err := s.store.GetProvider(ctx, req.Provider)
	if err != nil {
		return nil, err
	}
	if req.Name != "" {
		if err := validation.ValidateName(req.Name); err != nil {
			return nil, err
		}
		p.Name = req.Name
	}
	if req.Template != nil {
		p.Template = req.Template
	}
	if req.Metadata != nil {
		p.Metadata = req.Metadata
	}
	if req.Capability != nil {
		p.Capability = req.Capability
	}
	if req.Tags != nil {
		if err := validation.ValidateTags(req.Tags); err != nil {
			return nil, err
		}
		p.Tags = req.Tags
	}
	if err := s.store.UpdateProvider(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Delete removes a provider from the catalog
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := rbac.Authorize(ctx, "identity.Provider.delete"); err != nil {
		return err
	}
	return s.store.DeleteProvider(ctx, key)
}

// Get fetches one provider by key
func (s *Service) Get(ctx context.Context, key string) (*Provider, error) {
	if err := rbac.Authorize(ctx, "identity.Provider.get"); err != nil {
		return nil, err
	}
	return s.store.GetProvider(ctx, key)
}

// List answers a filtered provider query with a total count. The optional
// key narrows to one provider without a full query clause.
func (s *Service) List(ctx context.Context, key string, q query.Query) ([]*Provider, int, error) {
	if err := rbac.Authorize(ctx, "identity.Provider.list"); err != nil {
		return nil, 0, err
	}
	if key != "" {
		q.Filters = append(q.Filters, query.Filter{Key: "provider", Value: key, Operator: query.OpEqual})
	}
	all, err := s.store.ListProviders(ctx)
	if err != nil {
		return nil, 0, err
	}
	records := make([]query.Record, len(all))
	byKey := make(map[string]*Provider, len(all))
	for i, p := range all {
		records[i] = record(p)
		byKey[p.Provider] = p
	}
	matched, total := query.Apply(records, q)
	out := make([]*Provider, 0, len(matched))
	for _, rec := range matched {
		out = append(out, byKey[rec["provider"].(string)])
	}
	return out, total, nil
}

// Stat runs an aggregation pipeline over the provider catalog
func (s *Service) Stat(ctx context.Context, q query.StatQuery) ([]query.Record, error) {
	if err := rbac.Authorize(ctx, "identity.Provider.stat"); err != nil {
		return nil, err
	}
	all, err := s.store.ListProviders(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]query.Record, len(all))
	for i, p := range all {
		records[i] = record(p)
	}
	return query.Stat(records, q)
}

// InstallDefaults seeds the built-in providers at bootstrap. Seeding is an
// explicit deployment step, never a lazy side effect of a list call. Already
// installed providers are left untouched.
func (s *Service) InstallDefaults(ctx context.Context) error {
	for _, p := range defaultProviders() {
		err := s.store.CreateProvider(ctx, p)
		if err != nil && errdefs.KindOf(err) != errdefs.KindNotUnique {
			return err
		}
	}
	return nil
}

func defaultProviders() []*Provider {
	return []*Provider{
		{
			Provider: "aws",
			Name:     "AWS",
			Template: map[string]interface{}{
				"service_account": map[string]interface{}{
					"schema": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"account_id": map[string]interface{}{
								"title": "Account ID",
								"type":  "string",
							},
						},
						"required": []interface{}{"account_id"},
					},
				},
			},
			Capability: map[string]interface{}{
				"supported_schema": []interface{}{"aws_access_key", "aws_assume_role"},
			},
			CreatedAt: time.Now().UTC(),
		},
	}
}

func record(p *Provider) query.Record {
	tags := p.Tags
	if tags == nil {
		tags = map[string]interface{}{}
	}
	return query.Record{
		"provider":   p.Provider,
		"name":       p.Name,
		"tags":       tags,
		"created_at": p.CreatedAt,
	}
}
