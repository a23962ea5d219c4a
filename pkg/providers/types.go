package providers

import (
	"context"
	"time"
)

// Provider is a global (not domain-scoped) catalog entry describing a cloud
// provider integration: its account template schema, console view metadata
// and capability descriptor
type Provider struct {
	Provider   string                 `json:"provider"` // unique catalog key
	Name       string                 `json:"name"`
	Template   map[string]interface{} `json:"template,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Capability map[string]interface{} `json:"capability,omitempty"`
	Tags       map[string]interface{} `json:"tags,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Store persists the provider catalog. CreateProvider must enforce key
// uniqueness atomically and report violations as NOT_UNIQUE.
type Store interface {
	CreateProvider(ctx context.Context, p *Provider) error
	GetProvider(ctx context.Context, key string) (*Provider, error)
	UpdateProvider(ctx context.Context, p *Provider) error
	DeleteProvider(ctx context.Context, key string) error
	ListProviders(ctx context.Context) ([]*Provider, error)
}
