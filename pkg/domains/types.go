package domains

import (
	"context"
	"time"
)

// Domain is the tenant boundary scoping every other identity entity
type Domain struct {
	DomainID  string                 `json:"domain_id"`
	Name      string                 `json:"name"`
	Config    map[string]interface{} `json:"config,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Store persists domains
type Store interface {
	CreateDomain(ctx context.Context, d *Domain) error
	GetDomain(ctx context.Context, domainID string) (*Domain, error)
	DeleteDomain(ctx context.Context, domainID string) error
	ListDomains(ctx context.Context) ([]*Domain, error)
}
