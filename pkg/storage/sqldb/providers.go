package sqldb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/skyfactor/identity/pkg/errdefs"
	"github.com/skyfactor/identity/pkg/providers"
)

// CreateProvider inserts a catalog entry; the provider key primary key makes
// the uniqueness check atomic
func (s *Store) CreateProvider(ctx context.Context, p *providers.Provider) error {
	template, err := encodeJSON(p.Template)
	if err != nil {
		return err
	}
	metadata, err := encodeJSON(p.Metadata)
	if err != nil {
		return err
	}
	capability, err := encodeJSON(p.Capability)
	if err != nil {
		return err
	}
	tags, err := encodeJSON(p.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO providers (provider, name, template, metadata, capability, tags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.Provider, p.Name, template, metadata, capability, tags, p.CreatedAt)
	if isUniqueViolation(err) {
		return errdefs.NotUnique("provider", p.Provider)
	}
	if err != nil {
		return fmt.Errorf("insert provider: %w", err)
	}
	return nil
}

func scanProvider(scan func(dest ...interface{}) error) (*providers.Provider, error) {
	var (
		p                                 providers.Provider
		template, metadata, capability, tags sql.NullString
	)
	err := scan(&p.Provider, &p.Name, &template, &metadata, &capability, &tags, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(template, &p.Template); err != nil {
		return nil, err
	}
	if err := decodeJSON(metadata, &p.Metadata); err != nil {
		return nil, err
	}
	if err := decodeJSON(capability, &p.Capability); err != nil {
		return nil, err
	}
	if err := decodeJSON(tags, &p.Tags); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProvider(ctx context.Context, key string) (*providers.Provider, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT provider, name, template, metadata, capability, tags, created_at
		FROM providers WHERE provider = $1
	`, key)
	p, err := scanProvider(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("provider", key)
	}
	if err != nil {
		return nil, fmt.Errorf("select provider: %w", err)
	}
	return p, nil
}

func (s *Store) UpdateProvider(ctx context.Context, p *providers.Provider) error {
	template, err := encodeJSON(p.Template)
	if err != nil {
		return err
	}
	metadata, err := encodeJSON(p.Metadata)
	if err != nil {
		return err
	}
	capability, err := encodeJSON(p.Capability)
	if err != nil {
		return err
	}
	tags, err := encodeJSON(p.Tags)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE providers SET name = $2, template = $3, metadata = $4, capability = $5, tags = $6
		WHERE provider = $1
	`, p.Provider, p.Name, template, metadata, capability, tags)
	if err != nil {
		return fmt.Errorf("update provider: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.NotFound("provider", p.Provider)
	}
	return nil
}

func (s *Store) DeleteProvider(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE provider = $1`, key)
	if err != nil {
		return fmt.Errorf("delete provider: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.NotFound("provider", key)
	}
	return nil
}

func (s *Store) ListProviders(ctx context.Context) ([]*providers.Provider, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, name, template, metadata, capability, tags, created_at
		FROM providers ORDER BY created_at, provider
	`)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	var out []*providers.Provider
	for rows.Next() {
		p, err := scanProvider(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate providers: %w", err)
	}
	return out, nil
}
