package ingest

import (
	"context"
	"database/sql"

	"github.com/teranos/croplink/errors"
)

// Resolver expands a scheduled pull into one parameter value per element.
type Resolver interface {
	Resolve(ctx context.Context, tenantID string) ([]string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, tenantID string) ([]string, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, tenantID string) ([]string, error) {
	return f(ctx, tenantID)
}

// ActiveRegions lists the active regions visible to a tenant. Regions
// without a tenant are shared.
type ActiveRegions struct {
	db *sql.DB
}

// Resolve implements Resolver.
func (r *ActiveRegions) Resolve(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM regions
		WHERE active = 1 AND (tenant_id = '' OR ? = '' OR tenant_id = ?)
		ORDER BY id`, tenantID, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active regions")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan region id")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "failed to iterate regions")
}

// SQLResolvers returns every named resolver backed by db.
func SQLResolvers(db *sql.DB) map[string]Resolver {
	return map[string]Resolver{
		"active_regions": &ActiveRegions{db: db},
	}
}
