package linkage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/teranos/croplink/errors"
	"github.com/teranos/croplink/sourcecfg"
)

// Entity is a referenced domain record.
type Entity struct {
	ID       string
	TenantID string
	Name     string
	Active   bool
}

// Repository resolves entities of one kind by id. Lookup returns an error
// marked errors.ErrNotFound when the id is unknown.
type Repository interface {
	Lookup(ctx context.Context, id string) (*Entity, error)
}

// tables maps linkage kinds to the tables owned by the reference services.
var tables = map[sourcecfg.LinkageKind]string{
	sourcecfg.LinkFarmer:       "farmers",
	sourcecfg.LinkFactory:      "factories",
	sourcecfg.LinkGradingModel: "grading_models",
	sourcecfg.LinkRegion:       "regions",
}

// SQLRepository reads one reference table.
type SQLRepository struct {
	db    *sql.DB
	kind  sourcecfg.LinkageKind
	query string
}

// NewSQLRepository creates a repository for kind.
func NewSQLRepository(db *sql.DB, kind sourcecfg.LinkageKind) (*SQLRepository, error) {
	table, ok := tables[kind]
	if !ok {
		return nil, errors.Newf("unknown linkage kind %q", kind)
	}
	return &SQLRepository{
		db:    db,
		kind:  kind,
		query: fmt.Sprintf("SELECT id, tenant_id, name, active FROM %s WHERE id = ?", table),
	}, nil
}

// SQLRepositories returns a repository per linkage kind.
func SQLRepositories(db *sql.DB) map[sourcecfg.LinkageKind]Repository {
	repos := make(map[sourcecfg.LinkageKind]Repository, len(tables))
	for kind := range tables {
		repo, _ := NewSQLRepository(db, kind)
		repos[kind] = repo
	}
	return repos
}

// Lookup loads one entity.
func (r *SQLRepository) Lookup(ctx context.Context, id string) (*Entity, error) {
	var e Entity
	err := r.db.QueryRowContext(ctx, r.query, id).Scan(&e.ID, &e.TenantID, &e.Name, &e.Active)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "%s %s", r.kind, id)
	}
	if err != nil {
		err = errors.WithDetail(err, fmt.Sprintf("Kind: %s, ID: %s", r.kind, id))
		return nil, errors.Wrap(err, "failed to look up linked entity")
	}
	return &e, nil
}
