package sourcecfg

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/teranos/croplink/errors"
)

// Store is the read-only config store written by the deploy tool.
type Store interface {
	// LookupByContainer returns the enabled configs whose landing container
	// is name, ordered by source id.
	LookupByContainer(ctx context.Context, name string) ([]*SourceConfig, error)
	// LookupByID returns the current version of a config, enabled or not.
	LookupByID(ctx context.Context, sourceID string) (*SourceConfig, error)
	// ListEnabled returns the current version of every enabled config.
	ListEnabled(ctx context.Context) ([]*SourceConfig, error)
}

// SQLStore reads the source_configs table.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a store over db.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// ListEnabled implements Store.
func (s *SQLStore) ListEnabled(ctx context.Context) ([]*SourceConfig, error) {
	all, err := s.current(ctx, "")
	if err != nil {
		return nil, err
	}
	return enabledOnly(all), nil
}

// LookupByID implements Store.
func (s *SQLStore) LookupByID(ctx context.Context, sourceID string) (*SourceConfig, error) {
	all, err := s.current(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, errors.NewNotFoundError("source config %s", sourceID)
	}
	return all[0], nil
}

// LookupByContainer implements Store.
func (s *SQLStore) LookupByContainer(ctx context.Context, name string) ([]*SourceConfig, error) {
	enabled, err := s.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	return byContainer(enabled, name), nil
}

// current loads every row and keeps the highest version per source.
func (s *SQLStore) current(ctx context.Context, sourceID string) ([]*SourceConfig, error) {
	query := `SELECT source_id, version, enabled, body FROM source_configs`
	var args []any
	if sourceID != "" {
		query += ` WHERE source_id = ?`
		args = append(args, sourceID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query source configs")
	}
	defer rows.Close()

	var versions []*SourceConfig
	for rows.Next() {
		var (
			id, version, body string
			enabled           bool
		)
		if err := rows.Scan(&id, &version, &enabled, &body); err != nil {
			return nil, errors.Wrap(err, "failed to scan source config")
		}
		var cfg SourceConfig
		if err := json.Unmarshal([]byte(body), &cfg); err != nil {
			return nil, errors.WithDetail(
				errors.Wrap(err, "failed to decode source config body"),
				"Source ID: "+id+", version: "+version)
		}
		// The row key is authoritative over the body
		cfg.SourceID = id
		cfg.Version = version
		cfg.Enabled = enabled
		versions = append(versions, &cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating source configs")
	}

	return latest(versions), nil
}

// latest keeps the highest semantic version per source id. Unparseable
// versions sort below every valid one.
func latest(versions []*SourceConfig) []*SourceConfig {
	best := map[string]*SourceConfig{}
	for _, cfg := range versions {
		cur, ok := best[cfg.SourceID]
		if !ok || versionLess(cur.Version, cfg.Version) {
			best[cfg.SourceID] = cfg
		}
	}
	out := make([]*SourceConfig, 0, len(best))
	for _, cfg := range best {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

func versionLess(a, b string) bool {
	va, errA := semver.NewVersion(orZero(a))
	vb, errB := semver.NewVersion(orZero(b))
	switch {
	case errA != nil && errB != nil:
		return a < b
	case errA != nil:
		return true
	case errB != nil:
		return false
	}
	return va.LessThan(vb)
}

func orZero(v string) string {
	if v == "" {
		return "0.0.0"
	}
	return v
}

func enabledOnly(cfgs []*SourceConfig) []*SourceConfig {
	out := cfgs[:0:0]
	for _, cfg := range cfgs {
		if cfg.Enabled {
			out = append(out, cfg)
		}
	}
	return out
}

func byContainer(cfgs []*SourceConfig, name string) []*SourceConfig {
	var out []*SourceConfig
	for _, cfg := range cfgs {
		if cfg.Ingestion.Mode == ModeEventTriggered && cfg.Ingestion.LandingContainer == name {
			out = append(out, cfg)
		}
	}
	return out
}
