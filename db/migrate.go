package db

import (
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/croplink/errors"
	"github.com/teranos/croplink/logger"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

const migrationsDir = "sqlite/migrations"

// Migration is one embedded schema change. Version is the numeric filename
// prefix; 000 creates schema_migrations itself.
type Migration struct {
	Version  string
	Filename string
}

func allMigrations() ([]Migration, error) {
	entries, err := migrations.ReadDir(migrationsDir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}

	var all []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		all = append(all, Migration{Version: strings.SplitN(name, "_", 2)[0], Filename: name})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Version < all[j].Version })
	return all, nil
}

// Pending returns the migrations not yet recorded in schema_migrations, in
// the order Migrate would apply them.
func Pending(db *sql.DB) ([]Migration, error) {
	all, err := allMigrations()
	if err != nil {
		return nil, err
	}

	var tables int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'`).Scan(&tables)
	if err != nil {
		return nil, errors.Wrap(err, "inspect schema")
	}
	if tables == 0 {
		return all, nil
	}

	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, errors.Wrap(err, "read applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "scan migration version")
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "read applied migrations")
	}

	var pending []Migration
	for _, m := range all {
		if !applied[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// Migrate applies every pending migration, each in its own transaction
// together with its schema_migrations row. A nil log runs silently.
func Migrate(db *sql.DB, log *zap.SugaredLogger) error {
	pending, err := Pending(db)
	if err != nil {
		return err
	}

	if log != nil {
		log = logger.AddDBSymbol(log)
	}

	for _, m := range pending {
		if err := apply(db, m); err != nil {
			return err
		}
		if log != nil {
			log.Infow("Applied migration", "migration", m.Filename, "version", m.Version)
		}
	}

	if log != nil && len(pending) > 0 {
		log.Infow("Migrations complete", "applied", len(pending))
	}
	return nil
}

func apply(db *sql.DB, m Migration) error {
	body, err := migrations.ReadFile(path.Join(migrationsDir, m.Filename))
	if err != nil {
		return errors.Wrapf(err, "read %s", m.Filename)
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrapf(err, "begin tx for %s", m.Filename)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(body)); err != nil {
		return errors.Wrapf(err, "execute %s", m.Filename)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.Version); err != nil {
		return errors.Wrapf(err, "record %s", m.Filename)
	}
	return errors.Wrapf(tx.Commit(), "commit %s", m.Filename)
}
