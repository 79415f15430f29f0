package commands

import (
	"database/sql"

	"github.com/teranos/croplink/am"
	"github.com/teranos/croplink/db"
	"github.com/teranos/croplink/errors"
	"github.com/teranos/croplink/logger"
)

// openDatabase opens and migrates the database at dbPath, or at the
// configured database.path when dbPath is empty.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		cfg, err := am.Load()
		if err != nil {
			return nil, errors.Wrap(err, "failed to load configuration")
		}
		dbPath = cfg.GetDatabasePath()
	}

	database, err := db.OpenWithMigrations(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	return database, nil
}
