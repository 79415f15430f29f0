package db

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/croplink/errors"
)

func TestOpen(t *testing.T) {
	t.Run("opens database with pragmas applied", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")

		db, err := Open(dbPath, zaptest.NewLogger(t).Sugar())
		require.NoError(t, err)
		defer db.Close()

		var journalMode string
		require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
		assert.Equal(t, "wal", journalMode)

		var foreignKeys int
		require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
		assert.Equal(t, 1, foreignKeys)

		var busyTimeout int
		require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
		assert.Equal(t, SQLiteBusyTimeoutMS, busyTimeout)
	})

	t.Run("returns error for unwritable path", func(t *testing.T) {
		db, err := Open("/invalid/nonexistent/path/db.sqlite", nil)
		if err == nil {
			defer db.Close()
			assert.Error(t, db.Ping())
		}
	})
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "croplink.db?_foreign_keys=on&_busy_timeout=5000", dsn("croplink.db"))
	assert.Equal(t, "file:x.db?mode=ro", dsn("file:x.db?mode=ro"))
}

func TestIsDatabaseClosed(t *testing.T) {
	assert.False(t, IsDatabaseClosed(nil))
	assert.True(t, IsDatabaseClosed(errors.Wrap(ErrDatabaseClosed, "listing jobs")))
	assert.True(t, IsDatabaseClosed(errors.New("sql: database is closed")))
	assert.False(t, IsDatabaseClosed(errors.New("no such table")))
}

func TestIsUniqueViolation(t *testing.T) {
	t.Run("real constraint failure", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "u.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		_, err = db.Exec("CREATE TABLE t (a TEXT, b TEXT, UNIQUE(a, b))")
		require.NoError(t, err)
		_, err = db.Exec("INSERT INTO t VALUES ('x', 'y')")
		require.NoError(t, err)

		_, err = db.Exec("INSERT INTO t VALUES ('x', 'y')")
		require.Error(t, err)
		assert.True(t, IsUniqueViolation(errors.Wrap(err, "insert")))
	})

	t.Run("constructed driver errors", func(t *testing.T) {
		assert.True(t, IsUniqueViolation(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintPrimaryKey}))
		assert.False(t, IsUniqueViolation(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey}))
		assert.False(t, IsUniqueViolation(fmt.Errorf("UNIQUE constraint failed")))
		assert.False(t, IsUniqueViolation(nil))
	})
}
