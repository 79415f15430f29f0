package testing

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/teranos/croplink/db"
)

// CreateTestDB creates an in-memory SQLite test database with all
// migrations applied. Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	// Every connection to :memory: is a separate database
	conn.SetMaxOpenConns(1)

	if err := db.Migrate(conn, nil); err != nil {
		conn.Close()
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}

// SeedReference inserts active reference entities into table for linkage tests.
func SeedReference(t *testing.T, conn *sql.DB, table string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if _, err := conn.Exec("INSERT INTO "+table+" (id, name, active) VALUES (?, ?, 1)", id, id); err != nil {
			t.Fatalf("Failed to seed %s %s: %v", table, id, err)
		}
	}
}
