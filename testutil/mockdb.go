package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// CreateInMemoryDB creates an empty in-memory SQLite database for testing.
// The pool is pinned to one connection so every query sees the same data.
func CreateInMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// CreateSQLiteFixture creates an empty SQLite file and returns its path
func CreateSQLiteFixture(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "sessions.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Exec("CREATE TABLE IF NOT EXISTS probe (id INTEGER)"); err != nil {
		t.Fatalf("Failed to create fixture table: %v", err)
	}
	return path
}

// InsertSession inserts a raw session row, bypassing number allocation
func InsertSession(t *testing.T, db *sql.DB, serverID string, number int64, token string, createdAtMillis int64) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO sessions (server_id, server_number, project, token, status, created_at, last_seen_at)
		VALUES (?, ?, 'fixture', ?, 'completed', ?, ?)`, serverID, number, token, createdAtMillis, createdAtMillis)
	if err != nil {
		t.Fatalf("Failed to insert session: %v", err)
	}
}
