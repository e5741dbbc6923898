package storage

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
)

// testDB creates a temporary database for testing.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenDB(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sub", "dir", "vidchat.db")

	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("database file not found: %v", err)
	}

	_, err = db.Exec(`INSERT INTO preferences (key, value) VALUES ('k', 'v')`)
	if err != nil {
		t.Fatalf("insert into preferences: %v", err)
	}
}

func TestOpenDB_MigrationsRunOnce(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "twice.db")

	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	db.Close()

	db, err = OpenDB(dbPath)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != len(migrations) {
		t.Errorf("schema_migrations has %d rows, want %d", count, len(migrations))
	}
}
