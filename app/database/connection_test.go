package database

import (
	"path/filepath"
	"testing"
)

// newTestDB opens a migrated database in a temp directory. Shared by the
// repository tests in this package.
func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewConnection(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return db
}

func TestNewConnectionCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "test.db")

	db, err := NewConnection(path)
	if err != nil {
		t.Fatalf("Expected connection to create parent directory, got %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := RunMigrations(db)
	if err != nil {
		t.Fatalf("Second migration run failed: %v", err)
	}
	if dirty {
		t.Error("Expected clean migration state")
	}
	if version == 0 {
		t.Error("Expected non-zero migration version")
	}
}
