package migrations

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	// A single connection keeps the in-memory database alive across calls.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUp_CreatesKVTable(t *testing.T) {
	db := openTestDB(t)

	if err := Up(db); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	for _, table := range []string{"kv", "schema_migrations"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s was not created: %v", table, err)
		}
	}
}

func TestUp_Idempotent(t *testing.T) {
	db := openTestDB(t)

	for i := 0; i < 2; i++ {
		if err := Up(db); err != nil {
			t.Fatalf("Up() iteration %d failed: %v", i+1, err)
		}
	}
}

func TestCheckStatus(t *testing.T) {
	db := openTestDB(t)

	err := CheckStatus(db)
	if err == nil {
		t.Fatal("CheckStatus() on fresh database expected error, got nil")
	}
	if err.Error() != "database has no schema version (needs migration)" {
		t.Errorf("CheckStatus() error = %q, want needs-migration error", err.Error())
	}

	if err := Up(db); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}
	if err := CheckStatus(db); err != nil {
		t.Errorf("CheckStatus() after Up() = %v, want nil", err)
	}
}

func TestLatestVersion(t *testing.T) {
	v, err := LatestVersion()
	if err != nil {
		t.Fatalf("LatestVersion() error = %v", err)
	}
	if v != 1 {
		t.Errorf("LatestVersion() = %d, want 1", v)
	}
}
