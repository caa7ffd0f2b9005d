package database

import (
	"path/filepath"
	"testing"
)

func TestOpenMigratedInMemory(t *testing.T) {
	db, err := OpenMigrated(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("OpenMigrated: %v", err)
	}
	defer db.Close()

	for _, table := range []string{"manga", "chapters", "reading_progress", "history", "categories", "category_manga"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}

	// second run must be a no-op
	if err := Migrate(db); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
}

func TestOpenCreatesDataDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data.db")
	db, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = db.Close()
}

func TestDefaultConfigEnv(t *testing.T) {
	t.Setenv("MANGASHELF_DB_PATH", "/tmp/x.db")
	if got := DefaultConfig().Path; got != "/tmp/x.db" {
		t.Fatalf("path = %q", got)
	}
}
