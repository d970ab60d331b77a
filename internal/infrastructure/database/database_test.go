package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// openTestDB opens an in-memory database closed at test cleanup.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(Config{Path: ":memory:", BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	return db
}

func TestOpen(t *testing.T) {
	t.Run("creates database file and directory", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "nested", "datasink.db")

		db, err := Open(Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer db.Close() //nolint:errcheck // Test cleanup

		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			t.Error("database file was not created")
		}
		if db.Path() != dbPath {
			t.Errorf("Path() = %v, want %v", db.Path(), dbPath)
		}
	})

	t.Run("rejects empty path", func(t *testing.T) {
		if _, err := Open(Config{}); err == nil {
			t.Error("Open() with empty path should fail")
		}
	})
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestHealthCheck_Closed(t *testing.T) {
	db, err := Open(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	db.Close() //nolint:errcheck // Closing on purpose

	if err := db.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() on closed database should fail")
	}
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	applied, err := db.Migrate(ctx, os.DirFS("testdata"))
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if applied != 2 {
		t.Errorf("Migrate() applied %d migrations, want 2", applied)
	}

	// Second migration added the color column
	if _, err := db.ExecContext(ctx,
		"INSERT INTO widgets (id, name, color) VALUES (?, ?, ?)", "w1", "first", "red",
	); err != nil {
		t.Fatalf("insert after migrations: %v", err)
	}

	// Running again is a no-op
	applied, err = db.Migrate(ctx, os.DirFS("testdata"))
	if err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if applied != 0 {
		t.Errorf("second Migrate() applied %d migrations, want 0", applied)
	}
}

func TestMigrate_NilFS(t *testing.T) {
	db := openTestDB(t)

	applied, err := db.Migrate(context.Background(), nil)
	if err != nil {
		t.Fatalf("Migrate(nil) error = %v", err)
	}
	if applied != 0 {
		t.Errorf("Migrate(nil) applied %d, want 0", applied)
	}
}

func TestLoadMigrations_SortedAndFiltered(t *testing.T) {
	migrations, err := LoadMigrations(os.DirFS("testdata"))
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}

	if len(migrations) != 2 {
		t.Fatalf("LoadMigrations() returned %d, want 2 (README ignored)", len(migrations))
	}
	if migrations[0].Version != "20260101_000000" || migrations[0].Name != "widgets" {
		t.Errorf("first migration = %+v", migrations[0])
	}
	if migrations[1].Version != "20260102_000000" || migrations[1].Name != "widget_color" {
		t.Errorf("second migration = %+v", migrations[1])
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantOK      bool
	}{
		{"20260118_120000_device_configs.up.sql", "20260118_120000", "device_configs", true},
		{"20260118_120000_device_configs.down.sql", "", "", false},
		{"20260118_120000.up.sql", "", "", false},
		{"notes.txt", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOK || version != tt.wantVersion || name != tt.wantName {
				t.Errorf("parseMigrationFilename(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.filename, version, name, ok, tt.wantVersion, tt.wantName, tt.wantOK)
			}
		})
	}
}
