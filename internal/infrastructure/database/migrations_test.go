package database

import (
	"context"
	"testing"
	"testing/fstest"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260101_000000_runs.up.sql": {Data: []byte(
			"CREATE TABLE runs (id TEXT PRIMARY KEY, topic TEXT NOT NULL) STRICT;")},
		"20260101_000000_runs.down.sql": {Data: []byte("DROP TABLE runs;")}, // ignored
		"20260102_000000_runs_index.up.sql": {Data: []byte(
			"CREATE INDEX idx_runs_topic ON runs(topic);")},
		"README.md": {Data: []byte("ignored")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()

	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name,
	).Scan(&n)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, testMigrations()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "runs") {
		t.Fatal("table runs not created")
	}

	applied, err := db.Applied(ctx)
	if err != nil {
		t.Fatalf("Applied() error = %v", err)
	}
	if len(applied) != 2 || applied[0] != "20260101_000000" || applied[1] != "20260102_000000" {
		t.Errorf("Applied() = %v", applied)
	}

	// Running again is a no-op.
	if err := db.Migrate(ctx, testMigrations()); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	pending, err := db.Pending(ctx, testMigrations())
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Pending() = %d migrations, want 0", len(pending))
	}
}

func TestMigrate_FailureStopsAtBrokenStep(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fsys := testMigrations()
	fsys["20260102_000000_runs_index.up.sql"] = &fstest.MapFile{Data: []byte("CREATE INDEX nope ON missing(x);")}

	if err := db.Migrate(ctx, fsys); err == nil {
		t.Fatal("Migrate() error = nil for a broken migration")
	}
	applied, err := db.Applied(ctx)
	if err != nil {
		t.Fatalf("Applied() error = %v", err)
	}
	if len(applied) != 1 {
		t.Errorf("Applied() = %v, want only the first migration", applied)
	}
}

func TestLoadMigrations(t *testing.T) {
	migrations, err := LoadMigrations(testMigrations())
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("LoadMigrations() = %d migrations, want 2", len(migrations))
	}
	if migrations[0].Name != "runs" || migrations[0].UpSQL == "" {
		t.Errorf("first migration = %+v", migrations[0])
	}
	if migrations[1].Name != "runs_index" {
		t.Errorf("second migration = %+v", migrations[1])
	}

	if got, err := LoadMigrations(nil); err != nil || got != nil {
		t.Errorf("LoadMigrations(nil) = %v, %v", got, err)
	}

	dup := fstest.MapFS{
		"20260101_000000_a.up.sql": {Data: []byte("SELECT 1;")},
		"20260101_000000_b.up.sql": {Data: []byte("SELECT 2;")},
	}
	if _, err := LoadMigrations(dup); err == nil {
		t.Error("LoadMigrations() error = nil for two files with one version")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantOK      bool
	}{
		{"20261019_120000_publish_runs.up.sql", "20261019_120000", "publish_runs", true},
		{"20261019_120000.up.sql", "20261019_120000", "20261019_120000", true},
		{"20261019_120000_publish_runs.down.sql", "", "", false},
		{"20261019_120000_x.sql", "", "", false},
		{"20261019.up.sql", "", "", false},
		{"notes.txt", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, ok := parseMigrationFilename(tt.filename)
			if version != tt.wantVersion || name != tt.wantName || ok != tt.wantOK {
				t.Errorf("parseMigrationFilename(%q) = %q, %q, %v; want %q, %q, %v",
					tt.filename, version, name, ok,
					tt.wantVersion, tt.wantName, tt.wantOK)
			}
		})
	}
}
