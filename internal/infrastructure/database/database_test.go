package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/simplepub/internal/infrastructure/config"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(config.AuditConfig{
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen(t *testing.T) {
	t.Run("creates nested directory and file", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "data", "nested", "journal.db")

		db, err := Open(config.AuditConfig{Path: dbPath, WALMode: true, BusyTimeout: 5})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer db.Close() //nolint:errcheck // Test cleanup

		if _, err := os.Stat(dbPath); err != nil {
			t.Errorf("database file not created: %v", err)
		}
		if db.Path() != dbPath {
			t.Errorf("Path() = %q, want %q", db.Path(), dbPath)
		}
	})

	t.Run("empty path", func(t *testing.T) {
		if _, err := Open(config.AuditConfig{}); err == nil {
			t.Error("Open() with empty path error = nil")
		}
	})
}

func TestOpen_JournalMode(t *testing.T) {
	tests := []struct {
		name string
		wal  bool
		want string
	}{
		{"wal", true, "wal"},
		{"default", false, "delete"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := Open(config.AuditConfig{
				Path:        filepath.Join(t.TempDir(), "journal.db"),
				WALMode:     tt.wal,
				BusyTimeout: 1,
			})
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer db.Close() //nolint:errcheck // Test cleanup

			got, err := db.JournalMode(context.Background())
			if err != nil {
				t.Fatalf("JournalMode() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("JournalMode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestClose(t *testing.T) {
	db := openTestDB(t)
	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	var nilDB *DB
	if err := nilDB.Close(); err != nil {
		t.Errorf("Close() on nil DB error = %v", err)
	}
}
