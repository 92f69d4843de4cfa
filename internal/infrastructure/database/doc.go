// Package database opens the SQLite file that backs the publish journal.
//
// This package manages:
//   - Opening the database with WAL mode and a busy timeout
//   - Applying embedded schema migrations in version order
//   - Health checks and lifecycle
//
// The journal is optional; cmd/simplepub opens it only when audit.enabled
// is set. Each simplepub run is short, so the pool is a single connection.
//
// Usage:
//
//	db, err := database.Open(cfg.Audit)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//	if err := db.HealthCheck(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql; other
// files in the directory are ignored.
package database
