// Package database provides SQLite connectivity for the data sink daemon.
//
// It is used by the SQLite-backed device configuration store. The package
// manages:
//   - Opening the database with WAL mode and a busy timeout
//   - Applying embedded schema migrations in version order
//   - Health checks
//
// File permissions are restricted to the owner (0600); the containing
// directory is created on demand.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql. Each one is
// applied in its own transaction and recorded in schema_migrations.
package database
