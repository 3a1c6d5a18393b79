// Package database provides SQLite connectivity for the Lightify bridge.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Embedded schema migrations, applied in version order
//   - Connection pooling and lifecycle management
//
// The bridge keeps two things here: the last known light and group inventory,
// which the next refresh rebuilds, and the command log.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql, and are additive only.
package database
