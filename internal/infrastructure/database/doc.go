// Package database provides SQLite connectivity and schema migrations.
//
// This package manages:
//   - Database connection with WAL mode for file-backed databases
//   - A single-connection pool so writes are serialised
//   - Embedded, versioned schema migrations
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
// matching .down.sql, and are registered by the top-level migrations package.
package database
