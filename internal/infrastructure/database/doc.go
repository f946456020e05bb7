// Package database opens the SQLite file behind the connector's event
// journal and keeps its schema current.
//
// The handle is pinned to one connection, uses WAL mode when configured and
// restricts the file to its owner (0600). Migrations are forward-only files
// named NNNN_description.sql; the applied version is SQLite's user_version,
// so no bookkeeping table is needed.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Journal)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//	if err := db.RequireColumns(ctx, journal.Table, journal.Columns...); err != nil {
//	    return err
//	}
package database
