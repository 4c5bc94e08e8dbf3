// Package database provides the SQLite store behind the device registry.
//
// Open configures WAL mode, a busy timeout and foreign keys, and limits
// the pool to a single connection. Schema changes are versioned
// migrations read from an fs.FS (normally the embedded migrations package):
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql. All queries use parameterised statements.
package database
