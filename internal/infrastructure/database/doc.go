// Package database opens the SQLite file used by the dispatch journal.
//
// Open applies WAL mode, a busy timeout and foreign keys through the DSN,
// restricts the file to 0600 and limits the pool to a single writer.
// Migrate applies pending schema files from an fs.FS in version order,
// each in its own transaction, and records them in schema_migrations.
//
//	db, err := database.Open(database.FromConfig(cfg.Database, migrations.FS))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql. There are
// no down migrations: schema changes are additive, so new columns are
// nullable or carry a default.
package database
