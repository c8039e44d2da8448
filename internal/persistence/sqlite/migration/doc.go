// Package migration applies versioned SQLite schema changes.
//
// Migrations are read from an fs.FS (usually an embed.FS compiled into the
// binary) and follow the naming convention {version}_{description}.sql, e.g.
// "001_slots.sql". Each file runs in its own transaction and is recorded in the
// schema_migrations table so it is applied exactly once.
//
//	manager := migration.NewManager(migration.NewScanner(files, "migrations"), migration.NewExecutor(db), logger)
//	if err := manager.Run(ctx); err != nil {
//		return err
//	}
package migration
