// Package migration applies versioned schema files to a SQLite database.
//
// Files are read from an fs.FS (usually an embed.FS owned by the store) and
// must be named {version}_{description}.sql, e.g. "001_initial_schema.sql".
// Applied versions are tracked in a schema_migrations table together with
// the file checksum, so an edited migration is reported instead of being
// silently skipped.
//
// Example usage:
//
//	manager := migration.NewManager(migration.NewScanner(files, "migrations"), migration.NewExecutor(db), logger)
//	if _, err := manager.Run(ctx); err != nil {
//		return fmt.Errorf("migrate: %w", err)
//	}
package migration
