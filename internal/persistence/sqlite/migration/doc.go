// Package migration applies versioned SQL schema changes to the test centre
// SQLite store.
//
// Migration files are named {version}_{description}.sql and are read from any
// fs.FS, normally the set embedded into the sqlite package. Each migration runs
// in its own transaction and is recorded in the schema_migrations table
// together with its checksum and execution time.
//
// Example usage:
//
//	manager := NewManager(NewFileScanner(migrationsFS, "migrations"), NewSQLiteExecutor(db), logger)
//	if err := manager.RunMigrations(ctx); err != nil {
//		return err
//	}
package migration
