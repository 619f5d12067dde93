package migrations

import (
	"database/sql"
	"fmt"
	"sort"
)

// Migration is one versioned schema change. Up and Down run inside the
// same transaction as the bookkeeping insert, so a failed migration
// leaves no trace in the schema.
type Migration struct {
	Version int64
	Name    string
	Up      func(*sql.Tx) error
	Down    func(*sql.Tx) error
}

// Migrator applies registered migrations in version order and records
// each one in the schema_migrations table.
type Migrator struct {
	db         *sql.DB
	migrations []Migration
}

// NewMigrator creates a migrator bound to db with no migrations registered.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// AddMigration registers a migration, keeping the set sorted by version.
func (m *Migrator) AddMigration(migration Migration) {
	m.migrations = append(m.migrations, migration)
	sort.Slice(m.migrations, func(i, j int) bool {
		return m.migrations[i].Version < m.migrations[j].Version
	})
}

// RunMigrations applies every registered migration newer than the
// recorded schema version. Already applied versions are skipped, so
// running it repeatedly is safe.
func (m *Migrator) RunMigrations() error {
	if err := m.ensureVersionTable(); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	applied, err := m.appliedVersion()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, migration := range m.migrations {
		if migration.Version <= applied {
			continue
		}
		if err := m.apply(migration); err != nil {
			return fmt.Errorf("migration %d (%s): %w", migration.Version, migration.Name, err)
		}
	}

	return nil
}

func (m *Migrator) ensureVersionTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func (m *Migrator) appliedVersion() (int64, error) {
	var version int64
	if err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

// apply runs one migration and its bookkeeping insert in a single
// transaction. SQLite supports transactional DDL, so a failing Up
// rolls back any tables it already created.
func (m *Migrator) apply(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := migration.Up(tx); err != nil {
		return err
	}

	if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", migration.Version, migration.Name); err != nil {
		return err
	}

	return tx.Commit()
}

// GetCurrentVersion returns the highest applied migration version.
func (m *Migrator) GetCurrentVersion() (int64, error) {
	return m.appliedVersion()
}

// GetMigrations returns the registered migrations in version order.
func (m *Migrator) GetMigrations() []Migration {
	return m.migrations
}
