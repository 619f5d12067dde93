package testutil

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/settlab/sett/internal/migrations"
	_ "modernc.org/sqlite"
)

// CleanupTestDB removes the database file behind a test DSN. In-memory
// databases have no file, so removal errors for missing files are ignored.
func CleanupTestDB(dsn string) error {
	path, ok := strings.CutPrefix(dsn, "file:")
	if !ok {
		return fmt.Errorf("unexpected test DSN %q", dsn)
	}

	if idx := strings.Index(path, "?"); idx != -1 {
		path = path[:idx]
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SetupTestDB opens a fresh named in-memory database for a test and
// returns it together with a cleanup func.
func SetupTestDB(t *testing.T, testName string) (*sql.DB, func()) {
	dsn := NewTestDSN(testName)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}

	cleanup := func() {
		db.Close()
		CleanupTestDB(dsn)
	}

	return db, cleanup
}

// SetupTestDBWithMigrations opens a test database and brings its schema
// up to date, the same way the service does at startup.
func SetupTestDBWithMigrations(t *testing.T, testName string) (*sql.DB, func()) {
	db, cleanup := SetupTestDB(t, testName)

	migrator := migrations.NewMigrator(db)
	for _, migration := range migrations.GetInitialMigrations() {
		migrator.AddMigration(migration)
	}
	for _, migration := range migrations.GetPerformanceMigrations() {
		migrator.AddMigration(migration)
	}

	if err := migrator.RunMigrations(); err != nil {
		cleanup()
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return db, cleanup
}
