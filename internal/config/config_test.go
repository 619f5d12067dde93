package config

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewConfig(t *testing.T) {
	config := NewConfig()

	if config == nil {
		t.Fatal("Expected non-nil config")
	}

	defaults := map[string]struct{ got, want string }{
		"DBPath":           {config.DBPath, "~/sett/data/sett.db"},
		"Port":             {config.Port, "8080"},
		"LibvirtSocket":    {config.LibvirtSocket, "/var/run/libvirt/libvirt-sock"},
		"ImageDir":         {config.ImageDir, "~/sett/data/images"},
		"InstanceDir":      {config.InstanceDir, "~/sett/data/instances"},
		"MgmtNetwork":      {config.MgmtNetwork, "default"},
		"ReservationsFile": {config.ReservationsFile, "/etc/dnsmasq.d/sett-reservations.conf"},
	}

	for field, v := range defaults {
		if v.got != v.want {
			t.Errorf("Expected %s '%s', got '%s'", field, v.want, v.got)
		}
	}
}

func TestConfig_ExpandPath(t *testing.T) {
	config := NewConfig()

	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("Failed to resolve home directory: %v", err)
	}

	cases := []struct {
		name string
		path string
		want string
	}{
		{"tilde prefix", "~/sett/data", filepath.Join(home, "sett/data")},
		{"absolute", "/var/lib/sett", "/var/lib/sett"},
		{"relative", "sett/data", "sett/data"},
		{"bare tilde", "~", "~"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := config.ExpandPath(c.path); got != c.want {
				t.Errorf("ExpandPath(%q) = %q, want %q", c.path, got, c.want)
			}
		})
	}
}

func TestConfig_InitializeDatabase_Success(t *testing.T) {
	config := NewConfig()
	config.DBPath = filepath.Join(t.TempDir(), "test.db")

	db, err := config.InitializeDatabase()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		t.Errorf("Database ping failed: %v", err)
	}

	var fkEnabled bool
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		t.Errorf("Failed to check foreign keys: %v", err)
	}
	if !fkEnabled {
		t.Error("Expected foreign keys to be enabled")
	}

	// Migrations ran, so the application tables are queryable
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM topologies").Scan(&count); err != nil {
		t.Errorf("Expected topologies table to exist: %v", err)
	}
}

func TestConfig_InitializeDatabase_CreatesDirectory(t *testing.T) {
	config := NewConfig()
	config.DBPath = filepath.Join(t.TempDir(), "nested", "path", "test.db")

	db, err := config.InitializeDatabase()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Dir(config.DBPath)); os.IsNotExist(err) {
		t.Errorf("Expected directory to be created: %s", filepath.Dir(config.DBPath))
	}
}

func TestConfig_InitializeDatabase_InvalidPath(t *testing.T) {
	config := NewConfig()

	// A regular file in the middle of the path makes MkdirAll fail
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte(""), 0644); err != nil {
		t.Fatalf("Failed to create blocking file: %v", err)
	}
	config.DBPath = filepath.Join(blocker, "nested", "sett.db")

	db, err := config.InitializeDatabase()
	if err == nil {
		if db != nil {
			db.Close()
		}
		t.Fatal("Expected error for invalid path")
	}

	if !strings.Contains(err.Error(), "failed to create database directory") {
		t.Errorf("Expected directory creation error, got: %v", err)
	}
}

func TestConfig_runMigrations_Success(t *testing.T) {
	config := NewConfig()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	defer db.Close()

	if err := config.runMigrations(db); err != nil {
		t.Errorf("Expected no error running migrations, got %v", err)
	}

	var tableName string
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_migrations'").Scan(&tableName)
	if err != nil {
		t.Errorf("Expected schema_migrations table to exist: %v", err)
	}
}

func TestConfig_runMigrations_DatabaseError(t *testing.T) {
	config := NewConfig()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.Close() // Closed database forces every statement to fail

	if err := config.runMigrations(db); err == nil {
		t.Fatal("Expected error running migrations on closed database")
	}
}
