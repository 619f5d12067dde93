package config

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/settlab/sett/internal/migrations"
	_ "modernc.org/sqlite"
)

// Config holds all configuration for the sett service
type Config struct {
	DBPath string
	Port   string

	// Hypervisor connection and on-disk layout
	LibvirtSocket string // unix socket for the libvirt daemon
	ImageDir      string // base images used as overlay backing files
	InstanceDir   string // per-instance overlay disks

	// Management network plumbing
	MgmtNetwork      string // hypervisor network serving management addresses
	ReservationsFile string // dnsmasq dhcp-host reservations for deployed nodes
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		DBPath:           "~/sett/data/sett.db",
		Port:             "8080",
		LibvirtSocket:    "/var/run/libvirt/libvirt-sock",
		ImageDir:         "~/sett/data/images",
		InstanceDir:      "~/sett/data/instances",
		MgmtNetwork:      "default",
		ReservationsFile: "/etc/dnsmasq.d/sett-reservations.conf",
	}
}

// InitializeDatabase opens the SQLite database at DBPath, creating the
// directory if needed, and brings the schema up to date.
func (c *Config) InitializeDatabase() (*sql.DB, error) {
	dbPath := c.ExpandPath(c.DBPath)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	TuneConnectionPool(db)

	if err := ApplySQLitePragmas(db); err != nil {
		return nil, fmt.Errorf("failed to apply sqlite pragmas: %w", err)
	}

	if err := c.runMigrations(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// ExpandPath resolves a leading ~/ against the current user's home
// directory. Every other path comes back unchanged.
func (c *Config) ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~/"))
}

// runMigrations registers the migration sets and applies anything pending
func (c *Config) runMigrations(db *sql.DB) error {
	migrator := migrations.NewMigrator(db)

	for _, migration := range migrations.GetInitialMigrations() {
		migrator.AddMigration(migration)
	}
	for _, migration := range migrations.GetPerformanceMigrations() {
		migrator.AddMigration(migration)
	}

	return migrator.RunMigrations()
}
