package migrations

import (
	"database/sql"
)

// GetInitialMigrations returns the baseline schema: topology documents
// handed to import, and the configuration scripts pushed onto booted
// instances.
func GetInitialMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_topologies_and_scripts",
			Up: func(tx *sql.Tx) error {
				statements := []string{
					`CREATE TABLE topologies (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						name TEXT NOT NULL UNIQUE,
						description TEXT NOT NULL DEFAULT '',
						document TEXT NOT NULL,
						created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE TABLE scripts (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						name TEXT NOT NULL UNIQUE,
						script TEXT NOT NULL,
						destination TEXT NOT NULL,
						created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
					)`,
				}

				for _, stmt := range statements {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
			Down: func(tx *sql.Tx) error {
				statements := []string{
					`DROP TABLE IF EXISTS scripts`,
					`DROP TABLE IF EXISTS topologies`,
				}

				for _, stmt := range statements {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
