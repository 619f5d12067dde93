package migrations

import (
	"database/sql"
)

// GetPerformanceMigrations returns the index migrations that keep the
// name and destination lookups fast once the tables grow.
func GetPerformanceMigrations() []Migration {
	return []Migration{
		{
			Version: 10,
			Name:    "add_lookup_indices",
			Up: func(tx *sql.Tx) error {
				indices := []string{
					"CREATE INDEX IF NOT EXISTS idx_topologies_name ON topologies(name)",
					"CREATE INDEX IF NOT EXISTS idx_scripts_name ON scripts(name)",
					"CREATE INDEX IF NOT EXISTS idx_scripts_destination ON scripts(destination)",
				}

				for _, stmt := range indices {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
			Down: func(tx *sql.Tx) error {
				indices := []string{
					"DROP INDEX IF EXISTS idx_topologies_name",
					"DROP INDEX IF EXISTS idx_scripts_name",
					"DROP INDEX IF EXISTS idx_scripts_destination",
				}

				for _, stmt := range indices {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
