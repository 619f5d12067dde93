package config

import (
	"database/sql"
	"time"
)

// TuneConnectionPool bounds the sql.DB pool. SQLite allows a single
// writer at a time, so the pool stays small and recycles connections
// instead of holding them open.
func TuneConnectionPool(db *sql.DB) {
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(time.Minute)
}

// ApplySQLitePragmas switches the database into WAL mode and sets the
// runtime pragmas the service expects.
func ApplySQLitePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = 10000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA mmap_size = 268435456",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA optimize",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return err
		}
	}

	return nil
}
