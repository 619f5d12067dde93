package repository

import (
	"database/sql"
	"sync"
)

// StatementCache prepares each distinct query once and hands the same
// statement back on every later call. Prepared statements are safe for
// concurrent use, so one cache serves all goroutines of a repository.
type StatementCache struct {
	mu    sync.RWMutex
	db    *sql.DB
	stmts map[string]*sql.Stmt
}

// NewStatementCache creates an empty cache bound to db.
func NewStatementCache(db *sql.DB) *StatementCache {
	return &StatementCache{
		db:    db,
		stmts: make(map[string]*sql.Stmt),
	}
}

// Get returns the prepared statement for query, preparing it on first use.
func (c *StatementCache) Get(query string) (*sql.Stmt, error) {
	c.mu.RLock()
	stmt, ok := c.stmts[query]
	c.mu.RUnlock()
	if ok {
		return stmt, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have prepared it while we waited for the lock
	if stmt, ok := c.stmts[query]; ok {
		return stmt, nil
	}

	stmt, err := c.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	c.stmts[query] = stmt
	return stmt, nil
}

// Close releases every cached statement. The cache stays usable and
// will re-prepare on the next Get.
func (c *StatementCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for _, stmt := range c.stmts {
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.stmts = make(map[string]*sql.Stmt)
	return firstErr
}

// Len returns the number of cached statements.
func (c *StatementCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.stmts)
}
