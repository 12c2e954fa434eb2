package store

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// NewSQLite opens a SQLite database (modernc.org/sqlite driver, CGO-free).
// An empty path means an in-memory database, which lives as long as its
// single pooled connection.
func NewSQLite(config Config) (*DB, error) {
	path := strings.TrimSpace(config.Path)
	if path == "" {
		path = config.DSN
	}
	if path == "" {
		path = ":memory:"
	}
	if !strings.Contains(path, "?") {
		path += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(3000)"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite works best with single connection
	applyPool(db, config, 1)
	if config.MaxIdleConns == 0 {
		db.SetMaxIdleConns(1)
	}

	return &DB{db: db, dialect: DialectSQLite, config: config}, nil
}
