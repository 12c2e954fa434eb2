package store

import (
	"context"
	"database/sql"
	"time"
)

// Dialect identifies the SQL flavour behind a connection.
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Config represents configuration for the report database.
type Config struct {
	Type string `toml:"type" yaml:"type" json:"type"` // "mysql", "postgres", "sqlite"

	// DSN, when set, is passed to the driver verbatim.
	DSN string `toml:"dsn,omitempty" yaml:"dsn,omitempty" json:"dsn,omitempty"`

	// SQLite specific
	Path string `toml:"path,omitempty" yaml:"path,omitempty" json:"path,omitempty"`

	// MySQL / PostgreSQL specific
	Host     string `toml:"host,omitempty" yaml:"host,omitempty" json:"host,omitempty"`
	Port     int    `toml:"port,omitempty" yaml:"port,omitempty" json:"port,omitempty"`
	Database string `toml:"database,omitempty" yaml:"database,omitempty" json:"database,omitempty"`
	Username string `toml:"username,omitempty" yaml:"username,omitempty" json:"username,omitempty"`
	Password string `toml:"password,omitempty" yaml:"password,omitempty" json:"password,omitempty"`
	SSLMode  string `toml:"ssl_mode,omitempty" yaml:"ssl_mode,omitempty" json:"ssl_mode,omitempty"`

	// Connection pooling, database/sql defaults when zero
	MaxOpenConns int           `toml:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty" json:"max_open_conns,omitempty"`
	MaxIdleConns int           `toml:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty" json:"max_idle_conns,omitempty"`
	ConnMaxAge   time.Duration `toml:"conn_max_age,omitempty" yaml:"conn_max_age,omitempty" json:"conn_max_age,omitempty"`

	// Additional driver options
	Options map[string]string `toml:"options,omitempty" yaml:"options,omitempty" json:"options,omitempty"`
}

// Connector hands out scoped connections. Callers must close every
// connection they acquire.
type Connector interface {
	Conn(ctx context.Context) (*sql.Conn, error)
	Dialect() Dialect
}

// DB is a Connector backed by a database/sql handle.
type DB struct {
	db      *sql.DB
	dialect Dialect
	config  Config
}

// Conn acquires a dedicated connection from the pool.
func (s *DB) Conn(ctx context.Context) (*sql.Conn, error) {
	return s.db.Conn(ctx)
}

func (s *DB) Dialect() Dialect { return s.dialect }

// Config returns the configuration the DB was opened with.
func (s *DB) Config() Config { return s.config }

// SQL exposes the underlying handle for read-only tooling.
func (s *DB) SQL() *sql.DB { return s.db }

// Ping tests the database connection
func (s *DB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle
func (s *DB) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func applyPool(db *sql.DB, config Config, defaultOpen int) {
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else if defaultOpen > 0 {
		db.SetMaxOpenConns(defaultOpen)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxAge > 0 {
		db.SetConnMaxLifetime(config.ConnMaxAge)
	}
}
