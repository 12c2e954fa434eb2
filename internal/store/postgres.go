package store

import (
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// NewPostgres opens a PostgreSQL handle through the pgx stdlib driver.
func NewPostgres(config Config) (*DB, error) {
	dsn := config.DSN
	if dsn == "" {
		dsn = postgresDSN(config)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgresql database: %w", err)
	}
	applyPool(db, config, 0)

	return &DB{db: db, dialect: DialectPostgres, config: config}, nil
}

func postgresDSN(config Config) string {
	// Set defaults
	host := config.Host
	if host == "" {
		host = "localhost"
	}
	port := config.Port
	if port == 0 {
		port = 5432
	}
	sslMode := config.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + config.Database,
	}
	if config.Username != "" {
		u.User = url.UserPassword(config.Username, config.Password)
	}
	q := url.Values{}
	q.Set("sslmode", sslMode)
	for k, v := range config.Options {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
