package store

import (
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

// NewMySQL opens a MySQL (or MariaDB) handle. The connection is
// established lazily on first use, so an unreachable server surfaces on
// Conn rather than here.
func NewMySQL(config Config) (*DB, error) {
	dsn := config.DSN
	if dsn == "" {
		dsn = mysqlDSN(config)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql database: %w", err)
	}
	applyPool(db, config, 0)

	return &DB{db: db, dialect: DialectMySQL, config: config}, nil
}

func mysqlDSN(config Config) string {
	host := config.Host
	if host == "" {
		host = "localhost"
	}
	port := config.Port
	if port == 0 {
		port = 3306
	}

	mc := mysql.NewConfig()
	mc.User = config.Username
	mc.Passwd = config.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	mc.DBName = config.Database
	mc.ParseTime = true
	mc.Loc = time.UTC
	if len(config.Options) > 0 {
		mc.Params = make(map[string]string, len(config.Options))
		for k, v := range config.Options {
			mc.Params[k] = v
		}
	}
	return mc.FormatDSN()
}
