package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magiconair/properties"
	"github.com/spf13/viper"

	"github.com/loykin/teacupreport/internal/env"
	"github.com/loykin/teacupreport/internal/logger"
	"github.com/loykin/teacupreport/internal/store"
)

// EnvPrefix prefixes environment overrides, e.g. TEACUP_REPORTER_MYSQL_USER.
const EnvPrefix = "TEACUP"

// FileConfig represents the top-level structure. Every setting lives
// under the "reporter" key so the reporter can share a property file
// with the test framework.
type FileConfig struct {
	Reporter Config `mapstructure:"reporter"`
}

type Config struct {
	Dialect  string         `mapstructure:"dialect"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Log      LogConfig      `mapstructure:"log"`
	History  HistoryConfig  `mapstructure:"history"`
	HTTP     HTTPConfig     `mapstructure:"http"`
}

type MySQLConfig struct {
	Server   ServerConfig `mapstructure:"server"`
	Port     int          `mapstructure:"port"`
	User     string       `mapstructure:"user"`
	Password string       `mapstructure:"password"`
	Database string       `mapstructure:"database"`
}

type ServerConfig struct {
	Name string `mapstructure:"name"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type HistoryConfig struct {
	Sinks []string `mapstructure:"sinks"`
}

type HTTPConfig struct {
	Listen   string    `mapstructure:"listen"`
	BasePath string    `mapstructure:"base_path"`
	TLS      TLSConfig `mapstructure:"tls"`
}

// TLSConfig serves the read API over HTTPS. CertFile and KeyFile take
// precedence over Dir, which holds tls.crt and tls.key.
type TLSConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	CertFile     string `mapstructure:"cert_file"`
	KeyFile      string `mapstructure:"key_file"`
	Dir          string `mapstructure:"dir"`
	AutoGenerate bool   `mapstructure:"auto_generate"`
	MinVersion   string `mapstructure:"min_version"`
}

// defaults double as the list of known keys so that every key can be
// overridden from the environment.
var defaults = map[string]any{
	"reporter.dialect":                string(store.DialectMySQL),
	"reporter.mysql.server.name":      "",
	"reporter.mysql.port":             3306,
	"reporter.mysql.user":             "",
	"reporter.mysql.password":         "",
	"reporter.mysql.database":         "",
	"reporter.postgres.dsn":           "",
	"reporter.sqlite.path":            "",
	"reporter.log.level":              "info",
	"reporter.log.format":             "text",
	"reporter.log.file":               "",
	"reporter.log.max_size_mb":        logger.DefaultMaxSizeMB,
	"reporter.log.max_backups":        logger.DefaultMaxBackups,
	"reporter.log.max_age_days":       logger.DefaultMaxAgeDays,
	"reporter.log.compress":           false,
	"reporter.history.sinks":          []string{},
	"reporter.http.listen":            ":8089",
	"reporter.http.base_path":         "/api",
	"reporter.http.tls.enabled":       false,
	"reporter.http.tls.cert_file":     "",
	"reporter.http.tls.key_file":      "",
	"reporter.http.tls.dir":           "",
	"reporter.http.tls.auto_generate": false,
	"reporter.http.tls.min_version":   "",
}

// Load reads the configuration from path, if given, and applies
// environment overrides. Files ending in .properties are read as Java
// style property files; anything else goes through viper's own format
// detection (TOML, YAML, JSON).
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if err := readFile(v, path); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg := fc.Reporter
	cfg.Dialect = strings.ToLower(strings.TrimSpace(cfg.Dialect))
	cfg.expand(env.New())
	return &cfg, nil
}

// expand resolves ${VAR} references in the settings that usually carry
// secrets or host-specific paths.
func (c *Config) expand(e *env.Env) {
	for _, p := range []*string{
		&c.MySQL.Server.Name, &c.MySQL.User, &c.MySQL.Password, &c.MySQL.Database,
		&c.Postgres.DSN, &c.SQLite.Path, &c.Log.File,
		&c.HTTP.TLS.CertFile, &c.HTTP.TLS.KeyFile, &c.HTTP.TLS.Dir,
	} {
		*p = e.Expand(*p)
	}
	for i, s := range c.History.Sinks {
		c.History.Sinks[i] = e.Expand(s)
	}
}

func readFile(v *viper.Viper, path string) error {
	clean := filepath.Clean(path)
	if strings.EqualFold(filepath.Ext(clean), ".properties") {
		p, err := properties.LoadFile(clean, properties.UTF8)
		if err != nil {
			return err
		}
		m, err := nestProperties(p)
		if err != nil {
			return err
		}
		return v.MergeConfigMap(m)
	}
	v.SetConfigFile(clean)
	return v.ReadInConfig()
}

// nestProperties turns dotted property keys into nested maps. A key that
// is both a value and a prefix of another key is rejected.
func nestProperties(p *properties.Properties) (map[string]any, error) {
	out := make(map[string]any)
	for _, key := range p.Keys() {
		val, _ := p.Get(key)
		parts := strings.Split(strings.ToLower(key), ".")
		m := out
		for i, part := range parts[:len(parts)-1] {
			switch next := m[part].(type) {
			case map[string]any:
				m = next
			case nil:
				child := make(map[string]any)
				m[part] = child
				m = child
			default:
				return nil, fmt.Errorf("property %s conflicts with value of %s", key, strings.Join(parts[:i+1], "."))
			}
		}
		leaf := parts[len(parts)-1]
		if _, ok := m[leaf].(map[string]any); ok {
			return nil, fmt.Errorf("property %s conflicts with nested keys below it", key)
		}
		m[leaf] = val
	}
	return out, nil
}

// StoreConfig returns the database settings for the selected dialect.
func (c *Config) StoreConfig() (store.Config, error) {
	switch c.Dialect {
	case "", string(store.DialectMySQL), "mariadb":
		if c.MySQL.Server.Name == "" {
			return store.Config{}, errors.New("reporter.mysql.server.name is required")
		}
		return store.Config{
			Type:     string(store.DialectMySQL),
			Host:     c.MySQL.Server.Name,
			Port:     c.MySQL.Port,
			Database: c.MySQL.Database,
			Username: c.MySQL.User,
			Password: c.MySQL.Password,
		}, nil
	case string(store.DialectPostgres), "postgresql":
		if c.Postgres.DSN == "" {
			return store.Config{}, errors.New("reporter.postgres.dsn is required")
		}
		return store.Config{Type: string(store.DialectPostgres), DSN: c.Postgres.DSN}, nil
	case string(store.DialectSQLite):
		return store.Config{Type: string(store.DialectSQLite), Path: c.SQLite.Path}, nil
	}
	return store.Config{}, fmt.Errorf("unsupported dialect %q (supported: %v)", c.Dialect, store.SupportedTypes())
}

// LoggerConfig returns the settings for the reporter's own diagnostics.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Log.Level,
		Format: c.Log.Format,
		File: logger.FileConfig{
			Path:       c.Log.File,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
	}
}

// LoadEnvFile parses a simple .env file and sets every entry that is not
// already present in the process environment.
func LoadEnvFile(path string) error {
	m, err := loadEnvFile(path)
	if err != nil {
		return err
	}
	for k, v := range m {
		if _, exists := os.LookupEnv(k); exists {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return err
		}
	}
	return nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
