package database

import (
	"time"
)

// HubConfig represents the complete database hub configuration.
type HubConfig struct {
	// Backend is the primary database backend type (default: "sqlite").
	// Use "postgresql" when several meetclaw instances share one store.
	Backend BackendType `yaml:"backend"`

	// SQLite configuration
	SQLite SQLiteConfig `yaml:"sqlite"`

	// PostgreSQL configuration
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
}

// Config represents a generic database connection configuration.
type Config struct {
	Type BackendType `yaml:"type"`

	// Path is for SQLite databases
	Path string `yaml:"path"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	// SSLMode for PostgreSQL: disable, require, verify-full
	SSLMode string `yaml:"ssl_mode"`

	// DSN overrides the discrete PostgreSQL fields when set.
	DSN string `yaml:"dsn"`

	// Connection pooling
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`

	// Journal mode for SQLite (default: WAL)
	JournalMode string `yaml:"journal_mode"`

	// Busy timeout for SQLite in milliseconds (default: 5000)
	BusyTimeout int `yaml:"busy_timeout"`
}

// SQLiteConfig holds SQLite-specific configuration.
type SQLiteConfig struct {
	// Path to the database file (default: "./data/meetclaw.db")
	Path string `yaml:"path"`

	// Journal mode (default: WAL)
	JournalMode string `yaml:"journal_mode"`

	// Busy timeout in milliseconds (default: 5000)
	BusyTimeout int `yaml:"busy_timeout"`
}

// PostgreSQLConfig holds PostgreSQL configuration.
type PostgreSQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`

	// Password for authentication (supports ${ENV_VAR} expansion)
	Password string `yaml:"password"`

	// SSL mode: disable, require, verify-ca, verify-full
	SSLMode string `yaml:"ssl_mode"`

	// DSN is a full connection string (postgres://...). Takes precedence.
	DSN string `yaml:"dsn"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

const defaultSQLitePath = "./data/meetclaw.db"

// DefaultHubConfig returns the default hub configuration (SQLite).
func DefaultHubConfig() HubConfig {
	return HubConfig{
		Backend: BackendSQLite,
		SQLite:  DefaultSQLiteConfig(),
	}
}

// DefaultSQLiteConfig returns default SQLite configuration.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		Path:        defaultSQLitePath,
		JournalMode: "WAL",
		BusyTimeout: 5000,
	}
}

// DefaultPostgreSQLConfig returns default PostgreSQL configuration.
func DefaultPostgreSQLConfig() PostgreSQLConfig {
	return PostgreSQLConfig{
		Host:            "localhost",
		Port:            5432,
		SSLMode:         "require",
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// ToConfig converts SQLiteConfig to generic Config.
func (s SQLiteConfig) ToConfig() Config {
	return Config{
		Type:        BackendSQLite,
		Path:        s.Path,
		JournalMode: s.JournalMode,
		BusyTimeout: s.BusyTimeout,
	}
}

// ToConfig converts PostgreSQLConfig to generic Config.
func (p PostgreSQLConfig) ToConfig() Config {
	return Config{
		Type:            BackendPostgreSQL,
		Host:            p.Host,
		Port:            p.Port,
		Database:        p.Database,
		User:            p.User,
		Password:        p.Password,
		SSLMode:         p.SSLMode,
		DSN:             p.DSN,
		MaxOpenConns:    p.MaxOpenConns,
		MaxIdleConns:    p.MaxIdleConns,
		ConnMaxLifetime: p.ConnMaxLifetime,
		ConnMaxIdleTime: p.ConnMaxIdleTime,
	}
}

// Effective returns a copy with default values filled in for zero fields.
func (c HubConfig) Effective() HubConfig {
	out := c

	if out.Backend == "" {
		out.Backend = BackendSQLite
	}

	if out.SQLite.Path == "" {
		out.SQLite.Path = defaultSQLitePath
	}
	if out.SQLite.JournalMode == "" {
		out.SQLite.JournalMode = "WAL"
	}
	if out.SQLite.BusyTimeout == 0 {
		out.SQLite.BusyTimeout = 5000
	}

	if out.Backend == BackendPostgreSQL {
		def := DefaultPostgreSQLConfig()
		if out.PostgreSQL.Host == "" {
			out.PostgreSQL.Host = def.Host
		}
		if out.PostgreSQL.Port == 0 {
			out.PostgreSQL.Port = def.Port
		}
		if out.PostgreSQL.SSLMode == "" {
			out.PostgreSQL.SSLMode = def.SSLMode
		}
	}

	return out
}
