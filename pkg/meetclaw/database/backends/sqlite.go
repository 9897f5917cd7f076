// Package backends provides database backend implementations.
package backends

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend wraps the SQLite database connection with additional functionality.
type SQLiteBackend struct {
	DB     *sql.DB
	Config SQLiteConfig

	// Migrator handles schema migrations
	Migrator *SQLMigrator

	// Health checker
	Health *SQLiteHealthChecker
}

// SQLiteConfig holds SQLite-specific configuration.
type SQLiteConfig struct {
	Path        string
	JournalMode string
	BusyTimeout int
	ForeignKeys bool
}

// OpenSQLite opens or creates a SQLite database with the given configuration.
func OpenSQLite(ctx context.Context, config SQLiteConfig) (*SQLiteBackend, error) {
	if config.Path == "" {
		config.Path = "./data/meetclaw.db"
	}
	if config.JournalMode == "" {
		config.JournalMode = "WAL"
	}
	if config.BusyTimeout == 0 {
		config.BusyTimeout = 5000
	}

	// Ensure parent directory exists
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=%s&_busy_timeout=%d", config.Path, config.JournalMode, config.BusyTimeout)
	if config.ForeignKeys {
		dsn += "&_foreign_keys=ON"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", config.Path, err)
	}
	// A single writer connection keeps conditional updates serialized and
	// avoids SQLITE_BUSY under concurrent spawns.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteBackend{
		DB:     db,
		Config: config,
		Migrator: newSQLMigrator(db, SQLiteMigrations(), `
			CREATE TABLE IF NOT EXISTS schema_version (
				version INTEGER PRIMARY KEY,
				applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
			"INSERT OR IGNORE INTO schema_version (version) VALUES (?)"),
		Health: &SQLiteHealthChecker{db: db},
	}, nil
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	return b.DB.Close()
}

// SQLiteHealthChecker monitors SQLite database health.
type SQLiteHealthChecker struct {
	db *sql.DB
}

// Ping checks database connectivity.
func (h *SQLiteHealthChecker) Ping(ctx context.Context) error {
	return h.db.PingContext(ctx)
}

// Status returns detailed health status.
func (h *SQLiteHealthChecker) Status(ctx context.Context) Status {
	start := time.Now()
	var version string
	if err := h.db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err != nil {
		return Status{Healthy: false, Error: err.Error(), Latency: time.Since(start)}
	}
	latency := time.Since(start)

	stats := h.db.Stats()
	return Status{
		Healthy:         true,
		Version:         version,
		Latency:         latency,
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		WaitCount:       stats.WaitCount,
		WaitDuration:    stats.WaitDuration,
		MaxOpenConns:    stats.MaxOpenConnections,
	}
}
