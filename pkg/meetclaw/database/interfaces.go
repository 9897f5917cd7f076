// Package database provides the Database Hub: a small abstraction over the
// SQL backends (SQLite, PostgreSQL) that hold meetings and agents.
// SQLite is the default backend and needs no configuration.
package database

import (
	"context"
	"database/sql"
	"time"
)

// BackendType identifies the type of database backend.
type BackendType string

const (
	BackendSQLite     BackendType = "sqlite"
	BackendPostgreSQL BackendType = "postgresql"
)

// Backend represents a database backend connection with all its capabilities.
type Backend struct {
	// Name is the identifier for this backend (e.g., "primary")
	Name string

	// Type indicates the database type
	Type BackendType

	// DB is the underlying database connection
	DB *sql.DB

	// Config holds the backend configuration
	Config Config

	// Migrator handles schema migrations
	Migrator Migrator

	// Health monitors database health
	Health HealthChecker
}

// Rebind rewrites a query written with '?' placeholders for this backend.
func (b *Backend) Rebind(query string) string {
	return Rebind(b.Type, query)
}

// Migrator interface for database schema migrations.
type Migrator interface {
	// CurrentVersion returns the current schema version.
	CurrentVersion(ctx context.Context) (int, error)

	// Migrate applies migrations up to the target version.
	// If target is 0, migrates to the latest version.
	Migrate(ctx context.Context, target int) error

	// NeedsMigration returns true if the schema is outdated.
	NeedsMigration(ctx context.Context) (bool, error)
}

// HealthChecker interface for monitoring database health.
type HealthChecker interface {
	Ping(ctx context.Context) error
	Status(ctx context.Context) HealthStatus
}

// HealthStatus represents the health state of a database backend.
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Version string        `json:"version"`
	Error   string        `json:"error,omitempty"`

	// Connection pool metrics
	OpenConnections int           `json:"open_connections"`
	InUse           int           `json:"in_use"`
	Idle            int           `json:"idle"`
	WaitCount       int64         `json:"wait_count"`
	WaitDuration    time.Duration `json:"wait_duration"`
	MaxOpenConns    int           `json:"max_open_conns"`
}

// BackendFactory creates database backends based on configuration.
type BackendFactory interface {
	// Create creates a new backend with the given configuration.
	Create(ctx context.Context, config Config) (*Backend, error)

	// Supports returns true if this factory can create the given backend type.
	Supports(backendType BackendType) bool
}
