package backends

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
)

// PostgreSQLBackend wraps the PostgreSQL database connection.
type PostgreSQLBackend struct {
	DB     *sql.DB
	Config PostgreSQLConfig

	// Migrator handles schema migrations
	Migrator *SQLMigrator

	// Health checker
	Health *PostgreSQLHealthChecker

	logger *slog.Logger
}

// PostgreSQLConfig holds PostgreSQL-specific configuration.
type PostgreSQLConfig struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// OpenPostgreSQL opens a PostgreSQL connection pool through pgx.
func OpenPostgreSQL(ctx context.Context, config PostgreSQLConfig, logger *slog.Logger) (*PostgreSQLBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Set defaults
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.Port == 0 {
		config.Port = 5432
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 25
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 10
	}
	if config.ConnMaxLifetime == 0 {
		config.ConnMaxLifetime = 30 * time.Minute
	}
	if config.ConnMaxIdleTime == 0 {
		config.ConnMaxIdleTime = 5 * time.Minute
	}

	db, err := sql.Open("pgx", BuildPostgreSQLDSN(config))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Debug("postgresql connected", "host", config.Host, "database", config.Database)

	return &PostgreSQLBackend{
		DB:     db,
		Config: config,
		Migrator: newSQLMigrator(db, PostgreSQLMigrations(), `
			CREATE TABLE IF NOT EXISTS schema_version (
				version INTEGER PRIMARY KEY,
				applied_at TIMESTAMPTZ DEFAULT NOW()
			)`,
			"INSERT INTO schema_version (version) VALUES ($1) ON CONFLICT DO NOTHING"),
		Health: &PostgreSQLHealthChecker{db: db},
		logger: logger,
	}, nil
}

// BuildPostgreSQLDSN builds the connection string.
func BuildPostgreSQLDSN(config PostgreSQLConfig) string {
	if config.DSN != "" {
		return config.DSN
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Database, config.SSLMode)
}

// Close closes the database connection.
func (b *PostgreSQLBackend) Close() error {
	return b.DB.Close()
}

// PostgreSQLHealthChecker monitors PostgreSQL database health.
type PostgreSQLHealthChecker struct {
	db *sql.DB
}

// Ping checks database connectivity.
func (h *PostgreSQLHealthChecker) Ping(ctx context.Context) error {
	return h.db.PingContext(ctx)
}

// Status returns detailed health status.
func (h *PostgreSQLHealthChecker) Status(ctx context.Context) Status {
	start := time.Now()
	err := h.db.PingContext(ctx)
	latency := time.Since(start)

	if err != nil {
		return Status{Healthy: false, Error: err.Error(), Latency: latency}
	}

	var version string
	if err := h.db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err != nil {
		version = "unknown"
	}

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
