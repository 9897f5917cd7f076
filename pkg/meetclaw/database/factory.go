package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/database/backends"
)

// SQLiteFactory creates SQLite backends.
type SQLiteFactory struct{}

// Create creates a new SQLite backend with the given configuration.
func (f *SQLiteFactory) Create(ctx context.Context, config Config) (*Backend, error) {
	if config.Type != BackendSQLite {
		return nil, fmt.Errorf("sqlite factory cannot create %s backend", config.Type)
	}

	sqliteBackend, err := backends.OpenSQLite(ctx, backends.SQLiteConfig{
		Path:        config.Path,
		JournalMode: config.JournalMode,
		BusyTimeout: config.BusyTimeout,
		ForeignKeys: true,
	})
	if err != nil {
		return nil, err
	}

	return &Backend{
		Type:     BackendSQLite,
		DB:       sqliteBackend.DB,
		Config:   config,
		Migrator: sqliteBackend.Migrator,
		Health:   &healthAdapter{sqliteBackend.Health},
	}, nil
}

// Supports returns true for SQLite backend type.
func (f *SQLiteFactory) Supports(backendType BackendType) bool {
	return backendType == BackendSQLite
}

// PostgreSQLFactory creates PostgreSQL backends.
type PostgreSQLFactory struct {
	logger *slog.Logger
}

// NewPostgreSQLFactory creates a new PostgreSQL factory.
func NewPostgreSQLFactory(logger *slog.Logger) *PostgreSQLFactory {
	return &PostgreSQLFactory{logger: logger}
}

// Create creates a new PostgreSQL backend with the given configuration.
func (f *PostgreSQLFactory) Create(ctx context.Context, config Config) (*Backend, error) {
	if config.Type != BackendPostgreSQL {
		return nil, fmt.Errorf("postgresql factory cannot create %s backend", config.Type)
	}

	logger := f.logger
	if logger == nil {
		logger = slog.Default()
	}

	pgBackend, err := backends.OpenPostgreSQL(ctx, backends.PostgreSQLConfig{
		Host:            config.Host,
		Port:            config.Port,
		Database:        config.Database,
		User:            config.User,
		Password:        config.Password,
		SSLMode:         config.SSLMode,
		DSN:             config.DSN,
		MaxOpenConns:    config.MaxOpenConns,
		MaxIdleConns:    config.MaxIdleConns,
		ConnMaxLifetime: config.ConnMaxLifetime,
		ConnMaxIdleTime: config.ConnMaxIdleTime,
	}, logger)
	if err != nil {
		return nil, err
	}

	return &Backend{
		Type:     BackendPostgreSQL,
		DB:       pgBackend.DB,
		Config:   config,
		Migrator: pgBackend.Migrator,
		Health:   &healthAdapter{pgBackend.Health},
	}, nil
}

// Supports returns true for PostgreSQL backend type.
func (f *PostgreSQLFactory) Supports(backendType BackendType) bool {
	return backendType == BackendPostgreSQL
}

type backendHealth interface {
	Ping(ctx context.Context) error
	Status(ctx context.Context) backends.Status
}

// healthAdapter converts a backend status snapshot into HealthStatus.
type healthAdapter struct {
	h backendHealth
}

func (a *healthAdapter) Ping(ctx context.Context) error {
	return a.h.Ping(ctx)
}

func (a *healthAdapter) Status(ctx context.Context) HealthStatus {
	s := a.h.Status(ctx)
	return HealthStatus{
		Healthy:         s.Healthy,
		Latency:         s.Latency,
		Version:         s.Version,
		Error:           s.Error,
		OpenConnections: s.OpenConnections,
		InUse:           s.InUse,
		Idle:            s.Idle,
		WaitCount:       s.WaitCount,
		WaitDuration:    s.WaitDuration,
		MaxOpenConns:    s.MaxOpenConns,
	}
}
