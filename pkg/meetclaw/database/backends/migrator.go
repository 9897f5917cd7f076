package backends

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLMigrator applies versioned migrations recorded in schema_version.
// Both backends share it; only the DDL and placeholder style differ.
type SQLMigrator struct {
	db          *sql.DB
	migrations  []Migration
	versionDDL  string
	recordQuery string
}

func newSQLMigrator(db *sql.DB, migrations []Migration, versionDDL, recordQuery string) *SQLMigrator {
	return &SQLMigrator{
		db:          db,
		migrations:  migrations,
		versionDDL:  versionDDL,
		recordQuery: recordQuery,
	}
}

// CurrentVersion returns the current schema version (0 before the first migration).
func (m *SQLMigrator) CurrentVersion(ctx context.Context) (int, error) {
	if _, err := m.db.ExecContext(ctx, m.versionDDL); err != nil {
		return 0, fmt.Errorf("create schema_version table: %w", err)
	}
	var version int
	err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// Migrate applies pending migrations up to target (0 = latest).
func (m *SQLMigrator) Migrate(ctx context.Context, target int) error {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	if target <= 0 {
		target = LatestVersion(m.migrations)
	}

	for _, mig := range m.migrations {
		if mig.Version <= current || mig.Version > target {
			continue
		}
		tx, err := m.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", mig.Version, err)
		}
		if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		if _, err := tx.ExecContext(ctx, m.recordQuery, mig.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", mig.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", mig.Version, err)
		}
	}
	return nil
}

// NeedsMigration returns true if schema is outdated.
func (m *SQLMigrator) NeedsMigration(ctx context.Context) (bool, error) {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return false, err
	}
	return current < LatestVersion(m.migrations), nil
}
