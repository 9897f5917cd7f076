package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "meetclaw-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	config := DefaultHubConfig()
	config.SQLite.Path = filepath.Join(tmpDir, "test.db")

	hub, err := NewHub(context.Background(), config, nil)
	if err != nil {
		t.Fatalf("NewHub failed: %v", err)
	}
	t.Cleanup(func() { hub.Close() })
	return hub
}

func TestHub_New(t *testing.T) {
	hub := newTestHub(t)

	primary := hub.Primary()
	if primary == nil {
		t.Fatal("primary backend is nil")
	}
	if primary.Type != BackendSQLite {
		t.Errorf("expected SQLite backend, got %s", primary.Type)
	}
	if primary.DB == nil {
		t.Error("primary backend has no connection")
	}
}

func TestHub_GetBackend(t *testing.T) {
	hub := newTestHub(t)

	backend, err := hub.GetBackend("")
	if err != nil {
		t.Fatalf("GetBackend failed: %v", err)
	}
	if backend.Name != "primary" {
		t.Errorf("expected primary, got %q", backend.Name)
	}

	if _, err := hub.GetBackend("nonexistent"); err == nil {
		t.Fatal("expected error for non-existent backend")
	}
}

func TestHub_StatusAndMigrate(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()

	status := hub.Status(ctx)
	if _, ok := status["primary"]; !ok {
		t.Fatal("expected 'primary' backend in status")
	}
	if !hub.Healthy(ctx) {
		t.Error("expected healthy hub")
	}

	if err := hub.Migrate(ctx, "", 0); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	needs, err := hub.Primary().Migrator.NeedsMigration(ctx)
	if err != nil {
		t.Fatalf("NeedsMigration failed: %v", err)
	}
	if needs {
		t.Error("expected schema to be current")
	}
}

func TestHub_UnsupportedBackend(t *testing.T) {
	_, err := NewHub(context.Background(), HubConfig{Backend: "oracle"}, nil)
	if err == nil {
		t.Fatal("expected error for unsupported backend")
	}
}

func TestRebind(t *testing.T) {
	tests := []struct {
		name    string
		backend BackendType
		in      string
		want    string
	}{
		{"sqlite unchanged", BackendSQLite, "SELECT * FROM meetings WHERE id = ?", "SELECT * FROM meetings WHERE id = ?"},
		{"postgres numbered", BackendPostgreSQL,
			"UPDATE meetings SET agent_joined = ? WHERE id = ? AND agent_joined = ?",
			"UPDATE meetings SET agent_joined = $1 WHERE id = $2 AND agent_joined = $3"},
		{"quoted literal", BackendPostgreSQL,
			"SELECT '?' FROM meetings WHERE id = ?",
			"SELECT '?' FROM meetings WHERE id = $1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Rebind(tt.backend, tt.in); got != tt.want {
				t.Errorf("Rebind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHubConfig_Effective(t *testing.T) {
	cfg := HubConfig{}.Effective()
	if cfg.Backend != BackendSQLite {
		t.Errorf("expected sqlite default, got %s", cfg.Backend)
	}
	if cfg.SQLite.Path != defaultSQLitePath {
		t.Errorf("expected default path, got %s", cfg.SQLite.Path)
	}

	pg := HubConfig{Backend: BackendPostgreSQL}.Effective()
	if pg.PostgreSQL.Port != 5432 || pg.PostgreSQL.Host != "localhost" {
		t.Errorf("unexpected postgres defaults: %+v", pg.PostgreSQL)
	}
}
