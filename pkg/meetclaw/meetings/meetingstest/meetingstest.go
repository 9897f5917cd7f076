// Package meetingstest provides a migrated SQLite meeting store for tests.
package meetingstest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/database"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/meetings"
)

// NewStore opens a fresh SQLite database in a temp dir and migrates it.
// Everything is cleaned up when the test ends.
func NewStore(t testing.TB) *meetings.SQLStore {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "meetclaw-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	cfg := database.DefaultHubConfig()
	cfg.SQLite.Path = filepath.Join(tmpDir, "meetclaw.db")
	hub, err := database.NewHub(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	t.Cleanup(func() { hub.Close() })

	if err := hub.Migrate(context.Background(), "", 0); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return meetings.NewSQLStore(hub.Primary())
}

// Seed creates an agent and an upcoming meeting assigned to it.
func Seed(t testing.TB, store meetings.Store) (*meetings.Agent, *meetings.Meeting) {
	t.Helper()
	ctx := context.Background()
	a := &meetings.Agent{Name: "Ada", Instructions: "Keep the standup on track."}
	if err := store.CreateAgent(ctx, a); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	m := &meetings.Meeting{Name: "Standup", UserID: "user-1", AgentID: a.ID}
	if err := store.CreateMeeting(ctx, m); err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}
	return a, m
}
