package agentclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/apperr"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/meetings"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/provider"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/signal"
)

func tempPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "meetclaw-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "state", "watch.bolt")
}

func TestCursorStore(t *testing.T) {
	path := tempPath(t)
	s, err := OpenCursorStore(path)
	if err != nil {
		t.Fatalf("OpenCursorStore: %v", err)
	}
	if ts, _ := s.Get("m1"); ts != 0 {
		t.Errorf("empty cursor = %d", ts)
	}
	if err := s.Put("m1", 200); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("m1", 100); err != nil {
		t.Fatal(err)
	}
	if ts, _ := s.Get("m1"); ts != 200 {
		t.Errorf("cursor went backwards: %d", ts)
	}
	s.Close()

	s, err = OpenCursorStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if ts, _ := s.Get("m1"); ts != 200 {
		t.Errorf("cursor after reopen = %d", ts)
	}
}

type fakeServer struct {
	mu         sync.Mutex
	spawns     int
	spawnCode  int
	status     meetings.Status
	authHeader string
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/meetings/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.authHeader = r.Header.Get("Authorization")
		st := f.status
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"meeting": meetings.Meeting{ID: r.PathValue("id"), Status: st},
		})
	})
	mux.HandleFunc("POST /api/spawn-agent", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			MeetingID string `json:"meetingId"`
			AutoJoin  bool   `json:"autoJoin"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.spawns++
		code := f.spawnCode
		f.mu.Unlock()
		if !req.AutoJoin {
			code = http.StatusBadRequest
		}
		w.WriteHeader(code)
		if code != http.StatusOK {
			json.NewEncoder(w).Encode(map[string]string{"error": "agent already joined"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	return mux
}

func (f *fakeServer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spawns
}

func signalledCall(t *testing.T, meetingID string, ts int64) *provider.Memory {
	t.Helper()
	mem := provider.NewMemory("key", "secret")
	s := signal.Signal{ShouldJoinAgent: true, AgentID: "a1", AgentName: "Ada", Timestamp: ts}
	if _, err := mem.GetOrCreateCall(context.Background(), meetingID, provider.GetOrCreateRequest{Custom: s.MergeInto(nil)}); err != nil {
		t.Fatal(err)
	}
	return mem
}

func watchFor(t *testing.T, r *Runner, meetingID string, d time.Duration) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return r.Watch(ctx, meetingID)
}

func TestWatch_SpawnsOnceAndResumes(t *testing.T) {
	fs := &fakeServer{spawnCode: http.StatusOK, status: meetings.StatusActive}
	srv := httptest.NewServer(fs.handler())
	defer srv.Close()

	mem := signalledCall(t, "m1", 1000)
	cursor, err := OpenCursorStore(tempPath(t))
	if err != nil {
		t.Fatal(err)
	}
	defer cursor.Close()

	cfg := Config{ServerURL: srv.URL + "/", AuthToken: "tok", PollInterval: 5 * time.Millisecond}
	if err := watchFor(t, New(cfg, mem, mem, cursor, nil), "m1", 100*time.Millisecond); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if got := fs.count(); got != 1 {
		t.Fatalf("spawns = %d, want 1", got)
	}
	fs.mu.Lock()
	auth := fs.authHeader
	fs.mu.Unlock()
	if auth != "Bearer tok" {
		t.Errorf("auth header = %q", auth)
	}
	if ts, _ := cursor.Get("m1"); ts != 1000 {
		t.Errorf("cursor = %d, want 1000", ts)
	}

	// A restarted watcher skips the handled signal.
	if err := watchFor(t, New(cfg, mem, nil, cursor, nil), "m1", 60*time.Millisecond); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if got := fs.count(); got != 1 {
		t.Errorf("spawns after restart = %d, want 1", got)
	}
}

func TestWatch_ConflictIsNotRetried(t *testing.T) {
	fs := &fakeServer{spawnCode: http.StatusConflict, status: meetings.StatusActive}
	srv := httptest.NewServer(fs.handler())
	defer srv.Close()

	mem := signalledCall(t, "m1", 1000)
	r := New(Config{ServerURL: srv.URL, PollInterval: 5 * time.Millisecond}, mem, nil, nil, nil)
	if err := watchFor(t, r, "m1", 80*time.Millisecond); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if got := fs.count(); got != 1 {
		t.Errorf("spawn attempts = %d, want 1", got)
	}
}

func TestWatch_RetriesUpstreamFailure(t *testing.T) {
	fs := &fakeServer{spawnCode: http.StatusInternalServerError, status: meetings.StatusActive}
	srv := httptest.NewServer(fs.handler())
	defer srv.Close()

	mem := signalledCall(t, "m1", 1000)
	r := New(Config{ServerURL: srv.URL, PollInterval: 5 * time.Millisecond}, mem, nil, nil, nil)
	if err := watchFor(t, r, "m1", 80*time.Millisecond); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if got := fs.count(); got < 2 {
		t.Errorf("spawn attempts = %d, want retries", got)
	}
}

func TestWatch_EndedMeeting(t *testing.T) {
	fs := &fakeServer{spawnCode: http.StatusOK, status: meetings.StatusCompleted}
	srv := httptest.NewServer(fs.handler())
	defer srv.Close()

	mem := signalledCall(t, "m1", 1000)
	err := watchFor(t, New(Config{ServerURL: srv.URL}, mem, nil, nil, nil), "m1", time.Second)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("err = %v, want Conflict", err)
	}
	if fs.count() != 0 {
		t.Error("spawned for an ended meeting")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		status int
		want   apperr.Kind
	}{
		{http.StatusBadRequest, apperr.KindValidation},
		{http.StatusUnauthorized, apperr.KindUnauthorized},
		{http.StatusNotFound, apperr.KindNotFound},
		{http.StatusConflict, apperr.KindConflict},
		{http.StatusBadGateway, apperr.KindUpstream},
	}
	for _, tt := range tests {
		if got := apperr.KindOf(classify(tt.status, "x")); got != tt.want {
			t.Errorf("classify(%d) = %s, want %s", tt.status, got, tt.want)
		}
	}
}
