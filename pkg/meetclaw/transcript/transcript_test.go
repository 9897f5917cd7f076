package transcript

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/apperr"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/meetings/meetingstest"
)

func TestFlatten(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "transcript object",
			in:   `{"transcript":[{"speaker":"Ada","text":"hello","timestamp":"2026-01-01T10:00:05Z"},{"user_name":"Bob","message":"hi"}]}`,
			want: "[10:00:05] Ada: hello\nBob: hi",
		},
		{
			name: "bare array with timestamps",
			in:   `[{"speaker":"Ada","text":"hello","timestamp":1767261605000},{"text":"anyone?"}]`,
			want: "[10:00:05] Ada: hello\nUnknown: anyone?",
		},
		{
			name: "messages object",
			in:   `{"messages":[{"role":"assistant","content":"I can help"},{"speaker":"Bob","text":"thanks"}]}`,
			want: "assistant: I can help\nBob: thanks",
		},
		{
			name: "newline delimited",
			in:   "{\"speaker_id\":\"u1\",\"text\":\"one\"}\n{\"speaker_id\":\"u2\",\"text\":\"two\"}\n",
			want: "u1: one\nu2: two",
		},
		{
			name: "unknown shape",
			in:   `{"foo":"bar"}`,
			want: "{\n  \"foo\": \"bar\"\n}",
		},
	}

	f := Flattener{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Flatten([]byte(tt.in))
			if err != nil {
				t.Fatalf("Flatten: %v", err)
			}
			if got != tt.want {
				t.Errorf("got:\n%s\nwant:\n%s", got, tt.want)
			}
		})
	}
}

func TestFlatten_Empty(t *testing.T) {
	f := Flattener{}
	for _, in := range []string{"", `{"transcript":[]}`, `[]`, `{"messages":[]}`} {
		if _, err := f.Flatten([]byte(in)); !apperr.Is(err, apperr.KindNotFound) {
			t.Errorf("Flatten(%q): expected NotFound, got %v", in, err)
		}
	}
	if _, err := f.Flatten([]byte("not json")); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error for garbage, got %v", err)
	}
}

func TestService_Text(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.json":
			w.Write([]byte(`{"transcript":[{"speaker":"Ada","text":"welcome"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	store := meetingstest.NewStore(t)
	_, m := meetingstest.Seed(t, store)
	ctx := context.Background()
	svc := NewService(store, srv.Client(), nil, nil)

	if _, err := svc.Text(ctx, m.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected NotFound before a transcript exists, got %v", err)
	}
	if _, err := svc.Text(ctx, "missing"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected NotFound for missing meeting, got %v", err)
	}

	if _, err := store.SetTranscriptURL(ctx, m.ID, srv.URL+"/ok.json"); err != nil {
		t.Fatalf("SetTranscriptURL: %v", err)
	}
	res, err := svc.Text(ctx, m.ID)
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if res.PlainText != "Ada: welcome" {
		t.Errorf("unexpected text: %q", res.PlainText)
	}
	if !strings.Contains(string(res.OriginalData), "welcome") {
		t.Error("expected original data to be kept")
	}

	if _, err := store.SetTranscriptURL(ctx, m.ID, srv.URL+"/gone.json"); err != nil {
		t.Fatalf("SetTranscriptURL: %v", err)
	}
	if _, err := svc.Text(ctx, m.ID); !apperr.Is(err, apperr.KindUpstream) {
		t.Errorf("expected upstream error for 404 download, got %v", err)
	}
}

func TestService_DownloadLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	svc := NewService(nil, srv.Client(), nil, nil)
	svc.maxBytes = 16
	if _, err := svc.Download(context.Background(), srv.URL); !apperr.Is(err, apperr.KindUpstream) {
		t.Errorf("expected oversized download to fail, got %v", err)
	}
}

func TestService_MalformedStoredURL(t *testing.T) {
	store := meetingstest.NewStore(t)
	_, m := meetingstest.Seed(t, store)
	ctx := context.Background()

	if _, err := store.SetTranscriptURL(ctx, m.ID, "://no-scheme"); err != nil {
		t.Fatalf("SetTranscriptURL: %v", err)
	}
	svc := NewService(store, http.DefaultClient, nil, nil)
	_, err := svc.Text(ctx, m.ID)
	if !apperr.Is(err, apperr.KindUpstream) {
		t.Fatalf("expected upstream error for a bad stored url, got %v", err)
	}
	if got := apperr.HTTPStatus(err); got != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", got)
	}
}
