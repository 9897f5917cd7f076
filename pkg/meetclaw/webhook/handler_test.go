package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/apperr"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/meetings"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/meetings/meetingstest"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/notify"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/provider"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/recording"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/signal"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(ctx context.Context, e notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, string(e.Kind))
	}
	return out
}

type closer struct {
	mu     sync.Mutex
	closed []string
}

func (c *closer) CloseMeeting(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, id)
	return true
}

type fixture struct {
	store    *meetings.SQLStore
	mem      *provider.Memory
	handler  *Handler
	notifier *recordingNotifier
	sessions *closer
	meeting  *meetings.Meeting
	agent    *meetings.Agent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := meetingstest.NewStore(t)
	agent, meeting := meetingstest.Seed(t, store)
	mem := provider.NewMemory("key", "secret")
	n := &recordingNotifier{}
	c := &closer{}
	h := New(Deps{
		Store:    store,
		Client:   mem,
		Channel:  signal.NewChannel(mem, nil),
		Capture:  recording.NewSyncer(mem, store, nil),
		Sessions: c,
		Notifier: n,
	}, DefaultConfig(), nil)
	return &fixture{store: store, mem: mem, handler: h, notifier: n, sessions: c, meeting: meeting, agent: agent}
}

func body(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func callEvent(typ, meetingID string) map[string]any {
	return map[string]any{
		"type": typ,
		"call": map[string]any{"cid": "default:" + meetingID, "custom": map[string]any{"meetingId": meetingID}},
	}
}

func (f *fixture) status(t *testing.T) meetings.Status {
	t.Helper()
	m, err := f.store.GetMeeting(context.Background(), f.meeting.ID)
	if err != nil {
		t.Fatalf("GetMeeting: %v", err)
	}
	return m.Status
}

func TestHandle_InvalidAndUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.handler.Handle(ctx, []byte("{not json")); apperr.HTTPStatus(err) != 400 {
		t.Errorf("expected 400 for invalid JSON, got %v", err)
	}
	resp, err := f.handler.Handle(ctx, []byte(`{"type":"call.reaction_new"}`))
	if err != nil || resp.Status != "ignored" {
		t.Errorf("expected ignored, got %+v %v", resp, err)
	}
}

func TestHandle_CallCreated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.handler.Handle(ctx, body(t, callEvent(TypeCallCreated, f.meeting.ID)))
	if err != nil || resp.Status != "ok" {
		t.Fatalf("unexpected result %+v %v", resp, err)
	}
	if f.status(t) != meetings.StatusUpcoming {
		t.Error("call.created must leave the meeting upcoming")
	}

	if _, err := f.handler.Handle(ctx, body(t, map[string]any{"type": TypeCallCreated})); apperr.HTTPStatus(err) != 400 {
		t.Errorf("expected 400 without meetingId, got %v", err)
	}
	if _, err := f.handler.Handle(ctx, body(t, callEvent(TypeCallCreated, "nope"))); apperr.HTTPStatus(err) != 404 {
		t.Errorf("expected 404 for unknown meeting, got %v", err)
	}
}

func TestHandle_SessionStartedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := body(t, callEvent(TypeSessionStarted, f.meeting.ID))

	resp, err := f.handler.Handle(ctx, ev)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.Message != "Agent join signal sent" {
		t.Errorf("unexpected message %q", resp.Message)
	}
	if f.status(t) != meetings.StatusActive {
		t.Errorf("expected active, got %s", f.status(t))
	}

	resp, err = f.handler.Handle(ctx, ev)
	if err != nil {
		t.Fatalf("duplicate Handle: %v", err)
	}
	if resp.Message != "Agent signal already sent" {
		t.Errorf("unexpected duplicate message %q", resp.Message)
	}
	if n := f.mem.CustomWrites(f.meeting.ID); n != 1 {
		t.Errorf("expected exactly one custom write, got %d", n)
	}

	call, _ := f.mem.GetCall(ctx, f.meeting.ID)
	sig, ok := signal.FromCustom(call.Custom)
	if !ok || sig.AgentID != f.agent.ID || sig.AgentName != f.agent.Name {
		t.Errorf("unexpected signal %+v", sig)
	}
	if call.Custom["meetingId"] != f.meeting.ID {
		t.Error("existing custom keys must be preserved")
	}
	if !call.Recording || !call.Transcribing {
		t.Error("expected capture started")
	}
}

func TestHandle_SessionStartedConcurrent(t *testing.T) {
	f := newFixture(t)
	ev := body(t, callEvent(TypeSessionStarted, f.meeting.ID))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.handler.Handle(context.Background(), ev); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Handle: %v", err)
	}
	if n := f.mem.CustomWrites(f.meeting.ID); n != 1 {
		t.Errorf("expected one custom write, got %d", n)
	}
}

func TestHandle_SessionStartedDegradedCapture(t *testing.T) {
	f := newFixture(t)
	f.mem.FailOn("StartRecording", errors.New("no storage"))
	f.mem.FailOn("StartTranscription", errors.New("no model"))

	resp, err := f.handler.Handle(context.Background(), body(t, callEvent(TypeSessionStarted, f.meeting.ID)))
	if err != nil {
		t.Fatalf("capture failures must not fail the event: %v", err)
	}
	if resp.Message != "Agent join signal sent" {
		t.Errorf("unexpected message %q", resp.Message)
	}
}

func TestHandle_SessionStartedUpstreamFailure(t *testing.T) {
	f := newFixture(t)
	f.mem.FailOn("UpdateCallCustom", errors.New("provider down"))

	_, err := f.handler.Handle(context.Background(), body(t, callEvent(TypeSessionStarted, f.meeting.ID)))
	if apperr.HTTPStatus(err) != 500 {
		t.Fatalf("expected 500, got %v", err)
	}
}

func TestHandle_StatusIsMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	left := map[string]any{"type": TypeSessionParticipantLeft, "call_cid": "default:" + f.meeting.ID}
	f.mem.GetOrCreateCall(ctx, f.meeting.ID, provider.GetOrCreateRequest{})
	if _, err := f.handler.Handle(ctx, body(t, left)); err != nil {
		t.Fatalf("participant_left: %v", err)
	}
	first, _ := f.store.GetMeeting(ctx, f.meeting.ID)

	resp, err := f.handler.Handle(ctx, body(t, callEvent(TypeSessionStarted, f.meeting.ID)))
	if err != nil {
		t.Fatalf("late session_started: %v", err)
	}
	if resp.Status != "ok" || f.status(t) != meetings.StatusCompleted {
		t.Errorf("late session_started must not reopen the meeting: %+v status=%s", resp, f.status(t))
	}
	if f.mem.CustomWrites(f.meeting.ID) != 0 {
		t.Error("no signal should be written for an ended meeting")
	}

	if _, err := f.handler.Handle(ctx, body(t, callEvent(TypeCallEnded, f.meeting.ID))); err != nil {
		t.Fatalf("call.ended: %v", err)
	}
	after, _ := f.store.GetMeeting(ctx, f.meeting.ID)
	if !after.EndedAt.Equal(*first.EndedAt) {
		t.Errorf("endedAt changed from %v to %v", first.EndedAt, after.EndedAt)
	}
}

func TestHandle_ParticipantLeft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mem.GetOrCreateCall(ctx, f.meeting.ID, provider.GetOrCreateRequest{})
	f.store.TryMarkAgentJoined(ctx, f.meeting.ID)

	resp, err := f.handler.Handle(ctx, body(t, map[string]any{
		"type": TypeSessionParticipantLeft, "call_cid": "default:" + f.meeting.ID,
	}))
	if err != nil || resp.Status != "ended" {
		t.Fatalf("unexpected result %+v %v", resp, err)
	}
	m, _ := f.store.GetMeeting(ctx, f.meeting.ID)
	if m.Status != meetings.StatusCompleted || m.AgentJoined || m.EndedAt == nil {
		t.Errorf("unexpected meeting state %+v", m)
	}
	if !f.mem.Ended(f.meeting.ID) {
		t.Error("expected call ended")
	}
	if len(f.sessions.closed) != 1 || f.sessions.closed[0] != f.meeting.ID {
		t.Errorf("expected voice sessions closed, got %v", f.sessions.closed)
	}

	if _, err := f.handler.Handle(ctx, body(t, map[string]any{"type": TypeSessionParticipantLeft, "call_cid": "bogus"})); apperr.HTTPStatus(err) != 400 {
		t.Errorf("expected 400 for malformed cid, got %v", err)
	}

	f.mem.FailOn("EndCall", errors.New("provider down"))
	if _, err := f.handler.Handle(ctx, body(t, map[string]any{
		"type": TypeSessionParticipantLeft, "call_cid": "default:" + f.meeting.ID,
	})); apperr.HTTPStatus(err) != 500 {
		t.Errorf("expected 500 when ending the call fails, got %v", err)
	}
}

func TestHandle_ArtifactsReady(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		typ, key, url string
	}{
		{TypeTranscriptionReady, "call_transcription", "https://cdn.example.com/t.jsonl"},
		{TypeRecordingReady, "call_recording", "https://cdn.example.com/r.mp4"},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			ev := callEvent(tt.typ, f.meeting.ID)
			if _, err := f.handler.Handle(ctx, body(t, ev)); apperr.HTTPStatus(err) != 400 {
				t.Errorf("expected 400 without url, got %v", err)
			}
			ev[tt.key] = map[string]any{"url": tt.url}
			if resp, err := f.handler.Handle(ctx, body(t, ev)); err != nil || resp.Status != "ok" {
				t.Fatalf("unexpected result %+v %v", resp, err)
			}
			missing := callEvent(tt.typ, "nope")
			missing[tt.key] = map[string]any{"url": tt.url}
			if _, err := f.handler.Handle(ctx, body(t, missing)); apperr.HTTPStatus(err) != 404 {
				t.Errorf("expected 404 for unknown meeting, got %v", err)
			}
		})
	}

	m, _ := f.store.GetMeeting(ctx, f.meeting.ID)
	if m.TranscriptURL != tests[0].url || m.RecordingURL != tests[1].url {
		t.Errorf("urls not saved: %+v", m)
	}
	if len(f.notifier.events) != 2 || f.notifier.events[0].MeetingName != "Standup" {
		t.Errorf("unexpected notifications %+v", f.notifier.events)
	}
}

func TestHandle_CallEndedBestEffort(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.handler.Handle(ctx, body(t, map[string]any{"type": TypeCallEnded}))
	if err != nil || resp.Status != "ok" {
		t.Fatalf("call.ended without meeting must be ok, got %+v %v", resp, err)
	}
	resp, err = f.handler.Handle(ctx, body(t, callEvent(TypeCallEnded, "nope")))
	if err != nil || resp.Status != "ok" {
		t.Fatalf("call.ended for unknown meeting must be ok, got %+v %v", resp, err)
	}

	if _, err := f.store.SetRecordingURL(ctx, f.meeting.ID, "https://cdn.example.com/r.mp4"); err != nil {
		t.Fatalf("SetRecordingURL: %v", err)
	}
	if _, err := f.handler.Handle(ctx, body(t, callEvent(TypeCallEnded, f.meeting.ID))); err != nil {
		t.Fatalf("call.ended: %v", err)
	}
	m, _ := f.store.GetMeeting(ctx, f.meeting.ID)
	if m.Status != meetings.StatusCompleted || m.RecordingURL == "" {
		t.Errorf("call.ended must complete without touching urls: %+v", m)
	}
	kinds := make([]string, 0, len(f.notifier.events))
	for _, e := range f.notifier.events {
		kinds = append(kinds, string(e.Kind))
	}
	if fmt.Sprint(kinds) != "[meeting_completed]" {
		t.Errorf("unexpected notifications %v", kinds)
	}
}

func TestHandle_RedeliveryNotifiesOnce(t *testing.T) {
	tests := []struct {
		name  string
		event func(meetingID string) map[string]any
		want  string
	}{
		{
			name: "call.ended",
			event: func(id string) map[string]any {
				return callEvent(TypeCallEnded, id)
			},
			want: "[meeting_completed]",
		},
		{
			name: "participant left then call.ended",
			event: func(id string) map[string]any {
				return map[string]any{"type": TypeSessionParticipantLeft, "call_cid": "default:" + id}
			},
			want: "[meeting_completed]",
		},
		{
			name: "transcription ready",
			event: func(id string) map[string]any {
				ev := callEvent(TypeTranscriptionReady, id)
				ev["call_transcription"] = map[string]any{"url": "https://cdn.example.com/t.jsonl"}
				return ev
			},
			want: "[transcript_ready meeting_completed]",
		},
		{
			name: "recording ready",
			event: func(id string) map[string]any {
				ev := callEvent(TypeRecordingReady, id)
				ev["call_recording"] = map[string]any{"url": "https://cdn.example.com/r.mp4"}
				return ev
			},
			want: "[recording_ready meeting_completed]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.mem.GetOrCreateCall(ctx, f.meeting.ID, provider.GetOrCreateRequest{})

			payload := body(t, tt.event(f.meeting.ID))
			for i := 0; i < 3; i++ {
				if _, err := f.handler.Handle(ctx, payload); err != nil {
					t.Fatalf("delivery %d: %v", i+1, err)
				}
			}
			if _, err := f.handler.Handle(ctx, body(t, callEvent(TypeCallEnded, f.meeting.ID))); err != nil {
				t.Fatalf("trailing call.ended: %v", err)
			}

			if got := fmt.Sprint(f.notifier.kinds()); got != tt.want {
				t.Errorf("notifications = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestHandle_CallEndedOnCancelledMeeting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.store.Cancel(ctx, f.meeting.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := f.handler.Handle(ctx, body(t, callEvent(TypeCallEnded, f.meeting.ID))); err != nil {
		t.Fatalf("call.ended: %v", err)
	}
	if got := f.status(t); got != meetings.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got)
	}
	if got := f.notifier.kinds(); len(got) != 0 {
		t.Errorf("cancelled meeting must not announce completion, got %v", got)
	}
}

func TestVerify(t *testing.T) {
	payload := []byte(`{"type":"call.created"}`)
	sig := Sign("secret", payload)

	if err := Verify("secret", payload, sig); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}
	for _, bad := range []string{"", "zz", Sign("other", payload)} {
		if err := Verify("secret", payload, bad); !apperr.Is(err, apperr.KindUnauthorized) {
			t.Errorf("Verify(%q) = %v, want unauthorized", bad, err)
		}
	}
}
