package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/apperr"
)

func TestMemory_CallLifecycle(t *testing.T) {
	m := NewMemory("key", "secret")
	ctx := context.Background()

	if _, err := m.GetCall(ctx, "m1"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}

	call, err := m.GetOrCreateCall(ctx, "m1", GetOrCreateRequest{
		Custom:   map[string]any{"meetingId": "m1"},
		Settings: AutoCapture("1080p", "en"),
	})
	if err != nil {
		t.Fatalf("GetOrCreateCall: %v", err)
	}
	if !call.Recording || !call.Transcribing {
		t.Error("auto-on settings should start capture")
	}

	// Second get-or-create keeps existing custom data.
	call, _ = m.GetOrCreateCall(ctx, "m1", GetOrCreateRequest{Custom: map[string]any{"other": true}})
	if call.Custom["meetingId"] != "m1" || call.Custom["other"] != nil {
		t.Errorf("custom overwritten: %v", call.Custom)
	}

	m.UpsertUsers(ctx, User{ID: "agent-1", Name: "🤖 Ada"})
	if err := m.UpdateCallMembers(ctx, "m1", []MemberRequest{{UserID: "agent-1"}, {UserID: "u1"}}, nil); err != nil {
		t.Fatalf("UpdateCallMembers: %v", err)
	}
	call, _ = m.GetCall(ctx, "m1")
	if len(call.Members) != 2 || call.Members[0].User.Name != "🤖 Ada" {
		t.Errorf("members = %+v", call.Members)
	}
	if !call.Members[0].CreatedAt.Before(call.Members[1].CreatedAt) {
		t.Error("member timestamps should increase")
	}

	m.UpdateCallMembers(ctx, "m1", nil, []string{"agent-1"})
	call, _ = m.GetCall(ctx, "m1")
	if len(call.Members) != 1 || call.Members[0].UserID != "u1" {
		t.Errorf("after removal members = %+v", call.Members)
	}

	if err := m.EndCall(ctx, "m1"); err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	if !m.Ended("m1") {
		t.Error("expected ended")
	}
	if err := m.JoinCall(ctx, "m1", JoinOptions{UserID: "x"}); !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("join after end should conflict, got %v", err)
	}
}

func TestMemory_FailOn(t *testing.T) {
	m := NewMemory("key", "secret")
	ctx := context.Background()
	m.GetOrCreateCall(ctx, "m1", GetOrCreateRequest{})

	boom := errors.New("boom")
	m.FailOn("StartRecording", boom)
	if err := m.StartRecording(ctx, "m1"); !errors.Is(err, boom) {
		t.Errorf("expected injected failure, got %v", err)
	}
	m.FailOn("StartRecording", nil)
	if err := m.StartRecording(ctx, "m1"); err != nil {
		t.Errorf("expected success after clearing, got %v", err)
	}
}

func TestMemory_SubscribeCustom(t *testing.T) {
	m := NewMemory("key", "secret")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.GetOrCreateCall(ctx, "m1", GetOrCreateRequest{})

	ch, err := m.SubscribeCustom(ctx, "m1")
	if err != nil {
		t.Fatalf("SubscribeCustom: %v", err)
	}
	if err := m.UpdateCallCustom(ctx, "m1", map[string]any{"shouldJoinAgent": true}); err != nil {
		t.Fatalf("UpdateCallCustom: %v", err)
	}

	select {
	case custom := <-ch:
		if custom["shouldJoinAgent"] != true {
			t.Errorf("custom = %v", custom)
		}
	case <-time.After(time.Second):
		t.Fatal("no update received")
	}
	if m.CustomWrites("m1") != 1 {
		t.Errorf("CustomWrites = %d", m.CustomWrites("m1"))
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to close")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
