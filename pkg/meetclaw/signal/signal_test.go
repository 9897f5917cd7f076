package signal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/apperr"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/provider"
)

func TestFromCustom(t *testing.T) {
	tests := []struct {
		name   string
		custom map[string]any
		ok     bool
		ts     int64
	}{
		{"empty", map[string]any{}, false, 0},
		{"false flag", map[string]any{KeyShouldJoin: false, KeyTimestamp: 5.0}, false, 0},
		{"json number float", map[string]any{KeyShouldJoin: true, KeyTimestamp: float64(1700000000123)}, true, 1700000000123},
		{"int64", map[string]any{KeyShouldJoin: true, KeyTimestamp: int64(7)}, true, 7},
		{"json.Number", map[string]any{KeyShouldJoin: true, KeyTimestamp: json.Number("9")}, true, 9},
		{"missing timestamp", map[string]any{KeyShouldJoin: true}, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ok := FromCustom(tt.custom)
			if ok != tt.ok || s.Timestamp != tt.ts {
				t.Errorf("FromCustom() = %+v, %v; want ts=%d ok=%v", s, ok, tt.ts, tt.ok)
			}
		})
	}
}

func TestMergeIntoPreservesKeys(t *testing.T) {
	custom := map[string]any{"meetingId": "m1", "meetingName": "Standup"}
	merged := Signal{ShouldJoinAgent: true, AgentID: "a1", AgentName: "Ada", Timestamp: 10}.MergeInto(custom)
	if merged["meetingId"] != "m1" || merged["meetingName"] != "Standup" {
		t.Errorf("lost existing keys: %v", merged)
	}
	if merged[KeyShouldJoin] != true || merged[KeyAgentID] != "a1" {
		t.Errorf("signal keys missing: %v", merged)
	}
	if _, ok := custom[KeyShouldJoin]; ok {
		t.Error("MergeInto must not mutate its input")
	}
}

func newCall(t *testing.T) *provider.Memory {
	t.Helper()
	m := provider.NewMemory("key", "secret")
	_, err := m.GetOrCreateCall(context.Background(), "m1", provider.GetOrCreateRequest{
		Custom: map[string]any{"meetingId": "m1"},
	})
	if err != nil {
		t.Fatalf("GetOrCreateCall: %v", err)
	}
	return m
}

func TestChannel_PublishOnce(t *testing.T) {
	mem := newCall(t)
	ch := NewChannel(mem, nil)
	ctx := context.Background()

	res, err := ch.Publish(ctx, "m1", "a1", "Ada")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !res.Sent || res.Signal.Timestamp == 0 {
		t.Errorf("first publish = %+v", res)
	}

	again, err := ch.Publish(ctx, "m1", "a1", "Ada")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if again.Sent {
		t.Error("second publish must not write")
	}
	if again.Signal.Timestamp != res.Signal.Timestamp {
		t.Errorf("timestamp changed: %d vs %d", again.Signal.Timestamp, res.Signal.Timestamp)
	}
	if mem.CustomWrites("m1") != 1 {
		t.Errorf("expected 1 write, got %d", mem.CustomWrites("m1"))
	}

	call, _ := mem.GetCall(ctx, "m1")
	if call.Custom["meetingId"] != "m1" {
		t.Errorf("merge lost meetingId: %v", call.Custom)
	}
}

func TestChannel_ConcurrentPublish(t *testing.T) {
	mem := newCall(t)
	ch := NewChannel(mem, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ch.Publish(context.Background(), "m1", "a1", "Ada"); err != nil {
				t.Errorf("Publish: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := mem.CustomWrites("m1"); got != 1 {
		t.Errorf("expected exactly one write, got %d", got)
	}
}

func TestChannel_PublishMissingCall(t *testing.T) {
	ch := NewChannel(provider.NewMemory("k", "s"), nil)
	if _, err := ch.Publish(context.Background(), "nope", "a1", "Ada"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestConsumer_OfferDedup(t *testing.T) {
	var calls atomic.Int32
	c := NewConsumer(nil, nil, "m1", time.Second, func(ctx context.Context, s Signal) error {
		calls.Add(1)
		return nil
	}, nil)
	ctx := context.Background()

	sig := Signal{ShouldJoinAgent: true, AgentID: "a1", Timestamp: 100}
	custom := sig.MergeInto(nil)

	if !c.Offer(ctx, custom) {
		t.Fatal("first offer should react")
	}
	if c.Offer(ctx, custom) {
		t.Error("same timestamp must not react twice")
	}
	older := Signal{ShouldJoinAgent: true, Timestamp: 50}.MergeInto(nil)
	if c.Offer(ctx, older) {
		t.Error("older timestamp must not react")
	}
	newer := Signal{ShouldJoinAgent: true, Timestamp: 200}.MergeInto(nil)
	if !c.Offer(ctx, newer) {
		t.Error("newer timestamp should react")
	}
	if c.Offer(ctx, map[string]any{}) {
		t.Error("no signal, no reaction")
	}
	if calls.Load() != 2 {
		t.Errorf("reactions = %d, want 2", calls.Load())
	}
}

func TestConsumer_RetryAfterFailure(t *testing.T) {
	var calls atomic.Int32
	fail := errors.New("network")
	c := NewConsumer(nil, nil, "m1", time.Second, func(ctx context.Context, s Signal) error {
		if calls.Add(1) == 1 {
			return fail
		}
		return nil
	}, nil)
	custom := Signal{ShouldJoinAgent: true, Timestamp: 100}.MergeInto(nil)

	c.Offer(context.Background(), custom)
	if c.LastSeen() != 0 {
		t.Errorf("failed reaction should roll back, lastSeen=%d", c.LastSeen())
	}
	c.Offer(context.Background(), custom)
	if calls.Load() != 2 || c.LastSeen() != 100 {
		t.Errorf("calls=%d lastSeen=%d", calls.Load(), c.LastSeen())
	}
}

func TestConsumer_ConflictIsTerminal(t *testing.T) {
	var calls atomic.Int32
	c := NewConsumer(nil, nil, "m1", time.Second, func(ctx context.Context, s Signal) error {
		calls.Add(1)
		return apperr.Conflict("agent already joined")
	}, nil)
	custom := Signal{ShouldJoinAgent: true, Timestamp: 100}.MergeInto(nil)

	c.Offer(context.Background(), custom)
	c.Offer(context.Background(), custom)
	if calls.Load() != 1 {
		t.Errorf("conflict should not be retried, calls=%d", calls.Load())
	}
}

// Both producers deliver the same signal; the consumer reacts once.
func TestConsumer_RunPollAndSubscribe(t *testing.T) {
	mem := newCall(t)
	var calls atomic.Int32
	reacted := make(chan Signal, 4)

	c := NewConsumer(mem, mem, "m1", 20*time.Millisecond, func(ctx context.Context, s Signal) error {
		calls.Add(1)
		reacted <- s
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// Let the subscription register before publishing.
	time.Sleep(50 * time.Millisecond)
	res, err := NewChannel(mem, nil).Publish(context.Background(), "m1", "a1", "Ada")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case s := <-reacted:
		if s.Timestamp != res.Signal.Timestamp {
			t.Errorf("reacted to %d, want %d", s.Timestamp, res.Signal.Timestamp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer never reacted")
	}

	// Several more poll cycles must not trigger another reaction.
	time.Sleep(150 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("reactions = %d, want 1", calls.Load())
	}
}
