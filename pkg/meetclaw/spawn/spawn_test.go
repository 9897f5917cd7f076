package spawn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/apperr"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/meetings"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/meetings/meetingstest"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/participant"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/provider"
)

type fixture struct {
	store    *meetings.SQLStore
	mem      *provider.Memory
	coord    *Coordinator
	registry *participant.Registry
	meeting  *meetings.Meeting
	agent    *meetings.Agent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := meetingstest.NewStore(t)
	agent, meeting := meetingstest.Seed(t, store)

	mem := provider.NewMemory("key", "secret")
	if _, err := mem.GetOrCreateCall(context.Background(), meeting.ID, provider.GetOrCreateRequest{}); err != nil {
		t.Fatalf("GetOrCreateCall: %v", err)
	}
	reg := participant.NewRegistry(participant.DefaultConfig())
	return &fixture{
		store:    store,
		mem:      mem,
		coord:    New(store, mem, reg, time.Hour, nil),
		registry: reg,
		meeting:  meeting,
		agent:    agent,
	}
}

func (f *fixture) agentMembers(t *testing.T) []provider.Member {
	t.Helper()
	call, err := f.mem.GetCall(context.Background(), f.meeting.ID)
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	return f.registry.Agents(call.Members)
}

func TestSpawn_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.coord.Spawn(ctx, f.meeting.ID)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if h.AgentID != f.agent.ID || h.AgentName != "Ada" || h.DisplayName != "🤖 Ada" {
		t.Errorf("unexpected handle: %+v", h)
	}
	if h.Token == "" || h.APIKey != "key" {
		t.Errorf("missing credentials: %+v", h)
	}
	if uid, err := provider.ParseUserToken("secret", h.Token); err != nil || uid != h.UserID {
		t.Errorf("token user = %q, %v", uid, err)
	}

	u, ok := f.mem.User(h.UserID)
	if !ok || u.Custom[participant.KindKey] != participant.KindAgent {
		t.Errorf("agent user not tagged: %+v", u)
	}
	if n := len(f.agentMembers(t)); n != 1 {
		t.Errorf("expected one agent member, got %d", n)
	}

	m, _ := f.store.GetMeeting(ctx, f.meeting.ID)
	if !m.AgentJoined {
		t.Error("agent_joined should be set")
	}
	if f.coord.InFlight(f.meeting.ID) {
		t.Error("in-flight entry must be released")
	}

	if _, err := f.coord.Spawn(ctx, f.meeting.ID); !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("second spawn should conflict, got %v", err)
	}
}

func TestSpawn_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)

	const n = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coord.Spawn(context.Background(), f.meeting.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case apperr.Is(err, apperr.KindConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || conflicts != n-1 {
		t.Errorf("successes=%d conflicts=%d", successes, conflicts)
	}
	if got := len(f.agentMembers(t)); got != 1 {
		t.Errorf("expected 1 agent member, got %d", got)
	}
}

// Two coordinators model two server instances sharing one database.
func TestSpawn_CrossInstanceFence(t *testing.T) {
	f := newFixture(t)
	other := New(f.store, f.mem, f.registry, time.Hour, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, c := range []*Coordinator{f.coord, other} {
		wg.Add(1)
		go func(i int, c *Coordinator) {
			defer wg.Done()
			_, errs[i] = c.Spawn(context.Background(), f.meeting.ID)
		}(i, c)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else if !apperr.Is(err, apperr.KindConflict) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("expected one success, got %d", ok)
	}
}

func TestSpawn_AgentAlreadyPresentResetsFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mem.AppendMember(f.meeting.ID, provider.Member{UserID: "virtual-old-1"})

	_, err := f.coord.Spawn(ctx, f.meeting.ID)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
	m, _ := f.store.GetMeeting(ctx, f.meeting.ID)
	if m.AgentJoined {
		t.Error("agent_joined must be reset after the presence check fails")
	}
}

func TestSpawn_UpstreamFailureCompensates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mem.FailOn("UpdateCallMembers", errors.New("provider down"))

	_, err := f.coord.Spawn(ctx, f.meeting.ID)
	if !apperr.Is(err, apperr.KindUpstream) {
		t.Fatalf("expected Upstream, got %v", err)
	}
	m, _ := f.store.GetMeeting(ctx, f.meeting.ID)
	if m.AgentJoined {
		t.Error("agent_joined must be reset after upstream failure")
	}

	// Retry succeeds once the provider recovers.
	f.mem.FailOn("UpdateCallMembers", nil)
	if _, err := f.coord.Spawn(ctx, f.meeting.ID); err != nil {
		t.Fatalf("retry Spawn: %v", err)
	}
}

func TestSpawn_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.coord.Spawn(ctx, ""); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("empty id: %v", err)
	}
	if _, err := f.coord.Spawn(ctx, "missing"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("missing meeting: %v", err)
	}

	if _, err := f.store.MarkCompleted(ctx, f.meeting.ID, time.Now()); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if _, err := f.coord.Spawn(ctx, f.meeting.ID); !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("ended meeting: %v", err)
	}
}

func TestSpawn_InFlightGuard(t *testing.T) {
	f := newFixture(t)
	if !f.coord.acquire(f.meeting.ID) {
		t.Fatal("acquire failed")
	}
	_, err := f.coord.Spawn(context.Background(), f.meeting.ID)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("expected Conflict while in flight, got %v", err)
	}
	f.coord.release(f.meeting.ID)

	m, _ := f.store.GetMeeting(context.Background(), f.meeting.ID)
	if m.AgentJoined {
		t.Error("in-flight rejection must not touch the store")
	}
}
