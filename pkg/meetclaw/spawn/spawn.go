// Package spawn guarantees that at most one agent participant is added to a
// call, even when many triggers race for the same meeting.
//
// Two guards apply in order: an in-process set of meetings being spawned
// (cheap, same-instance only) and the durable agent_joined conditional
// update in the store (authoritative across instances).
package spawn

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/apperr"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/meetings"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/participant"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/provider"
)

// Handle is what a successful spawn hands to the session controller.
type Handle struct {
	MeetingID   string    `json:"meetingId"`
	AgentID     string    `json:"agentId"`
	AgentName   string    `json:"agentName"`
	UserID      string    `json:"agentUserId"`
	DisplayName string    `json:"displayName"`
	Token       string    `json:"agentToken"`
	APIKey      string    `json:"apiKey"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Coordinator runs the spawn protocol.
type Coordinator struct {
	store    meetings.Store
	client   provider.Client
	registry *participant.Registry
	tokenTTL time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates a spawn coordinator.
func New(store meetings.Store, client provider.Client, registry *participant.Registry, tokenTTL time.Duration, logger *slog.Logger) *Coordinator {
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:    store,
		client:   client,
		registry: registry,
		tokenTTL: tokenTTL,
		logger:   logger.With("component", "spawn"),
		inflight: make(map[string]struct{}),
	}
}

func (c *Coordinator) acquire(meetingID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[meetingID]; busy {
		return false
	}
	c.inflight[meetingID] = struct{}{}
	return true
}

func (c *Coordinator) release(meetingID string) {
	c.mu.Lock()
	delete(c.inflight, meetingID)
	c.mu.Unlock()
}

// InFlight reports whether a spawn for meetingID is running in this process.
func (c *Coordinator) InFlight(meetingID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[meetingID]
	return ok
}

// Spawn adds a fresh agent participant to the meeting's call.
//
// Errors: Validation for an empty id, NotFound for a missing meeting or
// agent, Conflict when another spawn holds the meeting, an agent is already
// present, or the meeting has ended, Upstream when the provider fails (the
// agent_joined flag is reset before returning).
func (c *Coordinator) Spawn(ctx context.Context, meetingID string) (*Handle, error) {
	if meetingID == "" {
		return nil, apperr.Validation("meetingId is required")
	}
	if !c.acquire(meetingID) {
		return nil, apperr.Conflict("agent spawn already in progress")
	}
	defer c.release(meetingID)

	meeting, err := c.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if meeting.Status.Ended() {
		return nil, apperr.Conflict("meeting is %s", meeting.Status)
	}
	agent, err := c.store.GetAgent(ctx, meeting.AgentID)
	if err != nil {
		return nil, err
	}

	won, err := c.store.TryMarkAgentJoined(ctx, meetingID)
	if err != nil {
		return nil, apperr.Upstream(err, "claim agent slot")
	}
	if !won {
		return nil, apperr.Conflict("agent already joined")
	}

	handle, err := c.join(ctx, meeting, agent)
	if err != nil {
		// The flag must not stay set for an agent that never made it in.
		resetCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rerr := c.store.ResetAgentJoined(resetCtx, meetingID); rerr != nil {
			c.logger.Error("failed to reset agent_joined", "meeting_id", meetingID, "error", rerr)
		}
		return nil, err
	}

	c.logger.Info("agent spawned",
		"meeting_id", meetingID,
		"agent_id", agent.ID,
		"identity", handle.UserID)
	return handle, nil
}

func (c *Coordinator) join(ctx context.Context, meeting *meetings.Meeting, agent *meetings.Agent) (*Handle, error) {
	call, err := c.client.GetCall(ctx, meeting.ID)
	if err != nil {
		return nil, apperr.Upstream(err, "load call members")
	}
	if present := c.registry.Agents(call.Members); len(present) > 0 {
		c.logger.Warn("agent already present in call",
			"meeting_id", meeting.ID,
			"identity", present[0].UserID)
		return nil, apperr.Conflict("agent already present in call")
	}

	id := c.registry.NewIdentity(agent.ID, agent.Name)
	if err := c.client.UpsertUsers(ctx, id.User()); err != nil {
		return nil, apperr.Upstream(err, "register agent user")
	}
	if err := c.client.UpdateCallMembers(ctx, meeting.ID,
		[]provider.MemberRequest{{UserID: id.UserID, Role: "user"}}, nil); err != nil {
		return nil, apperr.Upstream(err, "add agent to call")
	}

	token, exp, err := c.client.CreateUserToken(id.UserID, c.tokenTTL)
	if err != nil {
		if rerr := c.client.UpdateCallMembers(context.WithoutCancel(ctx), meeting.ID, nil, []string{id.UserID}); rerr != nil {
			c.logger.Warn("failed to remove agent member", "meeting_id", meeting.ID, "identity", id.UserID, "error", rerr)
		}
		return nil, apperr.Upstream(err, "create agent token")
	}

	return &Handle{
		MeetingID:   meeting.ID,
		AgentID:     agent.ID,
		AgentName:   agent.Name,
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
		Token:       token,
		APIKey:      c.client.APIKey(),
		ExpiresAt:   exp,
	}, nil
}
