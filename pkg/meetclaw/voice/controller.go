package voice

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/apperr"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/meetings"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/participant"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/provider"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/spawn"
)

// ErrNoBackend is the degraded reason when no voice backend is configured.
var ErrNoBackend = errors.New("voice backend not configured")

// AttachRequest names the participant a voice session speaks for.
type AttachRequest struct {
	MeetingID    string
	AgentUserID  string
	AgentToken   string
	AgentName    string
	Instructions string
}

// Controller brings a spawned agent to life inside a call.
type Controller struct {
	client   provider.Client
	backend  Backend
	registry *participant.Registry
	cfg      Config
	tracker  *Tracker
	logger   *slog.Logger

	tokenTTL time.Duration
}

// NewController creates a controller. backend may be nil; Attach then
// reports a degraded outcome and the agent stays in the call silent.
func NewController(client provider.Client, backend Backend, registry *participant.Registry, cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		client:   client,
		backend:  backend,
		registry: registry,
		cfg:      cfg.Effective(),
		tracker:  NewTracker(),
		logger:   logger.With("component", "voice"),
		tokenTTL: time.Hour,
	}
}

// Join enters the call as the agent participant with camera off and
// microphone on.
func (c *Controller) Join(ctx context.Context, h *spawn.Handle) error {
	err := c.client.JoinCall(ctx, h.MeetingID, provider.JoinOptions{
		UserID:     h.UserID,
		Camera:     false,
		Microphone: true,
	})
	if err != nil {
		if apperr.KindOf(err) != apperr.KindInternal {
			return err
		}
		return apperr.Upstream(err, "join call")
	}
	c.logger.Info("agent joined call", "meeting_id", h.MeetingID, "identity", h.UserID)
	return nil
}

// Attach connects the voice backend for an agent already in the call,
// configures the session and sends the greeting. The session lives until
// the call ends, CloseMeeting or Shutdown.
func (c *Controller) Attach(ctx context.Context, req AttachRequest) apperr.Outcome {
	if c.backend == nil {
		return apperr.Degrade(ErrNoBackend, "voice unavailable")
	}

	sess, err := c.backend.Connect(ctx, ConnectParams{
		CallType:    c.client.CallType(),
		CallID:      req.MeetingID,
		AgentUserID: req.AgentUserID,
		AgentToken:  req.AgentToken,
	})
	if err != nil {
		return apperr.Degrade(err, "voice connect failed")
	}

	update := SessionUpdate{
		Instructions:            BuildInstructions(req.AgentName, req.Instructions),
		Voice:                   c.cfg.Voice,
		Modalities:              c.cfg.Modalities,
		Temperature:             c.cfg.Temperature,
		TurnDetection:           c.cfg.TurnDetection,
		InputTranscriptionModel: c.cfg.InputTranscriptionModel,
	}
	if err := sess.UpdateSession(ctx, update); err != nil {
		sess.Close()
		return apperr.Degrade(err, "voice session update failed")
	}
	if err := sess.SendUserText(ctx, c.cfg.Greeting); err != nil {
		sess.Close()
		return apperr.Degrade(err, "voice greeting failed")
	}

	unregister := c.tracker.Register(req.MeetingID, func() { sess.Close() })
	go func() {
		<-sess.Done()
		unregister()
		c.logger.Info("voice session ended", "meeting_id", req.MeetingID, "identity", req.AgentUserID)
	}()

	c.logger.Info("voice attached", "meeting_id", req.MeetingID, "identity", req.AgentUserID)
	return apperr.OK()
}

// Run joins, waits for the media connection to settle and attaches voice.
// A failed join is Failed; a failed attach is Degraded and the agent stays
// in the call.
func (c *Controller) Run(ctx context.Context, h *spawn.Handle, agent *meetings.Agent) apperr.Outcome {
	if err := c.Join(ctx, h); err != nil {
		c.logger.Error("agent join failed", "meeting_id", h.MeetingID, "identity", h.UserID, "error", err)
		return apperr.Fail(err, "join failed")
	}

	if err := c.settle(ctx); err != nil {
		return apperr.Degrade(err, "cancelled before voice attach")
	}

	out := c.Attach(ctx, AttachRequest{
		MeetingID:    h.MeetingID,
		AgentUserID:  h.UserID,
		AgentToken:   h.Token,
		AgentName:    agent.Name,
		Instructions: agent.Instructions,
	})
	if !out.Succeeded() {
		c.logger.Warn("agent is in the call without voice", "meeting_id", h.MeetingID, "outcome", out.String())
	}
	return out
}

// AttachToCall attaches voice to the agent participant currently in the
// meeting's call. NotFound when no agent participant is present.
func (c *Controller) AttachToCall(ctx context.Context, meetingID string, agent *meetings.Agent) (apperr.Outcome, error) {
	call, err := c.client.GetCall(ctx, meetingID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return apperr.Outcome{}, err
		}
		return apperr.Outcome{}, apperr.Upstream(err, "load call members")
	}
	present := c.registry.Agents(call.Members)
	if len(present) == 0 {
		return apperr.Outcome{}, apperr.NotFound("no agent participant in call %s", meetingID)
	}
	member := present[len(present)-1]

	token, _, err := c.client.CreateUserToken(member.UserID, c.tokenTTL)
	if err != nil {
		return apperr.Outcome{}, apperr.Upstream(err, "create agent token")
	}
	return c.Attach(ctx, AttachRequest{
		MeetingID:    meetingID,
		AgentUserID:  member.UserID,
		AgentToken:   token,
		AgentName:    agent.Name,
		Instructions: agent.Instructions,
	}), nil
}

func (c *Controller) settle(ctx context.Context) error {
	if c.cfg.SettleDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(c.cfg.SettleDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// CloseMeeting ends the local voice session of a meeting, if any.
func (c *Controller) CloseMeeting(meetingID string) bool {
	closed := c.tracker.Close(meetingID)
	if closed {
		c.logger.Info("voice session closed", "meeting_id", meetingID)
	}
	return closed
}

// Active returns the number of live voice sessions.
func (c *Controller) Active() int { return c.tracker.Count() }

// Shutdown closes every live session and waits for them to drain.
func (c *Controller) Shutdown(ctx context.Context) {
	if n := c.tracker.CancelAll(); n > 0 {
		c.logger.Info("closing voice sessions", "count", n)
	}
	if !c.tracker.Wait(ctx) {
		c.logger.Warn("voice sessions did not drain before shutdown deadline")
	}
}
