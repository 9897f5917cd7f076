// Package webhook reduces provider call events onto meeting state. Events
// arrive at least once and in any order, so every handler is idempotent
// and status only moves forward.
package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/apperr"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/meetings"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/notify"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/provider"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/recording"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/signal"
)

// SessionCloser closes the local voice sessions of a meeting.
type SessionCloser interface {
	CloseMeeting(meetingID string) bool
}

// Capture starts recording and transcription.
type Capture interface {
	Start(ctx context.Context, meetingID string) (recording.CaptureResult, error)
}

// Config holds the call settings applied when a session starts.
type Config struct {
	RecordingQuality      string `yaml:"recording_quality"`
	TranscriptionLanguage string `yaml:"transcription_language"`
}

// DefaultConfig returns 1080p recording and English transcription.
func DefaultConfig() Config {
	return Config{RecordingQuality: "1080p", TranscriptionLanguage: "en"}
}

// Deps are the collaborators of a Handler. Sessions, Capture and Notifier
// are optional.
type Deps struct {
	Store    meetings.Store
	Client   provider.Client
	Channel  *signal.Channel
	Capture  Capture
	Sessions SessionCloser
	Notifier notify.Notifier
}

type eventFunc func(ctx context.Context, ev *Event) (Response, error)

// Handler dispatches webhook events by type.
type Handler struct {
	deps     Deps
	cfg      Config
	handlers map[string]eventFunc
	starts   singleflight.Group
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a webhook handler.
func New(deps Deps, cfg Config, logger *slog.Logger) *Handler {
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if cfg.RecordingQuality == "" {
		cfg.RecordingQuality = DefaultConfig().RecordingQuality
	}
	if cfg.TranscriptionLanguage == "" {
		cfg.TranscriptionLanguage = DefaultConfig().TranscriptionLanguage
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		deps:   deps,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With("component", "webhook"),
	}
	h.handlers = map[string]eventFunc{
		TypeCallCreated:            h.handleCallCreated,
		TypeSessionStarted:         h.handleSessionStarted,
		TypeTranscriptionReady:     h.handleTranscriptionReady,
		TypeRecordingReady:         h.handleRecordingReady,
		TypeSessionParticipantLeft: h.handleParticipantLeft,
		TypeCallEnded:              h.handleCallEnded,
	}
	return h
}

// Handle parses body and runs the handler for its type. Unknown types are
// acknowledged with status "ignored".
func (h *Handler) Handle(ctx context.Context, body []byte) (Response, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Response{}, apperr.Validation("Invalid JSON")
	}

	fn, ok := h.handlers[ev.Type]
	if !ok {
		h.logger.Debug("ignoring event", "event", ev.Type)
		return Response{Status: "ignored"}, nil
	}

	resp, err := fn(ctx, &ev)
	if err != nil {
		h.logger.Warn("webhook event failed",
			"event", ev.Type,
			"meeting_id", firstNonEmpty(ev.MeetingID(), ev.CIDMeetingID()),
			"error", err)
		return Response{}, err
	}
	return resp, nil
}

func (h *Handler) handleCallCreated(ctx context.Context, ev *Event) (Response, error) {
	meetingID := ev.MeetingID()
	if meetingID == "" {
		return Response{}, apperr.Validation("Missing meetingId")
	}
	if _, err := h.deps.Store.GetMeeting(ctx, meetingID); err != nil {
		return Response{}, err
	}
	h.logger.Info("call created", "meeting_id", meetingID)
	return Response{Status: "ok", Message: "Call created, agent prepared"}, nil
}

func (h *Handler) handleSessionStarted(ctx context.Context, ev *Event) (Response, error) {
	meetingID := ev.MeetingID()
	if meetingID == "" {
		return Response{}, apperr.Validation("Missing meetingId")
	}

	v, err, shared := h.starts.Do(meetingID, func() (any, error) {
		return h.startSession(ctx, meetingID)
	})
	if err != nil {
		return Response{}, err
	}
	if shared {
		h.logger.Debug("collapsed duplicate session_started", "meeting_id", meetingID)
	}
	return v.(Response), nil
}

func (h *Handler) startSession(ctx context.Context, meetingID string) (Response, error) {
	meeting, err := h.deps.Store.GetMeeting(ctx, meetingID)
	if err != nil {
		return Response{}, err
	}
	if meeting.Status.Ended() {
		h.logger.Info("session started for ended meeting, ignoring",
			"meeting_id", meetingID, "status", string(meeting.Status))
		return Response{Status: "ok", Message: "Meeting already " + string(meeting.Status)}, nil
	}
	agent, err := h.deps.Store.GetAgent(ctx, meeting.AgentID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return Response{}, apperr.NotFound("Agent not found")
		}
		return Response{}, err
	}

	if _, err := h.deps.Store.MarkActive(ctx, meetingID, h.now()); err != nil {
		return Response{}, err
	}

	_, err = h.deps.Client.GetOrCreateCall(ctx, meetingID, provider.GetOrCreateRequest{
		CreatedBy: meeting.UserID,
		Custom:    map[string]any{"meetingId": meeting.ID, "meetingName": meeting.Name},
		Settings:  provider.AutoCapture(h.cfg.RecordingQuality, h.cfg.TranscriptionLanguage),
	})
	if err != nil {
		return Response{}, apperr.Upstream(err, "Failed to signal agent join")
	}

	res, err := h.deps.Channel.Publish(ctx, meetingID, agent.ID, agent.Name)
	if err != nil {
		return Response{}, apperr.Upstream(err, "Failed to signal agent join")
	}
	if !res.Sent {
		return Response{Status: "ok", Message: "Agent signal already sent"}, nil
	}

	if h.deps.Capture != nil {
		if _, err := h.deps.Capture.Start(ctx, meetingID); err != nil {
			h.logger.Warn("capture state unavailable", "meeting_id", meetingID, "error", err)
		}
	}
	return Response{Status: "ok", Message: "Agent join signal sent"}, nil
}

func (h *Handler) handleTranscriptionReady(ctx context.Context, ev *Event) (Response, error) {
	meetingID := ev.MeetingID()
	if meetingID == "" || ev.CallTranscription == nil || ev.CallTranscription.URL == "" {
		return Response{}, apperr.Validation("Missing meetingId or transcriptUrl")
	}
	changed, err := h.deps.Store.SetTranscriptURL(ctx, meetingID, ev.CallTranscription.URL)
	if err != nil {
		return Response{}, err
	}
	if changed {
		h.notify(ctx, notify.TranscriptReady, meetingID, ev.CallTranscription.URL)
	}
	return Response{Status: "ok", Message: "Transcript URL saved"}, nil
}

func (h *Handler) handleRecordingReady(ctx context.Context, ev *Event) (Response, error) {
	meetingID := ev.MeetingID()
	if meetingID == "" || ev.CallRecording == nil || ev.CallRecording.URL == "" {
		return Response{}, apperr.Validation("Missing meetingId or recordingUrl")
	}
	changed, err := h.deps.Store.SetRecordingURL(ctx, meetingID, ev.CallRecording.URL)
	if err != nil {
		return Response{}, err
	}
	if changed {
		h.notify(ctx, notify.RecordingReady, meetingID, ev.CallRecording.URL)
	}
	return Response{Status: "ok", Message: "Recording URL saved"}, nil
}

func (h *Handler) handleParticipantLeft(ctx context.Context, ev *Event) (Response, error) {
	meetingID := ev.CIDMeetingID()
	if meetingID == "" {
		return Response{}, apperr.Validation("Missing meetingId")
	}
	completed, err := h.deps.Store.MarkCompleted(ctx, meetingID, h.now())
	if err != nil {
		return Response{}, err
	}
	h.closeSessions(meetingID)
	if completed {
		h.notify(ctx, notify.MeetingCompleted, meetingID, "")
	}

	if err := h.deps.Client.EndCall(ctx, meetingID); err != nil {
		return Response{}, apperr.Upstream(err, "Failed to end call")
	}
	h.logger.Info("meeting ended", "meeting_id", meetingID)
	return Response{Status: "ended"}, nil
}

func (h *Handler) handleCallEnded(ctx context.Context, ev *Event) (Response, error) {
	meetingID := firstNonEmpty(ev.MeetingID(), ev.CIDMeetingID())
	if meetingID != "" {
		completed, err := h.deps.Store.MarkCompleted(ctx, meetingID, h.now())
		if err != nil {
			h.logger.Warn("final meeting update failed", "meeting_id", meetingID, "error", err)
		} else if completed {
			h.notify(ctx, notify.MeetingCompleted, meetingID, "")
		}
		h.closeSessions(meetingID)
	}
	return Response{Status: "ok", Message: "Call ended, data captured"}, nil
}

func (h *Handler) closeSessions(meetingID string) {
	if h.deps.Sessions != nil {
		h.deps.Sessions.CloseMeeting(meetingID)
	}
}

func (h *Handler) notify(ctx context.Context, kind notify.EventKind, meetingID, url string) {
	ev := notify.Event{Kind: kind, MeetingID: meetingID, URL: url, At: h.now()}
	if m, err := h.deps.Store.GetMeeting(ctx, meetingID); err == nil {
		ev.MeetingName = m.Name
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := h.deps.Notifier.Notify(nctx, ev); err != nil {
		h.logger.Warn("notification failed", "event", string(kind), "meeting_id", meetingID, "error", err)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
