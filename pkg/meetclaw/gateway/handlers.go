package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/apperr"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/meetings"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/provider"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/spawn"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/webhook"
)

type meetingRequest struct {
	MeetingID string `json:"meetingId"`
}

type spawnRequest struct {
	MeetingID string `json:"meetingId"`
	AutoJoin  bool   `json:"autoJoin"`
}

type connectVoiceRequest struct {
	MeetingID string `json:"meetingId"`
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (g *Gateway) writeError(w http.ResponseWriter, msg string, code int) {
	g.writeJSON(w, code, map[string]string{"error": msg})
}

// writeFailure maps a classified error onto its status and client message.
func (g *Gateway) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		g.logger.Error("request failed", "path", r.URL.Path, "error", err)
	} else {
		g.logger.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	g.writeError(w, apperr.Message(err), status)
}

func (g *Gateway) writeSuccess(w http.ResponseWriter, message string, fields map[string]any) {
	body := map[string]any{"success": true, "message": message}
	for k, v := range fields {
		body[k] = v
	}
	g.writeJSON(w, http.StatusOK, body)
}

func (g *Gateway) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), g.config.RequestTimeout)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("Invalid JSON")
	}
	return nil
}

func (g *Gateway) decodeMeeting(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req meetingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.writeFailure(w, r, err)
		return "", false
	}
	if req.MeetingID == "" {
		g.writeFailure(w, r, apperr.Validation("meetingId is required"))
		return "", false
	}
	return req.MeetingID, true
}

// handleHealth implements GET /health.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(g.startedAt).Round(time.Second).String()
	if uptime == "0s" {
		uptime = "<1s"
	}
	body := map[string]any{
		"status": "ok",
		"uptime": uptime,
	}
	status := http.StatusOK
	if g.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		body["database"] = g.deps.Health.Status(ctx)
		if !g.deps.Health.Healthy(ctx) {
			body["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	if g.deps.Controller != nil {
		body["voiceSessions"] = g.deps.Controller.Active()
	}
	g.writeJSON(w, status, body)
}

// handleWebhook implements POST /api/webhook.
func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		g.writeJSON(w, http.StatusBadRequest, webhook.Response{Status: "error", Message: "unreadable body"})
		return
	}
	if g.config.WebhookSecret != "" {
		if err := webhook.Verify(g.config.WebhookSecret, body, r.Header.Get(webhook.SignatureHeader)); err != nil {
			g.writeJSON(w, apperr.HTTPStatus(err), webhook.Response{Status: "error", Message: apperr.Message(err)})
			return
		}
	}

	ctx, cancel := g.requestContext(r)
	defer cancel()
	resp, err := g.deps.Webhook.Handle(ctx, body)
	if err != nil {
		status := apperr.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			g.logger.Error("webhook failed", "error", err)
		}
		g.writeJSON(w, status, webhook.Response{Status: "error", Message: apperr.Message(err)})
		return
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleSpawnAgent implements POST /api/spawn-agent. With autoJoin the
// server joins the call and attaches voice itself after responding.
func (g *Gateway) handleSpawnAgent(w http.ResponseWriter, r *http.Request) {
	var req spawnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.writeFailure(w, r, err)
		return
	}

	ctx, cancel := g.requestContext(r)
	defer cancel()
	handle, err := g.deps.Spawner.Spawn(ctx, req.MeetingID)
	if err != nil {
		g.writeFailure(w, r, err)
		return
	}

	autoJoin := req.AutoJoin && g.deps.Controller != nil
	if autoJoin {
		agent, err := g.deps.Store.GetAgent(ctx, handle.AgentID)
		if err != nil {
			g.compensate(context.WithoutCancel(ctx), handle)
			g.writeFailure(w, r, err)
			return
		}
		g.background.Add(1)
		go func() {
			defer g.background.Done()
			g.runSession(context.WithoutCancel(r.Context()), handle, agent)
		}()
	}

	g.writeSuccess(w, "Agent spawned", map[string]any{
		"agent":    handle,
		"autoJoin": autoJoin,
	})
}

func (g *Gateway) runSession(ctx context.Context, h *spawn.Handle, agent *meetings.Agent) {
	out := g.deps.Controller.Run(ctx, h, agent)
	switch out.Status {
	case apperr.Succeeded:
		g.logger.Info("agent session started", "meeting_id", h.MeetingID, "identity", h.UserID)
	case apperr.Degraded:
		g.logger.Warn("agent session degraded", "meeting_id", h.MeetingID, "identity", h.UserID, "outcome", out.String())
	default:
		g.logger.Error("agent session failed", "meeting_id", h.MeetingID, "identity", h.UserID, "outcome", out.String())
		g.compensate(ctx, h)
	}
}

// compensate undoes a spawn whose agent never made it into the call: the
// member is removed and agent_joined is cleared so a later signal can retry.
func (g *Gateway) compensate(ctx context.Context, h *spawn.Handle) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := g.deps.Client.UpdateCallMembers(ctx, h.MeetingID, nil, []string{h.UserID}); err != nil {
		g.logger.Warn("failed to remove agent member", "meeting_id", h.MeetingID, "identity", h.UserID, "error", err)
	}
	if err := g.deps.Store.ResetAgentJoined(ctx, h.MeetingID); err != nil {
		g.logger.Error("failed to reset agent_joined", "meeting_id", h.MeetingID, "error", err)
	}
}

// handleConnectVoice implements POST /api/connect-voice.
func (g *Gateway) handleConnectVoice(w http.ResponseWriter, r *http.Request) {
	var req connectVoiceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.writeFailure(w, r, err)
		return
	}
	if req.MeetingID == "" || req.AgentID == "" {
		g.writeFailure(w, r, apperr.Validation("meetingId and agentId are required"))
		return
	}
	if g.deps.Controller == nil {
		g.writeFailure(w, r, apperr.Conflict("voice is disabled"))
		return
	}

	ctx, cancel := g.requestContext(r)
	defer cancel()
	agent, err := g.deps.Store.GetAgent(ctx, req.AgentID)
	if err != nil {
		g.writeFailure(w, r, err)
		return
	}
	if req.AgentName != "" {
		agent.Name = req.AgentName
	}

	out, err := g.deps.Controller.AttachToCall(ctx, req.MeetingID, agent)
	if err != nil {
		g.writeFailure(w, r, err)
		return
	}
	msg := "Voice agent connected"
	if !out.Succeeded() {
		msg = "Agent is in the call without voice"
	}
	g.writeSuccess(w, msg, map[string]any{"outcome": out})
}

// handleForceAgentJoin implements POST /api/force-agent-join. It adds the
// agent as a plain member without the spawn fence; use for debugging only.
func (g *Gateway) handleForceAgentJoin(w http.ResponseWriter, r *http.Request) {
	meetingID, ok := g.decodeMeeting(w, r)
	if !ok {
		return
	}
	ctx, cancel := g.requestContext(r)
	defer cancel()

	meeting, err := g.deps.Store.GetMeeting(ctx, meetingID)
	if err != nil {
		g.writeFailure(w, r, err)
		return
	}
	agent, err := g.deps.Store.GetAgent(ctx, meeting.AgentID)
	if err != nil {
		g.writeFailure(w, r, err)
		return
	}

	id := g.deps.Registry.NewIdentity(agent.ID, agent.Name)
	if err := g.deps.Client.UpsertUsers(ctx, id.User()); err != nil {
		g.writeFailure(w, r, upstream(err, "register agent user"))
		return
	}
	if err := g.deps.Client.UpdateCallMembers(ctx, meetingID,
		[]provider.MemberRequest{{UserID: id.UserID, Role: "user"}}, nil); err != nil {
		g.writeFailure(w, r, upstream(err, "add agent to call"))
		return
	}
	g.logger.Warn("agent force-added to call", "meeting_id", meetingID, "identity", id.UserID)
	g.writeSuccess(w, "Agent added to call", map[string]any{
		"agentUserId": id.UserID,
		"displayName": id.DisplayName,
	})
}

// handleFetchMeetingData implements POST /api/fetch-meeting-data.
func (g *Gateway) handleFetchMeetingData(w http.ResponseWriter, r *http.Request) {
	meetingID, ok := g.decodeMeeting(w, r)
	if !ok {
		return
	}
	ctx, cancel := g.requestContext(r)
	defer cancel()

	res, err := g.deps.Capture.Sync(ctx, meetingID)
	if err != nil {
		g.writeFailure(w, r, err)
		return
	}
	g.writeSuccess(w, "Meeting data synced", map[string]any{
		"recordingUrl":        res.RecordingURL,
		"transcriptUrl":       res.TranscriptURL,
		"recordingsCount":     res.RecordingsCount,
		"transcriptionsCount": res.TranscriptionsCount,
	})
}

// handleTranscriptText implements POST /api/transcript-text.
func (g *Gateway) handleTranscriptText(w http.ResponseWriter, r *http.Request) {
	meetingID, ok := g.decodeMeeting(w, r)
	if !ok {
		return
	}
	ctx, cancel := g.requestContext(r)
	defer cancel()

	res, err := g.deps.Transcripts.Text(ctx, meetingID)
	if err != nil {
		g.writeFailure(w, r, err)
		return
	}
	g.writeSuccess(w, "Transcript loaded", map[string]any{
		"meetingId":    res.MeetingID,
		"plainText":    res.PlainText,
		"originalData": res.OriginalData,
	})
}

// handleRemoveDuplicates implements POST /api/remove-duplicate-agents.
func (g *Gateway) handleRemoveDuplicates(w http.ResponseWriter, r *http.Request) {
	meetingID, ok := g.decodeMeeting(w, r)
	if !ok {
		return
	}
	ctx, cancel := g.requestContext(r)
	defer cancel()

	res, err := g.deps.Sweeper.Sweep(ctx, meetingID)
	if err != nil {
		g.writeFailure(w, r, err)
		return
	}
	msg := "No duplicate agents"
	if len(res.Removed) > 0 {
		msg = "Duplicate agents removed"
	}
	g.writeSuccess(w, msg, map[string]any{
		"agentCount": res.AgentCount,
		"kept":       res.Kept,
		"removed":    res.Removed,
		"repeated":   res.Repeated,
	})
}

// handleStartRecording implements POST /api/start-recording.
func (g *Gateway) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	meetingID, ok := g.decodeMeeting(w, r)
	if !ok {
		return
	}
	ctx, cancel := g.requestContext(r)
	defer cancel()

	res, err := g.deps.Capture.Start(ctx, meetingID)
	if err != nil {
		g.writeFailure(w, r, err)
		return
	}
	g.writeSuccess(w, "Capture requested", map[string]any{
		"recording":          res.Recording,
		"transcribing":       res.Transcribing,
		"recordingStart":     res.RecordingStart,
		"transcriptionStart": res.TranscriptionStart,
	})
}

// handleGetMeeting implements GET /api/meetings/{id}.
func (g *Gateway) handleGetMeeting(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := g.requestContext(r)
	defer cancel()

	meeting, err := g.deps.Store.GetMeeting(ctx, r.PathValue("id"))
	if err != nil {
		g.writeFailure(w, r, err)
		return
	}
	g.writeSuccess(w, "ok", map[string]any{"meeting": meeting})
}

// upstream keeps a classified provider error (a missing call stays
// NotFound) and wraps anything else as Upstream.
func upstream(err error, op string) error {
	var classified *apperr.Error
	if errors.As(err, &classified) {
		return err
	}
	return apperr.Upstream(err, "%s", op)
}
