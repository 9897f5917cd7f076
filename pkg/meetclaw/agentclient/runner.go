// Package agentclient is the headless counterpart of the meeting page: it
// watches a call for spawn signals and asks the meetclaw server to spawn
// the agent and join it server-side.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/apperr"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/meetings"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/provider"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/signal"
)

// Config configures a Runner.
type Config struct {
	ServerURL    string
	AuthToken    string
	PollInterval time.Duration
}

// Runner drives one signal consumer per watched call.
type Runner struct {
	cfg    Config
	client provider.Client
	sub    provider.Subscriber
	cursor *CursorStore
	http   *http.Client
	logger *slog.Logger
}

// New creates a runner. sub and cursor may be nil.
func New(cfg Config, client provider.Client, sub provider.Subscriber, cursor *CursorStore, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	return &Runner{
		cfg:    cfg,
		client: client,
		sub:    sub,
		cursor: cursor,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger.With("component", "agentclient"),
	}
}

// Watch consumes spawn signals for meetingID until ctx is done. It refuses
// meetings that already ended.
func (r *Runner) Watch(ctx context.Context, meetingID string) error {
	m, err := r.Meeting(ctx, meetingID)
	if err != nil {
		return err
	}
	if m.Status.Ended() {
		return apperr.Conflict("meeting is %s", m.Status)
	}

	consumer := signal.NewConsumer(r.client, r.sub, meetingID, r.cfg.PollInterval, r.react(meetingID), r.logger)
	if r.cursor != nil {
		ts, err := r.cursor.Get(meetingID)
		if err != nil {
			return err
		}
		consumer.Resume(ts)
	}
	r.logger.Info("watching meeting", "meeting_id", meetingID, "resume_from", consumer.LastSeen())
	return consumer.Run(ctx)
}

func (r *Runner) react(meetingID string) signal.Reaction {
	return func(ctx context.Context, s signal.Signal) error {
		err := r.Spawn(ctx, meetingID)
		if err == nil || apperr.Is(err, apperr.KindConflict) {
			if r.cursor != nil {
				if perr := r.cursor.Put(meetingID, s.Timestamp); perr != nil {
					r.logger.Warn("failed to persist cursor", "meeting_id", meetingID, "error", perr)
				}
			}
		}
		return err
	}
}

// Spawn asks the server to spawn the agent and join it server-side.
// A 409 becomes a Conflict error: another client got there first.
func (r *Runner) Spawn(ctx context.Context, meetingID string) error {
	body := map[string]any{"meetingId": meetingID, "autoJoin": true}
	return r.do(ctx, http.MethodPost, "/api/spawn-agent", body, nil)
}

// Meeting reads the meeting state from the server.
func (r *Runner) Meeting(ctx context.Context, meetingID string) (*meetings.Meeting, error) {
	var out struct {
		Meeting *meetings.Meeting `json:"meeting"`
	}
	if err := r.do(ctx, http.MethodGet, "/api/meetings/"+meetingID, nil, &out); err != nil {
		return nil, err
	}
	if out.Meeting == nil {
		return nil, apperr.NotFound("meeting %s not found", meetingID)
	}
	return out.Meeting, nil
}

func (r *Runner) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.ServerURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.AuthToken)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return apperr.Upstream(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return classify(resp.StatusCode, e.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Upstream(err, "decoding %s response", path)
	}
	return nil
}

func classify(status int, msg string) error {
	switch status {
	case http.StatusBadRequest:
		return apperr.Validation("%s", msg)
	case http.StatusUnauthorized:
		return apperr.Unauthorized("%s", msg)
	case http.StatusNotFound:
		return apperr.NotFound("%s", msg)
	case http.StatusConflict:
		return apperr.Conflict("%s", msg)
	default:
		return apperr.Upstream(fmt.Errorf("status %d", status), "%s", msg)
	}
}
