package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Realtime is a websocket Backend speaking the realtime event protocol
// (session.update, conversation.item.create, response.create).
type Realtime struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewRealtime creates a realtime backend.
func NewRealtime(cfg Config, logger *slog.Logger) (*Realtime, error) {
	cfg = cfg.Effective()
	if cfg.URL == "" {
		return nil, fmt.Errorf("voice: url is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("voice: api_key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Realtime{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		logger: logger.With("component", "voice-realtime"),
	}, nil
}

type serverEvent struct {
	Type  string `json:"type"`
	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Connect dials the bridge for the given call participant and waits for
// session.created.
func (r *Realtime) Connect(ctx context.Context, p ConnectParams) (Session, error) {
	u, err := url.Parse(r.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("voice: parse url: %w", err)
	}
	q := u.Query()
	q.Set("model", r.cfg.Model)
	q.Set("call_type", p.CallType)
	q.Set("call_id", p.CallID)
	q.Set("agent_user_id", p.AgentUserID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")
	if p.AgentToken != "" {
		header.Set("X-Call-Token", p.AgentToken)
	}

	hsCtx, cancel := context.WithTimeout(ctx, r.cfg.HandshakeTimeout)
	defer cancel()

	conn, _, err := r.dialer.DialContext(hsCtx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("voice dial: %w", err)
	}

	if deadline, ok := hsCtx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("voice handshake: %w", err)
	}
	var first serverEvent
	if err := json.Unmarshal(msg, &first); err != nil {
		conn.Close()
		return nil, fmt.Errorf("voice handshake parse: %w", err)
	}
	if first.Type != "session.created" {
		conn.Close()
		if first.Error != nil {
			return nil, fmt.Errorf("voice handshake: %s", first.Error.Message)
		}
		return nil, fmt.Errorf("voice: expected session.created, got %s", first.Type)
	}
	conn.SetReadDeadline(time.Time{})

	s := &realtimeSession{
		conn:   conn,
		done:   make(chan struct{}),
		logger: r.logger.With("call_id", p.CallID, "identity", p.AgentUserID),
	}
	go s.readLoop()
	return s, nil
}

type realtimeSession struct {
	conn   *websocket.Conn
	writeM sync.Mutex
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func (s *realtimeSession) write(ctx context.Context, v any) error {
	select {
	case <-s.done:
		return fmt.Errorf("voice session closed")
	default:
	}
	s.writeM.Lock()
	defer s.writeM.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetWriteDeadline(deadline)
		defer s.conn.SetWriteDeadline(time.Time{})
	}
	return s.conn.WriteJSON(v)
}

func (s *realtimeSession) UpdateSession(ctx context.Context, u SessionUpdate) error {
	session := map[string]any{
		"instructions":   u.Instructions,
		"voice":          u.Voice,
		"modalities":     u.Modalities,
		"temperature":    u.Temperature,
		"turn_detection": u.TurnDetection,
	}
	if u.InputTranscriptionModel != "" {
		session["input_audio_transcription"] = map[string]string{"model": u.InputTranscriptionModel}
	}
	if err := s.write(ctx, map[string]any{"type": "session.update", "session": session}); err != nil {
		return fmt.Errorf("voice session.update: %w", err)
	}
	return nil
}

func (s *realtimeSession) SendUserText(ctx context.Context, text string) error {
	item := map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]string{
				{"type": "input_text", "text": text},
			},
		},
	}
	if err := s.write(ctx, item); err != nil {
		return fmt.Errorf("voice conversation.item.create: %w", err)
	}
	if err := s.write(ctx, map[string]string{"type": "response.create"}); err != nil {
		return fmt.Errorf("voice response.create: %w", err)
	}
	return nil
}

func (s *realtimeSession) Close() error {
	var err error
	s.once.Do(func() {
		s.writeM.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeM.Unlock()
		err = s.conn.Close()
		close(s.done)
	})
	return err
}

func (s *realtimeSession) Done() <-chan struct{} { return s.done }

func (s *realtimeSession) readLoop() {
	defer s.Close()
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					s.logger.Warn("voice read error", "error", err)
				}
			}
			return
		}
		var ev serverEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "error":
			if ev.Error != nil {
				s.logger.Warn("voice backend error", "code", ev.Error.Code, "message", ev.Error.Message)
			}
		case "session.updated":
			s.logger.Debug("voice session configured")
		}
	}
}
