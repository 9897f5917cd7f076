package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/apperr"
)

const defaultBaseURL = "https://video.stream-io-api.com"

// StreamConfig configures the REST client.
type StreamConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	CallType  string
	Timeout   time.Duration
}

// Stream is the REST client for the hosted video provider.
type Stream struct {
	cfg         StreamConfig
	client      *http.Client
	serverToken string
	logger      *slog.Logger
	now         func() time.Time
}

// APIError is a non-2xx provider response.
type APIError struct {
	StatusCode int    `json:"StatusCode"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider: status %d: %s", e.StatusCode, e.Message)
}

// NewStream creates a REST client. The server token is signed once.
func NewStream(cfg StreamConfig, logger *slog.Logger) (*Stream, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("provider: api_key and api_secret are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.CallType == "" {
		cfg.CallType = "default"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	tok, err := ServerToken(cfg.APISecret)
	if err != nil {
		return nil, err
	}
	return &Stream{
		cfg:         cfg,
		client:      &http.Client{Timeout: cfg.Timeout},
		serverToken: tok,
		logger:      logger.With("component", "provider"),
		now:         time.Now,
	}, nil
}

func (s *Stream) APIKey() string   { return s.cfg.APIKey }
func (s *Stream) CallType() string { return s.cfg.CallType }

func (s *Stream) callPath(callID, suffix string) string {
	return "/video/call/" + url.PathEscape(s.cfg.CallType) + "/" + url.PathEscape(callID) + suffix
}

// do sends a JSON request and decodes the JSON response into out (if non-nil).
func (s *Stream) do(ctx context.Context, method, path string, payload, out any) error {
	u := s.cfg.BaseURL + path + "?api_key=" + url.QueryEscape(s.cfg.APIKey)

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("provider: marshal %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("provider: creating request for %s: %w", path, err)
	}
	req.Header.Set("Authorization", s.serverToken)
	req.Header.Set("Stream-Auth-Type", "jwt")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: %s %s request failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = string(raw)
		}
		apiErr.StatusCode = resp.StatusCode
		if resp.StatusCode == http.StatusNotFound {
			return &apperr.Error{Kind: apperr.KindNotFound, Message: "call not found", Err: apiErr}
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("provider: decoding %s response: %w", path, err)
	}
	return nil
}

type callResponse struct {
	Call    Call     `json:"call"`
	Members []Member `json:"members"`
}

func (r callResponse) toCall() *Call {
	c := r.Call
	c.Members = r.Members
	if c.Custom == nil {
		c.Custom = map[string]any{}
	}
	return &c
}

func (s *Stream) GetOrCreateCall(ctx context.Context, callID string, req GetOrCreateRequest) (*Call, error) {
	data := map[string]any{}
	if req.CreatedBy != "" {
		data["created_by_id"] = req.CreatedBy
	}
	if req.Custom != nil {
		data["custom"] = req.Custom
	}
	if req.Settings != nil {
		data["settings_override"] = req.Settings
	}
	if len(req.Members) > 0 {
		data["members"] = req.Members
	}

	var resp callResponse
	if err := s.do(ctx, http.MethodPost, s.callPath(callID, ""), map[string]any{"data": data}, &resp); err != nil {
		return nil, err
	}
	return resp.toCall(), nil
}

func (s *Stream) GetCall(ctx context.Context, callID string) (*Call, error) {
	var resp callResponse
	if err := s.do(ctx, http.MethodGet, s.callPath(callID, ""), nil, &resp); err != nil {
		return nil, err
	}
	return resp.toCall(), nil
}

func (s *Stream) UpdateCallCustom(ctx context.Context, callID string, custom map[string]any) error {
	return s.do(ctx, http.MethodPatch, s.callPath(callID, ""), map[string]any{"custom": custom}, nil)
}

func (s *Stream) UpsertUsers(ctx context.Context, users ...User) error {
	byID := make(map[string]User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	return s.do(ctx, http.MethodPost, "/api/v2/users", map[string]any{"users": byID}, nil)
}

func (s *Stream) UpdateCallMembers(ctx context.Context, callID string, add []MemberRequest, remove []string) error {
	payload := map[string]any{}
	if len(add) > 0 {
		payload["update_members"] = add
	}
	if len(remove) > 0 {
		payload["remove_members"] = remove
	}
	return s.do(ctx, http.MethodPost, s.callPath(callID, "/members"), payload, nil)
}

func (s *Stream) StartRecording(ctx context.Context, callID string) error {
	return s.do(ctx, http.MethodPost, s.callPath(callID, "/start_recording"), map[string]any{}, nil)
}

func (s *Stream) StartTranscription(ctx context.Context, callID string) error {
	return s.do(ctx, http.MethodPost, s.callPath(callID, "/start_transcription"), map[string]any{}, nil)
}

func (s *Stream) EndCall(ctx context.Context, callID string) error {
	return s.do(ctx, http.MethodPost, s.callPath(callID, "/mark_ended"), map[string]any{}, nil)
}

func (s *Stream) ListRecordings(ctx context.Context, callID string) ([]Recording, error) {
	var resp struct {
		Recordings []Recording `json:"recordings"`
	}
	if err := s.do(ctx, http.MethodGet, s.callPath(callID, "/recordings"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Recordings, nil
}

func (s *Stream) ListTranscriptions(ctx context.Context, callID string) ([]Transcription, error) {
	var resp struct {
		Transcriptions []Transcription `json:"transcriptions"`
	}
	if err := s.do(ctx, http.MethodGet, s.callPath(callID, "/transcriptions"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Transcriptions, nil
}

// JoinCall asks the provider to admit a participant to an existing call.
// The call is never created here.
func (s *Stream) JoinCall(ctx context.Context, callID string, opts JoinOptions) error {
	payload := map[string]any{
		"create":  false,
		"user_id": opts.UserID,
		"media": map[string]bool{
			"audio": opts.Microphone,
			"video": opts.Camera,
		},
	}
	return s.do(ctx, http.MethodPost, s.callPath(callID, "/join"), payload, nil)
}

func (s *Stream) CreateUserToken(userID string, ttl time.Duration) (string, time.Time, error) {
	return UserToken(s.cfg.APISecret, userID, ttl, s.now())
}
