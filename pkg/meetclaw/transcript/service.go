package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/apperr"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/meetings"
)

// DefaultMaxBytes caps the size of a downloaded transcript file.
const DefaultMaxBytes = 16 << 20

// Result is a flattened transcript with the raw document it came from.
type Result struct {
	MeetingID    string          `json:"meetingId"`
	PlainText    string          `json:"plainText"`
	OriginalData json.RawMessage `json:"originalData,omitempty"`
}

// MeetingGetter loads meetings.
type MeetingGetter interface {
	GetMeeting(ctx context.Context, id string) (*meetings.Meeting, error)
}

// Service downloads a meeting's transcript and flattens it.
type Service struct {
	store     MeetingGetter
	http      *http.Client
	flattener Flattener
	maxBytes  int64
	logger    *slog.Logger
}

// NewService creates a transcript service. A nil httpClient uses a client
// with a 30s timeout; loc sets the timestamp zone (UTC when nil).
func NewService(store MeetingGetter, httpClient *http.Client, loc *time.Location, logger *slog.Logger) *Service {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		http:      httpClient,
		flattener: Flattener{Location: loc},
		maxBytes:  DefaultMaxBytes,
		logger:    logger.With("component", "transcript"),
	}
}

// Text returns the plain-text transcript of a meeting. NotFound when the
// meeting is missing, has no transcript URL yet, or the file holds no text.
func (s *Service) Text(ctx context.Context, meetingID string) (*Result, error) {
	if meetingID == "" {
		return nil, apperr.Validation("meetingId is required")
	}
	m, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if m.TranscriptURL == "" {
		return nil, apperr.NotFound("no transcript available")
	}

	raw, err := s.Download(ctx, m.TranscriptURL)
	if err != nil {
		return nil, err
	}
	text, err := s.flattener.Flatten(raw)
	if err != nil {
		return nil, err
	}

	res := &Result{MeetingID: meetingID, PlainText: text}
	if json.Valid(raw) {
		res.OriginalData = raw
	}
	return res, nil
}

// Download fetches a transcript file.
func (s *Service) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.Upstream(err, "invalid transcript url")
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, apperr.Upstream(err, "fetch transcript")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Upstream(fmt.Errorf("status %d", resp.StatusCode), "fetch transcript")
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return nil, apperr.Upstream(err, "read transcript")
	}
	if int64(len(body)) > s.maxBytes {
		return nil, apperr.Upstream(fmt.Errorf("larger than %d bytes", s.maxBytes), "fetch transcript")
	}
	s.logger.Debug("transcript downloaded", "bytes", len(body))
	return body, nil
}
