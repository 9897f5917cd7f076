// Package recording starts call capture and copies finished recording and
// transcript URLs from the provider onto meetings.
package recording

import (
	"context"
	"log/slog"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/apperr"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/meetings"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/provider"
)

// Store is the subset of meetings.Store used here.
type Store interface {
	ListMeetings(ctx context.Context, f meetings.ListFilter) ([]*meetings.Meeting, error)
	SetRecordingURL(ctx context.Context, id, url string) (bool, error)
	SetTranscriptURL(ctx context.Context, id, url string) (bool, error)
}

// CaptureResult reports how starting each capture went and the live flags
// read back from the call afterwards.
type CaptureResult struct {
	TranscriptionStart apperr.Outcome `json:"transcriptionStart"`
	RecordingStart     apperr.Outcome `json:"recordingStart"`
	Recording          bool           `json:"recording"`
	Transcribing       bool           `json:"transcribing"`
}

// SyncResult reports the URLs found for a meeting.
type SyncResult struct {
	RecordingURL        string `json:"recordingUrl,omitempty"`
	TranscriptURL       string `json:"transcriptUrl,omitempty"`
	RecordingsCount     int    `json:"recordingsCount"`
	TranscriptionsCount int    `json:"transcriptionsCount"`
}

// Syncer talks to the provider's capture APIs.
type Syncer struct {
	client provider.Client
	store  Store
	logger *slog.Logger
}

// NewSyncer creates a syncer.
func NewSyncer(client provider.Client, store Store, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		client: client,
		store:  store,
		logger: logger.With("component", "recording"),
	}
}

// Start asks the provider to start transcription and recording. Each start
// is best effort; only failing to read the call back is an error.
func (s *Syncer) Start(ctx context.Context, meetingID string) (CaptureResult, error) {
	if meetingID == "" {
		return CaptureResult{}, apperr.Validation("meetingId is required")
	}
	res := CaptureResult{
		TranscriptionStart: apperr.FromError(s.client.StartTranscription(ctx, meetingID), "start transcription"),
		RecordingStart:     apperr.FromError(s.client.StartRecording(ctx, meetingID), "start recording"),
	}
	for _, o := range []apperr.Outcome{res.TranscriptionStart, res.RecordingStart} {
		if !o.Succeeded() {
			s.logger.Warn("capture step degraded", "meeting_id", meetingID, "outcome", o.String())
		}
	}

	call, err := s.client.GetCall(ctx, meetingID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return res, err
		}
		return res, apperr.Upstream(err, "read call capture state")
	}
	res.Recording = call.Recording
	res.Transcribing = call.Transcribing
	return res, nil
}

// Sync lists the call's recordings and transcriptions and stores the first
// URL of each on the meeting.
func (s *Syncer) Sync(ctx context.Context, meetingID string) (SyncResult, error) {
	if meetingID == "" {
		return SyncResult{}, apperr.Validation("meetingId is required")
	}

	recs, err := s.client.ListRecordings(ctx, meetingID)
	if err != nil {
		return SyncResult{}, wrapUpstream(err, "list recordings")
	}
	trs, err := s.client.ListTranscriptions(ctx, meetingID)
	if err != nil {
		return SyncResult{}, wrapUpstream(err, "list transcriptions")
	}

	res := SyncResult{RecordingsCount: len(recs), TranscriptionsCount: len(trs)}
	if len(recs) > 0 && recs[0].URL != "" {
		if _, err := s.store.SetRecordingURL(ctx, meetingID, recs[0].URL); err != nil {
			return SyncResult{}, err
		}
		res.RecordingURL = recs[0].URL
	}
	if len(trs) > 0 && trs[0].URL != "" {
		if _, err := s.store.SetTranscriptURL(ctx, meetingID, trs[0].URL); err != nil {
			return SyncResult{}, err
		}
		res.TranscriptURL = trs[0].URL
	}

	if res.RecordingURL != "" || res.TranscriptURL != "" {
		s.logger.Info("meeting media synced",
			"meeting_id", meetingID,
			"recording", res.RecordingURL != "",
			"transcript", res.TranscriptURL != "")
	}
	return res, nil
}

// SyncCompleted syncs every completed meeting still missing a recording or
// transcript URL. It returns how many meetings gained a URL.
func (s *Syncer) SyncCompleted(ctx context.Context) (int, error) {
	done, err := s.store.ListMeetings(ctx, meetings.ListFilter{Status: meetings.StatusCompleted})
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, m := range done {
		if m.RecordingURL != "" && m.TranscriptURL != "" {
			continue
		}
		if ctx.Err() != nil {
			return updated, ctx.Err()
		}
		res, err := s.Sync(ctx, m.ID)
		if err != nil {
			s.logger.Warn("media sync failed", "meeting_id", m.ID, "error", err)
			continue
		}
		if (m.RecordingURL == "" && res.RecordingURL != "") || (m.TranscriptURL == "" && res.TranscriptURL != "") {
			updated++
		}
	}
	return updated, nil
}

func wrapUpstream(err error, op string) error {
	if apperr.Is(err, apperr.KindNotFound) {
		return err
	}
	return apperr.Upstream(err, "%s", op)
}
