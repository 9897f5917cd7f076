package webhook

import (
	"github.com/jholhewres/meetclaw/pkg/meetclaw/provider"
)

// Event types handled by the Handler.
const (
	TypeCallCreated            = "call.created"
	TypeSessionStarted         = "call.session_started"
	TypeTranscriptionReady     = "call.transcription_ready"
	TypeRecordingReady         = "call.recording_ready"
	TypeSessionParticipantLeft = "call.session_participant_left"
	TypeCallEnded              = "call.ended"
)

// Event is the subset of a provider webhook payload the handler reads.
type Event struct {
	Type              string     `json:"type"`
	CallCID           string     `json:"call_cid,omitempty"`
	Call              *EventCall `json:"call,omitempty"`
	CallRecording     *Artifact  `json:"call_recording,omitempty"`
	CallTranscription *Artifact  `json:"call_transcription,omitempty"`
}

// EventCall is the call object embedded in most events.
type EventCall struct {
	CID          string         `json:"cid"`
	Custom       map[string]any `json:"custom"`
	Recording    bool           `json:"recording"`
	Transcribing bool           `json:"transcribing"`
}

// Artifact is a finished recording or transcription file.
type Artifact struct {
	URL string `json:"url"`
}

// MeetingID returns call.custom.meetingId.
func (e *Event) MeetingID() string {
	if e.Call == nil {
		return ""
	}
	id, _ := e.Call.Custom["meetingId"].(string)
	return id
}

// CIDMeetingID returns the id half of call_cid ("<type>:<id>").
func (e *Event) CIDMeetingID() string {
	_, id, err := provider.ParseCID(e.CallCID)
	if err != nil {
		return ""
	}
	return id
}

// Response is the webhook reply body.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
