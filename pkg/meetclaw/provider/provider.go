// Package provider talks to the hosted video-call provider: calls, members,
// users, recordings, transcriptions and tokens. Stream implements the REST
// contract; Memory is an in-process provider for development and tests.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Call is the provider-side session for one meeting. ID equals the meeting id.
type Call struct {
	Type         string         `json:"type"`
	ID           string         `json:"id"`
	CID          string         `json:"cid"`
	Custom       map[string]any `json:"custom"`
	Members      []Member       `json:"members,omitempty"`
	Recording    bool           `json:"recording"`
	Transcribing bool           `json:"transcribing"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Member is a user attached to a call.
type Member struct {
	UserID    string    `json:"user_id"`
	Role      string    `json:"role,omitempty"`
	User      User      `json:"user"`
	CreatedAt time.Time `json:"created_at"`
}

// User is a provider user record.
type User struct {
	ID     string         `json:"id"`
	Name   string         `json:"name,omitempty"`
	Image  string         `json:"image,omitempty"`
	Role   string         `json:"role,omitempty"`
	Custom map[string]any `json:"custom,omitempty"`
}

// MemberRequest adds or updates a call member.
type MemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
}

// RecordingSettings mirrors the provider's recording override.
type RecordingSettings struct {
	Mode    string `json:"mode"`
	Quality string `json:"quality,omitempty"`
}

// TranscriptionSettings mirrors the provider's transcription override.
type TranscriptionSettings struct {
	Mode              string `json:"mode"`
	Language          string `json:"language,omitempty"`
	ClosedCaptionMode string `json:"closed_caption_mode,omitempty"`
}

// CallSettings is the settings override sent on get-or-create.
type CallSettings struct {
	Recording     *RecordingSettings     `json:"recording,omitempty"`
	Transcription *TranscriptionSettings `json:"transcription,omitempty"`
}

// AutoCapture returns settings that record and transcribe automatically.
func AutoCapture(quality, language string) *CallSettings {
	return &CallSettings{
		Recording:     &RecordingSettings{Mode: "auto-on", Quality: quality},
		Transcription: &TranscriptionSettings{Mode: "auto-on", Language: language, ClosedCaptionMode: "auto-on"},
	}
}

// GetOrCreateRequest describes a call to create when it does not exist.
type GetOrCreateRequest struct {
	CreatedBy string
	Custom    map[string]any
	Settings  *CallSettings
	Members   []MemberRequest
}

// Recording is a finished call recording.
type Recording struct {
	URL       string    `json:"url"`
	Filename  string    `json:"filename"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Transcription is a finished call transcript file.
type Transcription struct {
	URL       string    `json:"url"`
	Filename  string    `json:"filename"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// JoinOptions controls how a participant enters a call.
type JoinOptions struct {
	UserID     string
	Camera     bool
	Microphone bool
}

// Client is the call provider contract.
type Client interface {
	GetOrCreateCall(ctx context.Context, callID string, req GetOrCreateRequest) (*Call, error)
	GetCall(ctx context.Context, callID string) (*Call, error)
	UpdateCallCustom(ctx context.Context, callID string, custom map[string]any) error
	UpsertUsers(ctx context.Context, users ...User) error
	UpdateCallMembers(ctx context.Context, callID string, add []MemberRequest, remove []string) error
	StartRecording(ctx context.Context, callID string) error
	StartTranscription(ctx context.Context, callID string) error
	EndCall(ctx context.Context, callID string) error
	ListRecordings(ctx context.Context, callID string) ([]Recording, error)
	ListTranscriptions(ctx context.Context, callID string) ([]Transcription, error)
	JoinCall(ctx context.Context, callID string, opts JoinOptions) error

	// CreateUserToken mints a short-lived token for a call participant.
	CreateUserToken(userID string, ttl time.Duration) (string, time.Time, error)

	APIKey() string
	CallType() string
}

// Subscriber pushes call custom-data changes as they happen.
type Subscriber interface {
	SubscribeCustom(ctx context.Context, callID string) (<-chan map[string]any, error)
}

// CID builds the provider's "<type>:<id>" call identifier.
func CID(callType, callID string) string {
	return callType + ":" + callID
}

// ParseCID splits a "<type>:<id>" call identifier.
func ParseCID(cid string) (callType, callID string, err error) {
	callType, callID, ok := strings.Cut(cid, ":")
	if !ok || callType == "" || callID == "" {
		return "", "", fmt.Errorf("malformed call cid %q", cid)
	}
	return callType, callID, nil
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
