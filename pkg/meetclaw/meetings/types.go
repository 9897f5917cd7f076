// Package meetings holds the meeting and agent records and the store that
// persists them. The agent_joined column is the durable fence that keeps a
// second agent out of a call.
package meetings

import (
	"time"
)

// Status is the lifecycle state of a meeting. It only moves forward:
// upcoming -> active -> completed|cancelled.
type Status string

const (
	StatusUpcoming   Status = "upcoming"
	StatusActive     Status = "active"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Ended reports whether no further lifecycle transitions are allowed.
func (s Status) Ended() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusUpcoming, StatusActive, StatusProcessing, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Meeting is a scheduled video call with exactly one assigned agent.
type Meeting struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	UserID        string     `json:"userId"`
	AgentID       string     `json:"agentId"`
	Status        Status     `json:"status"`
	AgentJoined   bool       `json:"agentJoined"`
	RecordingURL  string     `json:"recordingUrl,omitempty"`
	TranscriptURL string     `json:"transcriptUrl,omitempty"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Agent is an AI persona that can be invited into meetings.
type Agent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Instructions string    `json:"instructions"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ListFilter narrows ListMeetings. Zero values match everything.
type ListFilter struct {
	Status  Status
	AgentID string
	Limit   int
}
