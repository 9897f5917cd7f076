// Package notify tells people when meeting artifacts become available.
package notify

import (
	"context"
	"fmt"
	"time"
)

// EventKind names a notification.
type EventKind string

const (
	RecordingReady   EventKind = "recording_ready"
	TranscriptReady  EventKind = "transcript_ready"
	MeetingCompleted EventKind = "meeting_completed"
)

// Event is a meeting notification.
type Event struct {
	Kind        EventKind
	MeetingID   string
	MeetingName string
	URL         string
	At          time.Time
}

// Title returns a one-line summary of the event.
func (e Event) Title() string {
	name := e.MeetingName
	if name == "" {
		name = e.MeetingID
	}
	switch e.Kind {
	case RecordingReady:
		return fmt.Sprintf("Recording ready: %s", name)
	case TranscriptReady:
		return fmt.Sprintf("Transcript ready: %s", name)
	case MeetingCompleted:
		return fmt.Sprintf("Meeting completed: %s", name)
	}
	return fmt.Sprintf("%s: %s", e.Kind, name)
}

// Notifier delivers events. Delivery is best effort; callers log errors.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }
