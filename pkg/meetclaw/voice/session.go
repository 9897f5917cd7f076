package voice

import "context"

// SessionUpdate is the configuration pushed to a live voice session.
type SessionUpdate struct {
	Instructions            string        `json:"instructions"`
	Voice                   string        `json:"voice"`
	Modalities              []string      `json:"modalities"`
	Temperature             float64       `json:"temperature"`
	TurnDetection           TurnDetection `json:"turn_detection"`
	InputTranscriptionModel string        `json:"-"`
}

// ConnectParams identifies the call and participant a session speaks for.
type ConnectParams struct {
	CallType    string
	CallID      string
	AgentUserID string
	AgentToken  string
}

// Session is a live connection to the voice backend.
type Session interface {
	UpdateSession(ctx context.Context, u SessionUpdate) error

	// SendUserText appends a user text turn and asks for a response.
	SendUserText(ctx context.Context, text string) error

	Close() error

	// Done is closed when the session ends for any reason.
	Done() <-chan struct{}
}

// Backend opens voice sessions.
type Backend interface {
	Connect(ctx context.Context, p ConnectParams) (Session, error)
}
