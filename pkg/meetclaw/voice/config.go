// Package voice attaches a realtime speech model to an agent participant
// and drives the agent's lifecycle inside a call: join with microphone
// only, settle, attach the voice backend, greet.
package voice

import (
	"fmt"
	"strings"
	"time"
)

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  `yaml:"type" json:"type"`
	Threshold         float64 `yaml:"threshold" json:"threshold"`
	PrefixPaddingMs   int     `yaml:"prefix_padding_ms" json:"prefix_padding_ms"`
	SilenceDurationMs int     `yaml:"silence_duration_ms" json:"silence_duration_ms"`
}

// Config configures the realtime voice backend and the session controller.
type Config struct {
	// URL is the realtime bridge websocket endpoint.
	URL string `yaml:"url"`

	// APIKey authenticates against the voice model (supports ${ENV_VAR}).
	APIKey string `yaml:"api_key"`

	Model                   string        `yaml:"model"`
	Voice                   string        `yaml:"voice"`
	Temperature             float64       `yaml:"temperature"`
	Modalities              []string      `yaml:"modalities"`
	TurnDetection           TurnDetection `yaml:"turn_detection"`
	InputTranscriptionModel string        `yaml:"input_transcription_model"`

	// SettleDelay is the pause between joining the call and attaching the
	// voice backend, so the media connection is up first.
	SettleDelay time.Duration `yaml:"settle_delay"`

	// HandshakeTimeout bounds dial plus the wait for session.created.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// Greeting is the scripted first user turn that makes the agent introduce itself.
	Greeting string `yaml:"greeting"`
}

// DefaultConfig returns the default voice settings.
func DefaultConfig() Config {
	return Config{
		Model:       "gpt-4o-realtime-preview",
		Voice:       "alloy",
		Temperature: 0.8,
		Modalities:  []string{"text", "audio"},
		TurnDetection: TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 500,
		},
		InputTranscriptionModel: "whisper-1",
		SettleDelay:             2 * time.Second,
		HandshakeTimeout:        10 * time.Second,
		Greeting:                "Please introduce yourself to the participants in the call and ask how you can help them today.",
	}
}

// Effective returns a copy with default values filled in for zero fields.
func (c Config) Effective() Config {
	def := DefaultConfig()
	out := c
	if out.Model == "" {
		out.Model = def.Model
	}
	if out.Voice == "" {
		out.Voice = def.Voice
	}
	if out.Temperature == 0 {
		out.Temperature = def.Temperature
	}
	if len(out.Modalities) == 0 {
		out.Modalities = def.Modalities
	}
	if out.TurnDetection.Type == "" {
		out.TurnDetection = def.TurnDetection
	}
	if out.SettleDelay == 0 {
		out.SettleDelay = def.SettleDelay
	}
	if out.HandshakeTimeout == 0 {
		out.HandshakeTimeout = def.HandshakeTimeout
	}
	if out.Greeting == "" {
		out.Greeting = def.Greeting
	}
	return out
}

// BuildInstructions renders the system instructions for an agent.
func BuildInstructions(agentName, agentInstructions string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, an AI assistant in a video call.\n\n", agentName)
	if s := strings.TrimSpace(agentInstructions); s != "" {
		b.WriteString("Agent Instructions:\n")
		b.WriteString(s)
		b.WriteString("\n\n")
	}
	b.WriteString("IMPORTANT BEHAVIOR:\n")
	b.WriteString("- Introduce yourself once when you join the call.\n")
	b.WriteString("- Listen actively and respond to what participants say.\n")
	b.WriteString("- Keep your answers concise and conversational.\n")
	b.WriteString("- Ask follow-up questions when something is unclear.\n")
	return b.String()
}
