// Package config defines the meetclaw configuration file and its defaults.
package config

import (
	"fmt"
	"time"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/database"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/notify"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/participant"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/provider"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/scheduler"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/voice"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/webhook"
)

// Config is the root configuration.
type Config struct {
	Gateway     GatewayConfig      `yaml:"gateway"`
	Logging     LoggingConfig      `yaml:"logging"`
	Database    database.HubConfig `yaml:"database"`
	Provider    ProviderConfig     `yaml:"provider"`
	Participant participant.Config `yaml:"participant"`
	Voice       VoiceConfig        `yaml:"voice"`
	Webhook     webhook.Config     `yaml:"webhook"`
	Scheduler   scheduler.Config   `yaml:"scheduler"`
	Notify      NotifyConfig       `yaml:"notify"`
	Transcript  TranscriptConfig   `yaml:"transcript"`
	Client      ClientConfig       `yaml:"client"`
}

// GatewayConfig configures the HTTP API.
type GatewayConfig struct {
	// Address is the listen address (default: ":8090").
	Address string `yaml:"address"`

	// AuthToken is the Bearer token for /api/* (empty = no auth). The
	// webhook route is authenticated by signature instead.
	AuthToken string `yaml:"auth_token"`

	// CORSOrigins lists allowed origins for CORS (empty = no CORS).
	CORSOrigins []string `yaml:"cors_origins"`

	// VerifyWebhookSignature requires a valid X-Signature on /api/webhook.
	VerifyWebhookSignature bool `yaml:"verify_webhook_signature"`

	// RequestTimeout bounds each API request (default: 30s).
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// ShutdownTimeout bounds graceful shutdown (default: 15s).
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the log format ("json", "text").
	Format string `yaml:"format"`
}

// ProviderConfig configures the video-call provider.
type ProviderConfig struct {
	// Kind selects the client: "stream" (default) or "memory" for local runs.
	Kind string `yaml:"kind"`

	BaseURL string `yaml:"base_url"`

	// EventsURL is the provider websocket used by `meetclaw watch`.
	EventsURL string `yaml:"events_url"`

	APIKey string `yaml:"api_key"`

	// APISecret signs server and user tokens (supports ${ENV_VAR}).
	APISecret string `yaml:"api_secret"`

	CallType string        `yaml:"call_type"`
	Timeout  time.Duration `yaml:"timeout"`

	// TokenTTL is the lifetime of agent participant tokens (default: 1h).
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// Stream returns the REST client settings.
func (p ProviderConfig) Stream() provider.StreamConfig {
	return provider.StreamConfig{
		BaseURL:   p.BaseURL,
		APIKey:    p.APIKey,
		APISecret: p.APISecret,
		CallType:  p.CallType,
		Timeout:   p.Timeout,
	}
}

// Events returns the websocket subscription settings for userID.
func (p ProviderConfig) Events(userID string) provider.EventsConfig {
	return provider.EventsConfig{
		URL:       p.EventsURL,
		APIKey:    p.APIKey,
		APISecret: p.APISecret,
		CallType:  p.CallType,
		UserID:    userID,
	}
}

// VoiceConfig wraps the voice settings with an on/off switch.
type VoiceConfig struct {
	// Enabled attaches the realtime backend after the agent joins.
	Enabled bool `yaml:"enabled"`

	voice.Config `yaml:",inline"`
}

// NotifyConfig configures meeting notifications.
type NotifyConfig struct {
	// Discord is used when its webhook URL is set.
	Discord notify.DiscordConfig `yaml:"discord"`
}

// TranscriptConfig configures transcript rendering.
type TranscriptConfig struct {
	// Timezone for "[HH:MM:SS]" stamps (IANA name, default: UTC).
	Timezone string `yaml:"timezone"`
}

// Location resolves Timezone.
func (t TranscriptConfig) Location() (*time.Location, error) {
	if t.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return nil, fmt.Errorf("transcript timezone: %w", err)
	}
	return loc, nil
}

// ClientConfig configures `meetclaw watch`, the headless signal consumer.
type ClientConfig struct {
	// ServerURL is the meetclaw gateway the watcher calls.
	ServerURL string `yaml:"server_url"`

	// UserID is the identity used for the provider subscription.
	UserID string `yaml:"user_id"`

	// PollInterval is the call refresh period (default: 500ms).
	PollInterval time.Duration `yaml:"poll_interval"`

	// StatePath is the bolt file holding handled signal timestamps.
	StatePath string `yaml:"state_path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Address:         ":8090",
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Database: database.DefaultHubConfig(),
		Provider: ProviderConfig{
			Kind:     "stream",
			CallType: "default",
			Timeout:  15 * time.Second,
			TokenTTL: time.Hour,
		},
		Participant: participant.DefaultConfig(),
		Voice:       VoiceConfig{Enabled: true, Config: voice.DefaultConfig()},
		Webhook:     webhook.DefaultConfig(),
		Scheduler:   scheduler.DefaultConfig(),
		Transcript:  TranscriptConfig{Timezone: "UTC"},
		Client: ClientConfig{
			ServerURL:    "http://localhost:8090",
			UserID:       "meetclaw-watcher",
			PollInterval: 500 * time.Millisecond,
			StatePath:    "./data/watch.bolt",
		},
	}
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	switch c.Provider.Kind {
	case "stream":
		if c.Provider.APIKey == "" || c.Provider.APISecret == "" {
			return fmt.Errorf("provider.api_key and provider.api_secret are required")
		}
	case "memory":
	default:
		return fmt.Errorf("provider.kind must be stream or memory, got %q", c.Provider.Kind)
	}
	if c.Gateway.VerifyWebhookSignature && c.Provider.APISecret == "" {
		return fmt.Errorf("gateway.verify_webhook_signature needs provider.api_secret")
	}
	if _, err := c.Transcript.Location(); err != nil {
		return err
	}
	return nil
}
