package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

// DiscordConfig configures notifications through a Discord channel webhook.
type DiscordConfig struct {
	// WebhookURL is https://discord.com/api/webhooks/<id>/<token> (supports ${ENV_VAR}).
	WebhookURL string `yaml:"webhook_url"`

	// Username overrides the webhook's display name.
	Username string `yaml:"username"`
}

type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts events as embeds to a channel webhook.
type Discord struct {
	id       string
	token    string
	username string
	exec     webhookExecutor
	logger   *slog.Logger
}

// NewDiscord creates a Discord notifier from a webhook URL.
func NewDiscord(cfg DiscordConfig, logger *slog.Logger) (*Discord, error) {
	id, token, err := ParseWebhookURL(cfg.WebhookURL)
	if err != nil {
		return nil, err
	}
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discord: %w", err)
	}
	session.Client = &http.Client{Timeout: 15 * time.Second}
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		id:       id,
		token:    token,
		username: cfg.Username,
		exec:     session,
		logger:   logger.With("component", "notify-discord"),
	}, nil
}

// ParseWebhookURL extracts the webhook id and token.
func ParseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("discord: invalid webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("discord: webhook url must end in /webhooks/<id>/<token>")
}

func (d *Discord) Notify(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	embed := &discordgo.MessageEmbed{
		Title:     e.Title(),
		Timestamp: at.UTC().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Meeting", Value: e.MeetingID, Inline: true},
		},
	}
	if e.URL != "" {
		embed.URL = e.URL
	}

	params := &discordgo.WebhookParams{
		Username: d.username,
		Embeds:   []*discordgo.MessageEmbed{embed},
	}
	if _, err := d.exec.WebhookExecute(d.id, d.token, false, params, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	d.logger.Debug("notification sent", "event", string(e.Kind), "meeting_id", e.MeetingID)
	return nil
}
