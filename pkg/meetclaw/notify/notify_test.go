package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
)

type fakeExecutor struct {
	id, token string
	params    *discordgo.WebhookParams
	err       error
}

func (f *fakeExecutor) WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.id, f.token, f.params = webhookID, token, data
	return nil, f.err
}

func TestParseWebhookURL(t *testing.T) {
	tests := []struct {
		in      string
		id, tok string
		wantErr bool
	}{
		{"https://discord.com/api/webhooks/123/abc", "123", "abc", false},
		{"https://discord.com/api/webhooks/123/abc/", "123", "abc", false},
		{"https://discord.com/api/webhooks/123", "", "", true},
		{"https://example.com/hook", "", "", true},
	}
	for _, tt := range tests {
		id, tok, err := ParseWebhookURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseWebhookURL(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if id != tt.id || tok != tt.tok {
			t.Errorf("ParseWebhookURL(%q) = %q, %q", tt.in, id, tok)
		}
	}
}

func TestDiscord_Notify(t *testing.T) {
	d, err := NewDiscord(DiscordConfig{WebhookURL: "https://discord.com/api/webhooks/123/abc", Username: "meetclaw"}, nil)
	if err != nil {
		t.Fatalf("NewDiscord: %v", err)
	}
	fake := &fakeExecutor{}
	d.exec = fake

	err = d.Notify(context.Background(), Event{
		Kind:        RecordingReady,
		MeetingID:   "m1",
		MeetingName: "Standup",
		URL:         "https://cdn.example.com/rec.mp4",
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if fake.id != "123" || fake.token != "abc" {
		t.Errorf("unexpected webhook target %s/%s", fake.id, fake.token)
	}
	if fake.params.Username != "meetclaw" || len(fake.params.Embeds) != 1 {
		t.Fatalf("unexpected params: %+v", fake.params)
	}
	embed := fake.params.Embeds[0]
	if embed.Title != "Recording ready: Standup" || embed.URL != "https://cdn.example.com/rec.mp4" {
		t.Errorf("unexpected embed: %+v", embed)
	}

	fake.err = errors.New("rate limited")
	if err := d.Notify(context.Background(), Event{Kind: MeetingCompleted, MeetingID: "m1"}); err == nil {
		t.Error("expected executor error to surface")
	}
}

func TestEventTitle(t *testing.T) {
	e := Event{Kind: TranscriptReady, MeetingID: "m1"}
	if got := e.Title(); got != "Transcript ready: m1" {
		t.Errorf("Title() = %q", got)
	}
	if err := (Nop{}).Notify(context.Background(), e); err != nil {
		t.Errorf("Nop.Notify: %v", err)
	}
}
