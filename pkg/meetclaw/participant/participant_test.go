package participant

import (
	"strings"
	"testing"
	"time"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/provider"
)

func TestNewIdentity(t *testing.T) {
	r := NewRegistry(Config{})
	r.now = func() time.Time { return time.UnixMilli(1700000000123) }

	id := r.NewIdentity("a1", "Ada")
	if id.UserID != "virtual-a1-1700000000123" {
		t.Errorf("UserID = %q", id.UserID)
	}
	if id.DisplayName != "🤖 Ada" {
		t.Errorf("DisplayName = %q", id.DisplayName)
	}

	u := id.User()
	if u.Custom[KindKey] != KindAgent || u.Custom[AgentIDKey] != "a1" {
		t.Errorf("user custom = %v", u.Custom)
	}
}

func TestIsAgent(t *testing.T) {
	tagged := provider.Member{UserID: "bot-7", User: provider.User{Custom: map[string]any{KindKey: KindAgent}}}
	taggedHuman := provider.Member{UserID: "virtual-reality-fan", User: provider.User{Custom: map[string]any{KindKey: "human"}}}
	prefixed := provider.Member{UserID: "virtual-a1-1"}
	nameAgent := provider.Member{UserID: "travel-agent-bob", User: provider.User{Name: "Bob"}}
	human := provider.Member{UserID: "u1", User: provider.User{Name: "Alice"}}

	tests := []struct {
		name   string
		legacy bool
		member provider.Member
		want   bool
	}{
		{"explicit tag", false, tagged, true},
		{"tag overrides prefix", false, taggedHuman, false},
		{"prefix", false, prefixed, true},
		{"human whose id contains agent", false, nameAgent, false},
		{"legacy name match", true, nameAgent, true},
		{"human", true, human, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(Config{LegacyNameMatch: tt.legacy})
			if got := r.IsAgent(tt.member); got != tt.want {
				t.Errorf("IsAgent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAgents(t *testing.T) {
	r := NewRegistry(DefaultConfig())
	members := []provider.Member{
		{UserID: "u1"},
		{UserID: "virtual-a1-1"},
		{UserID: "u2"},
		{UserID: "virtual-a1-2"},
	}
	agents := r.Agents(members)
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
	for _, a := range agents {
		if !strings.HasPrefix(a.UserID, "virtual-") {
			t.Errorf("unexpected agent %s", a.UserID)
		}
	}
}
