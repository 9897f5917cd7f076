// Package participant mints agent participant identities and decides
// whether a call member is an agent.
//
// Agents are tagged explicitly: the provider user carries
// custom.participant_kind = "agent". Matching on the identity prefix is kept
// for members created before tagging, and display-name matching only runs
// when LegacyNameMatch is enabled.
package participant

import (
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/provider"
)

const (
	// KindKey is the user custom-data key holding the participant kind.
	KindKey = "participant_kind"

	// KindAgent marks AI agent participants.
	KindAgent = "agent"

	// AgentIDKey stores the agent record id on the provider user.
	AgentIDKey = "agent_id"
)

// Config controls identity formatting and agent detection.
type Config struct {
	IdentityPrefix  string `yaml:"identity_prefix"`
	DisplayPrefix   string `yaml:"display_prefix"`
	AvatarURL       string `yaml:"avatar_url"`
	LegacyNameMatch bool   `yaml:"legacy_name_match"`
}

// DefaultConfig returns the default participant settings.
func DefaultConfig() Config {
	return Config{
		IdentityPrefix: "virtual-",
		DisplayPrefix:  "🤖 ",
		AvatarURL:      "https://cdn-icons-png.flaticon.com/512/4712/4712027.png",
	}
}

// Identity is a freshly minted agent participant.
type Identity struct {
	UserID      string
	AgentID     string
	DisplayName string
	AvatarURL   string
}

// User converts the identity into the tagged provider user record.
func (id Identity) User() provider.User {
	return provider.User{
		ID:    id.UserID,
		Name:  id.DisplayName,
		Image: id.AvatarURL,
		Role:  "user",
		Custom: map[string]any{
			KindKey:    KindAgent,
			AgentIDKey: id.AgentID,
		},
	}
}

// Registry mints identities and classifies members.
type Registry struct {
	cfg Config
	now func() time.Time
}

// NewRegistry creates a registry. Empty prefixes fall back to defaults.
func NewRegistry(cfg Config) *Registry {
	def := DefaultConfig()
	if cfg.IdentityPrefix == "" {
		cfg.IdentityPrefix = def.IdentityPrefix
	}
	if cfg.DisplayPrefix == "" {
		cfg.DisplayPrefix = def.DisplayPrefix
	}
	return &Registry{cfg: cfg, now: time.Now}
}

// NewIdentity returns "<prefix><agentID>-<unix millis>" with display name
// "<display prefix><agent name>". Every spawn gets a new identity.
func (r *Registry) NewIdentity(agentID, agentName string) Identity {
	return Identity{
		UserID:      fmt.Sprintf("%s%s-%d", r.cfg.IdentityPrefix, agentID, r.now().UnixMilli()),
		AgentID:     agentID,
		DisplayName: r.cfg.DisplayPrefix + agentName,
		AvatarURL:   r.cfg.AvatarURL,
	}
}

// IsAgent reports whether a call member is an AI agent participant.
func (r *Registry) IsAgent(m provider.Member) bool {
	if kind, ok := m.User.Custom[KindKey].(string); ok {
		return kind == KindAgent
	}
	if strings.HasPrefix(m.UserID, r.cfg.IdentityPrefix) {
		return true
	}
	if r.cfg.LegacyNameMatch {
		return strings.Contains(strings.ToLower(m.UserID), KindAgent) ||
			strings.HasPrefix(m.User.Name, r.cfg.DisplayPrefix)
	}
	return false
}

// Agents returns the agent members of a call, in list order.
func (r *Registry) Agents(members []provider.Member) []provider.Member {
	var out []provider.Member
	for _, m := range members {
		if r.IsAgent(m) {
			out = append(out, m)
		}
	}
	return out
}
