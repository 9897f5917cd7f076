// Package signal relays the one-shot "spawn the agent now" instruction from
// the server to clients through the call's shared custom data.
package signal

import (
	"encoding/json"
	"math"
)

// Custom-data keys carrying the signal.
const (
	KeyShouldJoin = "shouldJoinAgent"
	KeyAgentID    = "agentId"
	KeyAgentName  = "agentName"
	KeyTimestamp  = "timestamp"
)

// Signal asks clients watching a call to trigger an agent spawn.
// Timestamp is unix milliseconds and identifies the signal.
type Signal struct {
	ShouldJoinAgent bool   `json:"shouldJoinAgent"`
	AgentID         string `json:"agentId"`
	AgentName       string `json:"agentName"`
	Timestamp       int64  `json:"timestamp"`
}

// FromCustom extracts a signal from call custom data. ok is false when no
// spawn is requested.
func FromCustom(custom map[string]any) (Signal, bool) {
	join, _ := custom[KeyShouldJoin].(bool)
	if !join {
		return Signal{}, false
	}
	s := Signal{ShouldJoinAgent: true}
	s.AgentID, _ = custom[KeyAgentID].(string)
	s.AgentName, _ = custom[KeyAgentName].(string)
	s.Timestamp = toMillis(custom[KeyTimestamp])
	return s, true
}

// MergeInto returns a copy of custom with the signal keys set. Other keys
// are preserved.
func (s Signal) MergeInto(custom map[string]any) map[string]any {
	out := make(map[string]any, len(custom)+4)
	for k, v := range custom {
		out[k] = v
	}
	out[KeyShouldJoin] = s.ShouldJoinAgent
	out[KeyAgentID] = s.AgentID
	out[KeyAgentName] = s.AgentName
	out[KeyTimestamp] = s.Timestamp
	return out
}

func toMillis(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return int64(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, _ := n.Float64()
			return int64(f)
		}
		return i
	default:
		return 0
	}
}
