package signal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/provider"
)

// PublishResult reports what Publish did.
type PublishResult struct {
	Signal Signal

	// Sent is false when a signal was already present and nothing was written.
	Sent bool
}

// Channel writes spawn signals into call custom data.
//
// The provider only offers whole-object writes, so Publish reads the latest
// custom data and merges into it. Concurrent publishes for the same call in
// this process share one read-merge-write. Across processes the write is
// last-writer-wins.
type Channel struct {
	client provider.Client
	group  singleflight.Group
	now    func() time.Time
	logger *slog.Logger
}

// NewChannel creates a signaling channel over the provider client.
func NewChannel(client provider.Client, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		client: client,
		now:    time.Now,
		logger: logger.With("component", "signal"),
	}
}

// Publish sets the spawn signal on callID unless one is already set.
func (c *Channel) Publish(ctx context.Context, callID, agentID, agentName string) (PublishResult, error) {
	v, err, _ := c.group.Do(callID, func() (any, error) {
		call, err := c.client.GetCall(ctx, callID)
		if err != nil {
			return PublishResult{}, fmt.Errorf("read call custom: %w", err)
		}

		if existing, ok := FromCustom(call.Custom); ok {
			c.logger.Debug("signal already present", "call_id", callID, "timestamp", existing.Timestamp)
			return PublishResult{Signal: existing}, nil
		}

		sig := Signal{
			ShouldJoinAgent: true,
			AgentID:         agentID,
			AgentName:       agentName,
			Timestamp:       c.now().UnixMilli(),
		}
		if err := c.client.UpdateCallCustom(ctx, callID, sig.MergeInto(call.Custom)); err != nil {
			return PublishResult{}, fmt.Errorf("write call custom: %w", err)
		}
		c.logger.Info("agent spawn signal sent", "call_id", callID, "agent_id", agentID, "timestamp", sig.Timestamp)
		return PublishResult{Signal: sig, Sent: true}, nil
	})
	if err != nil {
		return PublishResult{}, err
	}
	return v.(PublishResult), nil
}

// Read returns the current signal on callID, if any.
func (c *Channel) Read(ctx context.Context, callID string) (Signal, bool, error) {
	call, err := c.client.GetCall(ctx, callID)
	if err != nil {
		return Signal{}, false, err
	}
	s, ok := FromCustom(call.Custom)
	return s, ok, nil
}
