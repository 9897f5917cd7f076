package signal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/apperr"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/provider"
)

// Reaction is invoked once per observed signal.
type Reaction func(ctx context.Context, s Signal) error

// Consumer watches one call for spawn signals. A poll loop and a push
// subscription both feed Offer; each signal timestamp is handled once,
// by whichever path sees it first.
type Consumer struct {
	client   provider.Client
	sub      provider.Subscriber
	callID   string
	interval time.Duration
	react    Reaction
	logger   *slog.Logger

	mu       sync.Mutex
	lastSeen int64
	inflight bool
}

// NewConsumer creates a consumer. sub may be nil to poll only.
func NewConsumer(client provider.Client, sub provider.Subscriber, callID string, interval time.Duration, react Reaction, logger *slog.Logger) *Consumer {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		client:   client,
		sub:      sub,
		callID:   callID,
		interval: interval,
		react:    react,
		logger:   logger.With("component", "signal-consumer", "call_id", callID),
	}
}

// Run polls and subscribes until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.pollLoop(gctx) })
	g.Go(func() error { return c.subscribeLoop(gctx) })
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (c *Consumer) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		call, err := c.client.GetCall(ctx, c.callID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Debug("poll failed", "error", err)
		} else {
			c.Offer(ctx, call.Custom)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Consumer) subscribeLoop(ctx context.Context) error {
	if c.sub == nil {
		return nil
	}
	for {
		ch, err := c.sub.SubscribeCustom(ctx, c.callID)
		if err != nil {
			c.logger.Warn("subscription failed, relying on polling", "error", err)
		} else {
			for custom := range ch {
				c.Offer(ctx, custom)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.interval * 4):
		}
	}
}

// Offer hands custom data from either path to the consumer. It reports
// whether the reaction ran. A failed reaction is retried on the next offer
// of the same signal, except when the failure is a Conflict (another
// client already spawned the agent).
func (c *Consumer) Offer(ctx context.Context, custom map[string]any) bool {
	s, ok := FromCustom(custom)
	if !ok {
		return false
	}

	c.mu.Lock()
	if c.inflight || s.Timestamp <= c.lastSeen {
		c.mu.Unlock()
		return false
	}
	prev := c.lastSeen
	c.lastSeen = s.Timestamp
	c.inflight = true
	c.mu.Unlock()

	err := c.react(ctx, s)

	c.mu.Lock()
	c.inflight = false
	if err != nil && !apperr.Is(err, apperr.KindConflict) && c.lastSeen == s.Timestamp {
		c.lastSeen = prev
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("signal reaction failed", "timestamp", s.Timestamp, "error", err)
	} else {
		c.logger.Info("signal handled", "timestamp", s.Timestamp, "agent_id", s.AgentID)
	}
	return true
}

// LastSeen returns the timestamp of the last handled signal.
func (c *Consumer) LastSeen() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// Resume sets the last handled timestamp, typically restored from disk so a
// restarted watcher does not react to a signal it already handled.
func (c *Consumer) Resume(ts int64) {
	c.mu.Lock()
	if ts > c.lastSeen {
		c.lastSeen = ts
	}
	c.mu.Unlock()
}
