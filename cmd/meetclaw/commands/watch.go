package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/agentclient"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/provider"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <meetingId>",
		Short: "Watch a call for spawn signals and spawn the agent",
		Long: `Watch a call the way the meeting page does: poll the call and
subscribe to its changes, and on a new spawn signal ask the server to
spawn the agent and join it. Handled signals are remembered across
restarts in client.state_path.

Examples:
  meetclaw watch <meetingId>`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cmd, "info", "text", os.Stderr)
			cfg, err := resolveConfig(cmd, logger)
			if err != nil {
				return err
			}
			client, err := newProvider(cfg, logger)
			if err != nil {
				return err
			}

			var sub provider.Subscriber
			if cfg.Provider.EventsURL != "" {
				sub = provider.NewEvents(cfg.Provider.Events(cfg.Client.UserID), logger)
			}

			cursor, err := agentclient.OpenCursorStore(cfg.Client.StatePath)
			if err != nil {
				return err
			}
			defer cursor.Close()

			runner := agentclient.New(agentclient.Config{
				ServerURL:    cfg.Client.ServerURL,
				AuthToken:    cfg.Gateway.AuthToken,
				PollInterval: cfg.Client.PollInterval,
			}, client, sub, cursor, logger)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runner.Watch(ctx, args[0])
		},
	}
}
