// Package commands implements the meetclaw CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "meetclaw",
		Short: "meetclaw - AI agents for video meetings",
		Long: `meetclaw runs the lifecycle of AI meeting agents: it reacts to call
provider webhooks, signals clients to spawn the agent, joins it to the call
with a realtime voice backend and keeps at most one agent per call.

Examples:
  meetclaw serve
  meetclaw agent create --name Ada --instructions "Run the standup"
  meetclaw meeting create --name Standup --agent <agentId> --user alice
  meetclaw watch <meetingId>
  meetclaw transcript <meetingId>`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newAgentCmd(),
		newMeetingCmd(),
		newSweepCmd(),
		newWatchCmd(),
		newTranscriptCmd(),
		newSecretCmd(),
		newHealthCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logs")

	return rootCmd
}
