package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/recording"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/transcript"
)

func newTranscriptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcript <meetingId>",
		Short: "Print a meeting transcript as plain text",
		Long: `Download the meeting's transcript and print it as "[HH:MM:SS] speaker: text"
lines. With --sync the recording and transcript URLs are first refreshed
from the provider.

Examples:
  meetclaw transcript <meetingId>
  meetclaw transcript <meetingId> --sync`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sync, _ := cmd.Flags().GetBool("sync")

			ctx := context.Background()
			a, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if sync {
				if _, err := recording.NewSyncer(a.client, a.store, a.logger).Sync(ctx, args[0]); err != nil {
					return err
				}
			}
			loc, err := a.cfg.Transcript.Location()
			if err != nil {
				return err
			}
			res, err := transcript.NewService(a.store, nil, loc, a.logger).Text(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.PlainText)
			return nil
		},
	}
	cmd.Flags().Bool("sync", false, "refresh URLs from the provider first")
	return cmd
}
