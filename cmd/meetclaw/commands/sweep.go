package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/dedup"
)

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep [meetingId]",
		Short: "Remove duplicate agent participants from a call",
		Long: `Keep the newest agent participant of a call and remove the others.
Running it twice is the same as running it once.

Examples:
  meetclaw sweep <meetingId>
  meetclaw sweep --active`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			active, _ := cmd.Flags().GetBool("active")
			if active == (len(args) == 1) {
				return fmt.Errorf("pass a meeting id or --active")
			}

			ctx := context.Background()
			a, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			sweeper := dedup.New(a.client, a.registry, a.store, a.logger)
			if active {
				results, err := sweeper.SweepActive(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), results)
			}
			res, err := sweeper.Sweep(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().Bool("active", false, "sweep every active meeting")
	return cmd
}
