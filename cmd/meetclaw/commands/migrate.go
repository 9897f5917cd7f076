package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply pending schema migrations to the configured database.

Examples:
  meetclaw migrate
  meetclaw migrate --target 1`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, _ := cmd.Flags().GetInt("target")
			ctx := context.Background()
			a, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.hub.Migrate(ctx, "", target); err != nil {
				return fmt.Errorf("migrating database: %w", err)
			}
			for name, st := range a.hub.Status(ctx) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: healthy=%v version=%s\n", name, st.Healthy, st.Version)
			}
			return nil
		},
	}
	cmd.Flags().Int("target", 0, "target schema version (0 = latest)")
	return cmd
}
