package commands

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// newHealthCmd creates `meetclaw health`, used by container health checks.
func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the health of a running server",
		Long:  `Query GET /health on the server named by client.server_url (or --url). Exits non-zero when unhealthy.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, _ := cmd.Flags().GetString("url")
			if url == "" {
				cfg, err := resolveConfig(cmd, newLogger(cmd, "error", "text", os.Stderr))
				if err != nil {
					return err
				}
				url = cfg.Client.ServerURL
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(url, "/")+"/health", nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("health check: %w", err)
			}
			defer resp.Body.Close()

			body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(body)))
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unhealthy: %s", resp.Status)
			}
			return nil
		},
	}
	cmd.Flags().String("url", "", "server base URL")
	return cmd
}
