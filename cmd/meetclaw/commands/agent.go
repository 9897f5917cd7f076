package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/meetings"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage AI agent personas",
		Long: `Manage the AI agents that can be invited into meetings.

Examples:
  meetclaw agent create --name Ada --instructions "Keep the standup on track"
  meetclaw agent create --name Ada --instructions-file ./ada.md
  meetclaw agent list`,
	}
	cmd.AddCommand(newAgentCreateCmd(), newAgentListCmd())
	return cmd
}

func newAgentCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			instructions, _ := cmd.Flags().GetString("instructions")
			file, _ := cmd.Flags().GetString("instructions-file")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("reading instructions: %w", err)
				}
				instructions = string(data)
			}

			ctx := context.Background()
			a, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			agent := &meetings.Agent{Name: name, Instructions: instructions}
			if err := a.store.CreateAgent(ctx, agent); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), agent)
		},
	}
	cmd.Flags().String("name", "", "agent name")
	cmd.Flags().String("instructions", "", "agent instructions")
	cmd.Flags().String("instructions-file", "", "read instructions from a file")
	return cmd
}

func newAgentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			agents, err := a.store.ListAgents(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(agents) == 0 {
				fmt.Fprintln(out, "No agents. Create one with 'meetclaw agent create'.")
				return nil
			}
			for _, ag := range agents {
				fmt.Fprintf(out, "%-38s %-20s %s\n", ag.ID, ag.Name, ag.CreatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}
