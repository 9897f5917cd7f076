package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/meetings"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/provider"
)

func newMeetingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meeting",
		Short: "Manage meetings",
		Long: `Create, inspect and cancel meetings.

Examples:
  meetclaw meeting create --name Standup --agent <agentId> --user alice
  meetclaw meeting get <meetingId>
  meetclaw meeting list --status active
  meetclaw meeting cancel <meetingId>`,
	}
	cmd.AddCommand(
		newMeetingCreateCmd(),
		newMeetingGetCmd(),
		newMeetingListCmd(),
		newMeetingCancelCmd(),
	)
	return cmd
}

func newMeetingCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a meeting and its provider call",
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			agentID, _ := cmd.Flags().GetString("agent")
			userID, _ := cmd.Flags().GetString("user")
			if name == "" || agentID == "" || userID == "" {
				return fmt.Errorf("--name, --agent and --user are required")
			}

			ctx := context.Background()
			a, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.store.GetAgent(ctx, agentID); err != nil {
				return err
			}
			m := &meetings.Meeting{Name: name, AgentID: agentID, UserID: userID}
			if err := a.store.CreateMeeting(ctx, m); err != nil {
				return err
			}

			// Session start get-or-creates the same call.
			if err := a.client.UpsertUsers(ctx, provider.User{ID: userID, Role: "user"}); err != nil {
				a.logger.Warn("failed to register meeting owner with provider", "meeting_id", m.ID, "error", err)
			}
			_, err = a.client.GetOrCreateCall(ctx, m.ID, provider.GetOrCreateRequest{
				CreatedBy: userID,
				Custom:    map[string]any{"meetingId": m.ID, "meetingName": m.Name},
				Settings:  provider.AutoCapture(a.cfg.Webhook.RecordingQuality, a.cfg.Webhook.TranscriptionLanguage),
				Members:   []provider.MemberRequest{{UserID: userID, Role: "admin"}},
			})
			if err != nil {
				a.logger.Warn("provider call not created yet", "meeting_id", m.ID, "error", err)
			}
			return printJSON(cmd.OutOrStdout(), m)
		},
	}
	cmd.Flags().String("name", "", "meeting name")
	cmd.Flags().String("agent", "", "id of the agent to invite")
	cmd.Flags().String("user", "", "id of the user who owns the meeting")
	return cmd
}

func newMeetingGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <meetingId>",
		Short: "Show a meeting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.store.GetMeeting(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m)
		},
	}
}

func newMeetingListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List meetings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, _ := cmd.Flags().GetString("status")
			agentID, _ := cmd.Flags().GetString("agent")
			limit, _ := cmd.Flags().GetInt("limit")
			if status != "" && !meetings.Status(status).Valid() {
				return fmt.Errorf("unknown status %q", status)
			}

			ctx := context.Background()
			a, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.store.ListMeetings(ctx, meetings.ListFilter{
				Status:  meetings.Status(status),
				AgentID: agentID,
				Limit:   limit,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No meetings.")
				return nil
			}
			for _, m := range list {
				agent := " "
				if m.AgentJoined {
					agent = "*"
				}
				fmt.Fprintf(out, "%-38s %-10s %s %-24s %s\n",
					m.ID, m.Status, agent, m.Name, m.CreatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
	cmd.Flags().String("status", "", "filter by status (upcoming, active, completed, cancelled)")
	cmd.Flags().String("agent", "", "filter by agent id")
	cmd.Flags().Int("limit", 50, "maximum number of meetings")
	return cmd
}

func newMeetingCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <meetingId>",
		Short: "Cancel an upcoming meeting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.Cancel(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Meeting %s cancelled.\n", args[0])
			return nil
		},
	}
}
