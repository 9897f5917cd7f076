package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/config"
)

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Store secrets in the OS keyring",
		Long: `Store secrets in the operating system keyring. Keyring values take
precedence over environment variables and the config file.

Keys: ` + strings.Join(config.KeyringKeys, ", ") + `

Examples:
  meetclaw secret set provider_api_secret
  meetclaw secret delete provider_api_secret`,
	}
	cmd.AddCommand(newSecretSetCmd(), newSecretDeleteCmd())
	return cmd
}

func newSecretSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> [value]",
		Short: "Store a secret (prompts when value is omitted)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if !config.ValidKeyringKey(key) {
				return fmt.Errorf("unknown key %q (valid: %s)", key, strings.Join(config.KeyringKeys, ", "))
			}
			if !config.KeyringAvailable() {
				return fmt.Errorf("OS keyring is not available; use MEETCLAW_* environment variables instead")
			}

			var value string
			if len(args) == 2 {
				value = args[1]
			} else {
				v, err := config.ReadPassword(key + ": ")
				if err != nil {
					return fmt.Errorf("reading secret: %w", err)
				}
				value = strings.TrimSpace(v)
			}
			if value == "" {
				return fmt.Errorf("empty value")
			}
			if err := config.StoreKeyring(key, value); err != nil {
				return fmt.Errorf("storing secret: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Secret %s stored in the OS keyring.\n", key)
			return nil
		},
	}
}

func newSecretDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a secret from the keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !config.ValidKeyringKey(args[0]) {
				return fmt.Errorf("unknown key %q", args[0])
			}
			if err := config.DeleteKeyring(args[0]); err != nil {
				return fmt.Errorf("deleting secret: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Secret %s deleted.\n", args[0])
			return nil
		},
	}
}
