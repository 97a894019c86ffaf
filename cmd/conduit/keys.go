package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/conduit/pkg/cli"
	"mercator-hq/conduit/pkg/credentials"
)

var keysFlags struct {
	stdin bool
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage provider API keys",
	Long: `Store, list and delete the API keys of hosted providers.

Keys are written to the credential directory with owner-only permissions.
Keys from the environment (CONDUIT_KEY_<PROVIDER>) and configured
dotenv files are also read, but never written.

Examples:
  # Prompt for the OpenAI key without echoing it
  conduit keys set openai

  # Read a key from a pipe
  echo "$KEY" | conduit keys set anthropic --stdin

  # Show which providers have a key
  conduit keys list`,
}

var keysSetCmd = &cobra.Command{
	Use:   "set <provider>",
	Short: "Store the API key of a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		if err := credentials.ValidateID(id); err != nil {
			return cli.NewCommandError("keys set", err)
		}
		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			prompt := fmt.Sprintf("API key for %s: ", id)
			if keysFlags.stdin {
				prompt = ""
			}
			key, err := cli.ReadSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), prompt)
			if err != nil {
				return cli.NewCommandError("keys set", err)
			}
			if err := a.creds.Set(ctx, id, key); err != nil {
				return cli.NewCommandError("keys set", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Stored key for %s (%s)\n",
				cli.NewStyler(cmd.OutOrStdout()).Success("✓"), id, credentials.Mask(key))
			return nil
		})
	},
}

var keysDeleteCmd = &cobra.Command{
	Use:     "delete <provider>",
	Aliases: []string{"rm"},
	Short:   "Delete the stored API key of a provider",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			if err := a.creds.Delete(ctx, args[0]); err != nil {
				return cli.NewCommandError("keys delete", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted key for %s\n", args[0])
			return nil
		})
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List providers with a key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			ids, err := a.creds.List(ctx)
			if err != nil {
				return cli.NewCommandError("keys list", err)
			}
			t := &cli.Table{Headers: []string{"PROVIDER", "KEY"}}
			for _, id := range ids {
				key, err := a.creds.Get(ctx, id)
				if err != nil {
					return cli.NewCommandError("keys list", err)
				}
				t.Append(id, credentials.Mask(key))
			}
			if len(t.Rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No keys stored.")
				return nil
			}
			return cli.NewFormatter(cli.FormatText).FormatTo(cmd.OutOrStdout(), t)
		})
	},
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysSetCmd, keysDeleteCmd, keysListCmd)

	keysSetCmd.Flags().BoolVar(&keysFlags.stdin, "stdin", false, "read the key from standard input without prompting")
}
