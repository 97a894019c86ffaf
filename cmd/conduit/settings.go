package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/conduit/pkg/cli"
)

var settingsFlags struct {
	all    bool
	format string
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "View and change preferences",
	Long: `View and change the preferences stored in the settings database.

Defaults come from the configuration file; a stored value overrides them
until it is reset.

Examples:
  conduit settings list
  conduit settings set conversation.history_window 20
  conduit settings set alerts.channel desktop
  conduit settings reset conversation.system_prompt`,
}

var settingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List settings and their values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := cli.ParseFormat(settingsFlags.format)
		if err != nil {
			return err
		}
		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			entries, err := a.settings.All(ctx)
			if err != nil {
				return cli.NewCommandError("settings list", err)
			}

			s := cli.NewStyler(cmd.OutOrStdout())
			if format != cli.FormatText {
				s = nil
			}
			t := &cli.Table{Headers: []string{"KEY", "VALUE", "SOURCE", "DESCRIPTION"}}
			for _, e := range entries {
				if e.Def == nil && !settingsFlags.all {
					continue
				}
				source, desc := "stored", ""
				if e.Default {
					source = s.Muted("default")
				}
				if e.Def != nil {
					desc = e.Def.Description
					if opts := e.Def.Default.Options(); len(opts) > 0 {
						desc = fmt.Sprintf("%s (%s)", desc, strings.Join(opts, ", "))
					}
				}
				t.Append(e.Key, e.Value.String(), source, desc)
			}
			return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), t)
		})
	},
}

var settingsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the value of a setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			v, err := a.settings.Get(ctx, args[0])
			if err != nil {
				return cli.NewCommandError("settings get", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), v.String())
			return nil
		})
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			if err := a.settings.SetText(ctx, args[0], args[1]); err != nil {
				return cli.NewCommandError("settings set", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], args[1])
			return nil
		})
	},
}

var settingsResetCmd = &cobra.Command{
	Use:   "reset <key>",
	Short: "Restore the default of a setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			if err := a.settings.Reset(ctx, args[0]); err != nil {
				return cli.NewCommandError("settings reset", err)
			}
			v, err := a.settings.Get(ctx, args[0])
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s reset\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s (default)\n", args[0], v.String())
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsListCmd, settingsGetCmd, settingsSetCmd, settingsResetCmd)

	settingsListCmd.Flags().BoolVarP(&settingsFlags.all, "all", "a", false, "include internal state such as stored budgets")
	settingsListCmd.Flags().StringVarP(&settingsFlags.format, "format", "f", "text", "output format (text, json, csv)")
}
