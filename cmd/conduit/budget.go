package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/conduit/pkg/cli"
	"mercator-hq/conduit/pkg/limits/budget"
)

var budgetFlags struct {
	daily   float64
	monthly float64
	block   bool
	format  string
}

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Manage per-provider spending budgets",
	Long: `Set, clear and inspect daily and monthly spending caps.

A budget raises an alert when a request would push spending past a cap.
With --block the request is refused instead of sent.

Examples:
  # Alert once OpenAI spending passes $2 a day
  conduit budget set openai --daily 2

  # Refuse requests past $20 a month
  conduit budget set anthropic --monthly 20 --block

  # Show spending against every budget
  conduit budget status`,
}

var budgetSetCmd = &cobra.Command{
	Use:   "set <provider>",
	Short: "Set the budget of a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var b budget.Budget
		if cmd.Flags().Changed("daily") {
			b.DailyUSD = &budgetFlags.daily
		}
		if cmd.Flags().Changed("monthly") {
			b.MonthlyUSD = &budgetFlags.monthly
		}
		b.BlockOnExceed = budgetFlags.block
		if b.IsZero() {
			return cli.NewConfigError("budget", "set --daily, --monthly or both")
		}

		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			if err := a.enforcer.SetBudget(ctx, args[0], b); err != nil {
				return cli.NewCommandError("budget set", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Budget for %s: %s\n",
				cli.NewStyler(cmd.OutOrStdout()).Success("✓"), args[0], describeBudget(b))
			return nil
		})
	},
}

var budgetClearCmd = &cobra.Command{
	Use:   "clear <provider>",
	Short: "Remove the stored budget of a provider",
	Long: `Remove the stored budget of a provider. A budget from the configuration
file applies again afterwards.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			if err := a.enforcer.ClearBudget(ctx, args[0]); err != nil {
				return cli.NewCommandError("budget clear", err)
			}
			if b, ok := a.enforcer.Budget(args[0]); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared; configured budget applies: %s\n", describeBudget(b))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared budget for %s\n", args[0])
			return nil
		})
	},
}

var budgetStatusCmd = &cobra.Command{
	Use:   "status [provider]",
	Short: "Show spending against budgets",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := cli.ParseFormat(budgetFlags.format)
		if err != nil {
			return err
		}
		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			now := time.Now()
			var statuses []budget.Status
			if len(args) == 1 {
				s, ok := a.enforcer.Status(args[0], now)
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "No budget set for %s\n", args[0])
					return nil
				}
				statuses = append(statuses, s)
			} else {
				statuses = a.enforcer.StatusAll(now)
			}
			if len(statuses) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No budgets set.")
				return nil
			}

			s := cli.NewStyler(cmd.OutOrStdout())
			if format != cli.FormatText {
				s = nil
			}
			return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), budgetTable(statuses, s))
		})
	},
}

func init() {
	rootCmd.AddCommand(budgetCmd)
	budgetCmd.AddCommand(budgetSetCmd, budgetClearCmd, budgetStatusCmd)

	budgetSetCmd.Flags().Float64Var(&budgetFlags.daily, "daily", 0, "daily cap in USD")
	budgetSetCmd.Flags().Float64Var(&budgetFlags.monthly, "monthly", 0, "monthly cap in USD")
	budgetSetCmd.Flags().BoolVar(&budgetFlags.block, "block", false, "refuse requests past a cap instead of only alerting")
	budgetStatusCmd.Flags().StringVarP(&budgetFlags.format, "format", "f", "text", "output format (text, json, csv)")
}

func describeBudget(b budget.Budget) string {
	out := ""
	if b.DailyUSD != nil {
		out += fmt.Sprintf("$%.2f/day ", *b.DailyUSD)
	}
	if b.MonthlyUSD != nil {
		out += fmt.Sprintf("$%.2f/month ", *b.MonthlyUSD)
	}
	if b.BlockOnExceed {
		return out + "(blocking)"
	}
	return out + "(alert only)"
}

func budgetTable(statuses []budget.Status, s *cli.Styler) *cli.Table {
	t := &cli.Table{Headers: []string{"PROVIDER", "PERIOD", "USED", "LIMIT", "USED %", "RESETS", "MODE"}}
	for _, st := range statuses {
		mode := "alert"
		if st.Budget.BlockOnExceed {
			mode = "block"
		}
		for _, p := range []budget.PeriodStatus{st.Daily, st.Monthly} {
			if p.Limit == nil {
				continue
			}
			pct := fmt.Sprintf("%.0f%%", p.Percentage*100)
			switch {
			case p.Percentage >= 1:
				pct = s.Error(pct)
			case p.Percentage >= 0.8:
				pct = s.Warn(pct)
			}
			t.Append(st.Provider, string(p.Period),
				fmt.Sprintf("$%.4f", p.Used), fmt.Sprintf("$%.2f", *p.Limit),
				pct, p.Reset.Local().Format(time.DateTime), mode)
		}
	}
	return t
}
