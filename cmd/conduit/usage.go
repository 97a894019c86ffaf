package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"mercator-hq/conduit/pkg/cli"
	"mercator-hq/conduit/pkg/usage"
)

var usageFlags struct {
	days     int
	format   string
	byModel  bool
	provider string
	output   string
	height   int
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Inspect, export and prune recorded usage",
	Long: `Every request records its provider, model, token counts, estimated cost
and latency. The usage commands summarize, chart, export and import that
history.

Examples:
  # Spend per provider over the last week
  conduit usage summary --days 7

  # Daily cost of OpenAI over the last month
  conduit usage chart --provider openai --days 30

  # Export everything as CSV
  conduit usage export --format csv --output usage.csv`,
}

var usageSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize usage per provider or model",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := cli.ParseFormat(usageFlags.format)
		if err != nil {
			return err
		}
		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			r := lastDays(usageFlags.days, time.Now())
			summaries := a.ledger.Aggregate(!usageFlags.byModel, r)
			return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), summaryTable(summaries, usageFlags.byModel))
		})
	},
}

var usageChartCmd = &cobra.Command{
	Use:   "chart",
	Short: "Chart daily cost",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			days := max(usageFlags.days, 2)
			daily := a.ledger.DailyCosts(usageFlags.provider, days, time.Now())
			fmt.Fprintln(cmd.OutOrStdout(), costChart(daily, usageFlags.provider, usageFlags.height))
			return nil
		})
	},
}

var usageExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export usage events as CSV or JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := cli.ParseFormat(usageFlags.format)
		if err != nil {
			return err
		}
		if format == cli.FormatText {
			format = cli.FormatCSV
		}
		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			var w io.Writer = cmd.OutOrStdout()
			if usageFlags.output != "" {
				f, err := os.OpenFile(usageFlags.output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
				if err != nil {
					return cli.NewCommandError("usage export", err)
				}
				defer f.Close()
				w = f
			}

			r := lastDays(usageFlags.days, time.Now())
			if format == cli.FormatJSON {
				err = a.ledger.ExportJSON(w, r, true)
			} else {
				err = a.ledger.ExportCSV(w, r)
			}
			if err != nil {
				return cli.NewCommandError("usage export", err)
			}
			if usageFlags.output != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d events to %s\n", len(a.ledger.Events(r)), usageFlags.output)
			}
			return nil
		})
	},
}

var usageImportCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Import usage events from a CSV export",
	Long: `Import usage events from a file written by "conduit usage export".
Events already in the history are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return cli.NewCommandError("usage import", err)
		}
		defer f.Close()

		events, err := usage.ParseCSV(f)
		if err != nil {
			return cli.NewCommandError("usage import", err)
		}

		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			added := importEvents(a.ledger, events, cli.NewProgressReporter(cmd.ErrOrStderr(), "events"))
			if err := a.ledger.Flush(ctx); err != nil {
				return cli.NewCommandError("usage import", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d events\n", added, len(events))
			return nil
		})
	},
}

var usagePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete usage older than the retention period",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			days := a.pruner.RetentionDays(ctx)
			if days <= 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Retention is unlimited; nothing to prune.")
				return nil
			}
			n, err := a.pruner.Prune(ctx)
			if err != nil {
				return cli.NewCommandError("usage prune", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d events older than %d days\n", n, days)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.AddCommand(usageSummaryCmd, usageChartCmd, usageExportCmd, usageImportCmd, usagePruneCmd)

	usageCmd.PersistentFlags().IntVarP(&usageFlags.days, "days", "d", 30, "number of days to include (0 for all)")
	usageSummaryCmd.Flags().StringVarP(&usageFlags.format, "format", "f", "text", "output format (text, json, csv)")
	usageSummaryCmd.Flags().BoolVar(&usageFlags.byModel, "by-model", false, "group by provider and model")
	usageChartCmd.Flags().StringVarP(&usageFlags.provider, "provider", "p", "", "chart one provider (default all)")
	usageChartCmd.Flags().IntVar(&usageFlags.height, "height", 10, "chart height in lines")
	usageExportCmd.Flags().StringVarP(&usageFlags.format, "format", "f", "csv", "export format (csv, json)")
	usageExportCmd.Flags().StringVarP(&usageFlags.output, "output", "o", "", "write to a file instead of stdout")
}

// lastDays returns the range covering the last days calendar days up to
// now. Zero or less covers all time.
func lastDays(days int, now time.Time) usage.Range {
	if days <= 0 {
		return usage.Range{}
	}
	y, m, d := now.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, now.Location()).AddDate(0, 0, -(days - 1))
	return usage.Range{Start: start, End: now}
}

func summaryTable(summaries map[string]usage.Summary, byModel bool) *cli.Table {
	headers := []string{"PROVIDER", "REQUESTS", "FAILURES", "PROMPT", "COMPLETION", "COST USD", "AVG LATENCY"}
	if byModel {
		headers = append([]string{"PROVIDER", "MODEL"}, headers[1:]...)
	}
	t := &cli.Table{Headers: headers}

	keys := make([]string, 0, len(summaries))
	for k := range summaries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var total usage.Summary
	for _, k := range keys {
		s := summaries[k]
		var cells []string
		if byModel {
			provider, model, _ := strings.Cut(k, "::")
			cells = append(cells, provider, model)
		} else {
			cells = append(cells, k)
		}
		t.Append(append(cells, summaryCells(s)...)...)

		total.Requests += s.Requests
		total.Failures += s.Failures
		total.PromptTokens += s.PromptTokens
		total.CompletionTokens += s.CompletionTokens
		total.CostUSD += s.CostUSD
		total.TotalLatencyMs += s.TotalLatencyMs
	}
	if len(keys) > 1 {
		cells := []string{"TOTAL"}
		if byModel {
			cells = append(cells, "")
		}
		t.Append(append(cells, summaryCells(total)...)...)
	}
	return t
}

func summaryCells(s usage.Summary) []string {
	return []string{
		strconv.Itoa(s.Requests),
		strconv.Itoa(s.Failures),
		strconv.Itoa(s.PromptTokens),
		strconv.Itoa(s.CompletionTokens),
		fmt.Sprintf("%.4f", s.CostUSD),
		s.AverageLatency().String(),
	}
}

func costChart(daily []usage.DailyCost, provider string, height int) string {
	data := make([]float64, len(daily))
	total := 0.0
	for i, d := range daily {
		data[i] = d.CostUSD
		total += d.CostUSD
	}
	scope := "all providers"
	if provider != "" {
		scope = provider
	}
	caption := fmt.Sprintf("Daily cost in USD, %s, %s to %s (total $%.4f)", scope,
		daily[0].Day.Format(time.DateOnly), daily[len(daily)-1].Day.Format(time.DateOnly), total)

	return asciigraph.Plot(data,
		asciigraph.Height(max(height, 2)),
		asciigraph.Precision(4),
		asciigraph.Caption(caption),
	)
}

// importEvents appends the events whose IDs are not yet in the ledger and
// returns how many were added.
func importEvents(l *usage.Ledger, events []usage.Event, progress cli.ProgressReporter) int {
	seen := make(map[string]struct{}, l.Len())
	for _, e := range l.Events(usage.Range{}) {
		seen[e.ID] = struct{}{}
	}

	progress.Start(int64(len(events)))
	added := 0
	for i, e := range events {
		if _, dup := seen[e.ID]; !dup || e.ID == "" {
			stored := l.Append(e)
			seen[stored.ID] = struct{}{}
			added++
		}
		progress.Update(int64(i + 1))
	}
	progress.Finish()
	return added
}
