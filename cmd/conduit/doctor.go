package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/conduit/pkg/cli"
	"mercator-hq/conduit/pkg/telemetry/health"
)

var doctorFlags struct {
	timeout time.Duration
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, storage and provider connectivity",
	Long: `Initialize every registered provider and report which ones are usable,
together with the state of the usage database and the active provider.

Exits non-zero when a check fails.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			ctx, cancel := context.WithTimeout(ctx, doctorFlags.timeout)
			defer cancel()

			out := cmd.OutOrStdout()
			s := cli.NewStyler(out)
			fmt.Fprintf(out, "%s %s\n", s.Bold("Config:"), a.cfgPath)
			fmt.Fprintf(out, "%s %s\n\n", s.Bold("Data:  "), a.cfg.DataDir)

			if err := a.restore(ctx); err != nil {
				fmt.Fprintf(out, "%s %v\n\n", s.Warn("!"), err)
			}
			for _, p := range a.registry.Providers() {
				if err := p.Initialize(ctx); err != nil {
					a.logger.Debug("provider initialization failed", "provider", p.ID(), "error", err)
				}
				a.tel.Health().RegisterCheck("provider:"+p.ID(), health.ProviderCheck(p))
			}

			status := a.tel.Health().CheckReadiness(ctx)
			writeHealth(out, status, s)
			if !status.Ready() {
				return cli.NewCommandError("doctor", fmt.Errorf("%s", status.Status))
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().DurationVar(&doctorFlags.timeout, "timeout", 30*time.Second, "overall time limit for the checks")
}

func writeHealth(w io.Writer, status health.HealthStatus, s *cli.Styler) {
	t := &cli.Table{Headers: []string{"CHECK", "STATUS", "TIME", "DETAIL"}}
	for _, name := range status.Names() {
		r := status.Checks[name]
		mark := s.Success(r.Status)
		if r.Status != health.StatusOK {
			mark = s.Error(r.Status)
		}
		t.Append(name, mark, r.Duration.Round(time.Millisecond).String(), r.Message)
	}
	_ = cli.NewFormatter(cli.FormatText).FormatTo(w, t)
}
