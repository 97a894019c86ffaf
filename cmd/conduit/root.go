package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/conduit/pkg/cli"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "conduit",
	Short: "Conduit - one conversation interface over many model providers",
	Long: `Conduit routes a conversation to a local or hosted language model.

It provides:
  - A provider registry with a local default and switchable hosted providers
  - Retries with backoff, request pacing and a per-provider circuit breaker
  - Token usage and cost tracking with CSV and JSON export
  - Daily and monthly spending budgets that alert or block`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with a status that reflects the
// kind of failure.
func Execute() {
	ctx, stop := cli.SetupSignalHandler(context.Background())
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.ExitCode(err))
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default is $XDG_CONFIG_HOME/conduit/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// withApp builds the application for one command and closes it afterwards.
func withApp(cmd *cobra.Command, watch bool, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, appOptions{configPath: cfgFile, verbose: verbose, watch: watch})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
