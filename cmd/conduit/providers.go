package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/conduit/pkg/cli"
	"mercator-hq/conduit/pkg/providers"
)

var providersFlags struct {
	format string
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List, switch and configure providers",
	Long: `Inspect and switch the model providers conduit can talk to.

The local provider is always registered. Hosted providers appear once an
API key is stored for them (see "conduit keys set") or, for endpoints
that need none, as soon as they are configured.

Examples:
  # Show every provider and which one is active
  conduit providers list

  # Make OpenAI the active provider
  conduit providers switch openai

  # Pick a model
  conduit providers select-model openai gpt-4o-mini`,
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered providers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := cli.ParseFormat(providersFlags.format)
		if err != nil {
			return err
		}
		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			return listProviders(ctx, cmd, a, format)
		})
	},
}

var providersSwitchCmd = &cobra.Command{
	Use:   "switch <provider>",
	Short: "Make a provider active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			if err := a.registry.SwitchTo(ctx, args[0]); err != nil {
				return cli.NewCommandError("switch", err)
			}
			p := a.registry.Active()
			s := cli.NewStyler(cmd.OutOrStdout())
			fmt.Fprintf(cmd.OutOrStdout(), "%s Active provider: %s (%s)\n",
				s.Success("✓"), p.ID(), p.Descriptor().SelectedModel)
			return nil
		})
	},
}

var providersModelsCmd = &cobra.Command{
	Use:   "models [provider]",
	Short: "List the models of a provider",
	Long:  `List the models a provider offers. Defaults to the active provider.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := cli.ParseFormat(providersFlags.format)
		if err != nil {
			return err
		}
		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			p, err := initializedProvider(ctx, a, args)
			if err != nil {
				return err
			}
			return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), modelTable(p.Descriptor()))
		})
	},
}

var providersSelectModelCmd = &cobra.Command{
	Use:   "select-model <provider> <model>",
	Short: "Select the model a provider uses",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			if _, err := initializedProvider(ctx, a, args[:1]); err != nil {
				return err
			}
			if err := a.registry.SelectModel(ctx, args[0], args[1]); err != nil {
				return cli.NewCommandError("select-model", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s now uses %s\n", args[0], args[1])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
	providersCmd.AddCommand(providersListCmd, providersSwitchCmd, providersModelsCmd, providersSelectModelCmd)

	providersCmd.PersistentFlags().StringVarP(&providersFlags.format, "format", "f", "text", "output format (text, json, csv)")
}

func listProviders(ctx context.Context, cmd *cobra.Command, a *app, format cli.OutputFormat) error {
	selected, err := a.settings.SelectedProvider(ctx)
	if err != nil {
		return err
	}
	if selected == "" {
		selected = a.registry.LocalID()
	}

	s := cli.NewStyler(cmd.OutOrStdout())
	if format != cli.FormatText {
		s = nil
	}
	t := &cli.Table{Headers: []string{"ACTIVE", "ID", "NAME", "KIND", "MODEL"}}
	for _, d := range a.registry.Descriptors() {
		marker := ""
		if d.ID == selected {
			marker = s.Success("*")
		}
		model := d.SelectedModel
		if m, _ := a.settings.SelectedModel(ctx, d.ID); m != "" {
			model = m
		}
		if model == "" {
			model = s.Muted("(default)")
		}
		t.Append(marker, d.ID, d.DisplayName, string(d.Kind), model)
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), t)
}

// initializedProvider returns the named provider, or the active one when
// args is empty, with its model catalog loaded.
func initializedProvider(ctx context.Context, a *app, args []string) (providers.Provider, error) {
	if len(args) == 0 {
		if err := a.restore(ctx); err != nil {
			return nil, err
		}
		return a.registry.Active(), nil
	}
	p, ok := a.registry.Get(args[0])
	if !ok {
		return nil, cli.NewCommandError("providers", fmt.Errorf("provider %q is not registered (is its key set?)", args[0]))
	}
	if err := p.Initialize(ctx); err != nil {
		return nil, cli.NewCommandError("providers", err)
	}
	return p, nil
}

func modelTable(d providers.Descriptor) *cli.Table {
	t := &cli.Table{Headers: []string{"SELECTED", "ID", "NAME", "CONTEXT", "INPUT $/M", "OUTPUT $/M"}}
	for _, m := range d.Models {
		marker := ""
		if m.ID == d.SelectedModel {
			marker = "*"
		}
		ctxLen, in, out := "-", "-", "-"
		if m.ContextWindowTokens > 0 {
			ctxLen = strconv.Itoa(m.ContextWindowTokens)
		}
		if m.Pricing != nil {
			in = strconv.FormatFloat(m.Pricing.InputPerMillion, 'f', -1, 64)
			out = strconv.FormatFloat(m.Pricing.OutputPerMillion, 'f', -1, 64)
		}
		t.Append(marker, m.ID, strings.TrimSpace(m.Name), ctxLen, in, out)
	}
	return t
}
