package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/conduit/pkg/cli"
	"mercator-hq/conduit/pkg/orchestrator"
	"mercator-hq/conduit/pkg/providers"
	"mercator-hq/conduit/pkg/registry"
)

var chatFlags struct {
	file     string
	url      string
	noStream bool
	provider string
	model    string
}

var chatCmd = &cobra.Command{
	Use:   "chat [question]",
	Short: "Talk to the active provider",
	Long: `Send a question to the active provider and print the reply as it streams.

Without a question an interactive session starts. In a session, Ctrl+C
cancels the reply in progress and Ctrl+D or /quit ends the session.

Session commands:
  /reset           forget the conversation
  /summary         summarize the conversation so far
  /context         summarize the attached file
  /usage           context window use and today's spend
  /provider <id>   switch provider
  /model <id>      select a model of the active provider
  /quit            end the session

Examples:
  conduit chat "what is a circuit breaker?"
  conduit chat --file README.md "what does this project do?"
  conduit chat --provider anthropic`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVar(&chatFlags.file, "file", "", "attach a local file as page context")
	chatCmd.Flags().StringVar(&chatFlags.url, "url", "", "URL reported with the attached file")
	chatCmd.Flags().BoolVar(&chatFlags.noStream, "no-stream", false, "wait for the complete reply")
	chatCmd.Flags().StringVarP(&chatFlags.provider, "provider", "p", "", "switch to this provider first")
	chatCmd.Flags().StringVarP(&chatFlags.model, "model", "m", "", "select this model first")
}

func runChat(cmd *cobra.Command, args []string) error {
	interactive := len(args) == 0
	return withApp(cmd, interactive, func(ctx context.Context, a *app) error {
		if err := a.restore(ctx); err != nil {
			return err
		}
		if chatFlags.provider != "" {
			if err := a.registry.SwitchTo(ctx, chatFlags.provider); err != nil {
				return cli.NewCommandError("chat", err)
			}
		}
		if chatFlags.model != "" {
			if err := a.registry.SelectModel(ctx, a.registry.ActiveID(), chatFlags.model); err != nil {
				return cli.NewCommandError("chat", err)
			}
		}

		var extractor orchestrator.ContextExtractor
		if chatFlags.file != "" {
			extractor = orchestrator.FileExtractor{Path: chatFlags.file, URL: chatFlags.url}
		}
		s := &chatSession{
			app:    a,
			orch:   a.newOrchestrator(extractor),
			out:    cmd.OutOrStdout(),
			errOut: cmd.ErrOrStderr(),
			style:  cli.NewStyler(cmd.OutOrStdout()),
			stream: !chatFlags.noStream,
		}

		if !interactive {
			return s.ask(ctx, strings.Join(args, " "))
		}

		// The session outlives the first interrupt; interrupts cancel the
		// reply in progress instead.
		sessionCtx, endSession := context.WithCancel(context.WithoutCancel(ctx))
		defer endSession()
		a.runBackground(sessionCtx)
		return s.repl(sessionCtx, endSession, cmd.InOrStdin())
	})
}

// chatSession prints replies of one conversation.
type chatSession struct {
	app    *app
	orch   *orchestrator.Orchestrator
	out    io.Writer
	errOut io.Writer
	style  *cli.Styler
	stream bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (s *chatSession) repl(ctx context.Context, endSession context.CancelFunc, in io.Reader) error {
	sigs, stopSigs := cli.Interrupts()
	defer stopSigs()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigs:
				if !s.cancelReply() {
					endSession()
					return
				}
			}
		}
	}()

	events, unsubscribe := s.app.registry.Subscribe(8)
	defer unsubscribe()
	go s.announce(ctx, events)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	p := s.app.registry.Active()
	fmt.Fprintf(s.out, "%s %s (%s). /quit to exit.\n", s.style.Bold("Connected to"), p.ID(), p.Descriptor().SelectedModel)
	for {
		fmt.Fprint(s.out, s.style.Bold("> "))
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(s.out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(s.out)
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}

		if name, arg, ok := parseSlash(line); ok {
			if name == "quit" || name == "exit" {
				return nil
			}
			if err := s.command(ctx, name, arg); err != nil {
				s.printError(err)
			}
			continue
		}
		if err := s.ask(ctx, line); err != nil {
			s.printError(err)
		}
	}
}

// ask sends one question and prints the reply. In a session an interrupt
// cancels only this reply.
func (s *chatSession) ask(ctx context.Context, query string) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}()

	if !s.stream {
		resp, err := s.orch.ProcessQuery(ctx, query)
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, resp.Text)
		s.footer(&resp.Metadata)
		return nil
	}

	chunks, err := s.orch.ProcessStreamingQuery(ctx, query)
	if err != nil {
		return err
	}
	for chunk := range chunks {
		switch {
		case chunk.Error != nil:
			fmt.Fprintln(s.out)
			// Drain so the conversation is finalized before the next query.
			for range chunks {
			}
			return chunk.Error
		case chunk.Done:
			fmt.Fprintln(s.out)
			s.footer(chunk.Metadata)
		default:
			fmt.Fprint(s.out, chunk.Delta)
		}
	}
	return nil
}

func (s *chatSession) cancelReply() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	s.cancel = nil
	return true
}

func (s *chatSession) command(ctx context.Context, name, arg string) error {
	switch name {
	case "reset":
		if err := s.orch.ResetConversationState(ctx); err != nil {
			return err
		}
		fmt.Fprintln(s.out, s.style.Muted("Conversation cleared."))
	case "summary":
		summary, err := s.orch.SummarizeConversation(ctx)
		if err != nil {
			return err
		}
		if summary == "" {
			summary = "Nothing to summarize yet."
		}
		fmt.Fprintln(s.out, summary)
	case "context":
		summary, err := s.orch.SummarizeContext(ctx)
		if err != nil {
			return err
		}
		if summary == "" {
			summary = "No file attached (use --file)."
		}
		fmt.Fprintln(s.out, summary)
	case "usage":
		return s.usage(ctx)
	case "provider":
		if arg == "" {
			return errors.New("usage: /provider <id>")
		}
		return s.app.registry.SwitchTo(ctx, arg)
	case "model":
		if arg == "" {
			return errors.New("usage: /model <id>")
		}
		return s.app.registry.SelectModel(ctx, s.app.registry.ActiveID(), arg)
	case "help":
		fmt.Fprintln(s.out, "/reset /summary /context /usage /provider <id> /model <id> /quit")
	default:
		return fmt.Errorf("unknown command /%s (try /help)", name)
	}
	return nil
}

func (s *chatSession) usage(ctx context.Context) error {
	stats, err := s.orch.ContextUsage(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Turns: %d, messages: %d\n", stats.TurnCount, stats.MessageCount)
	if stats.ContextWindowLimit > 0 {
		fmt.Fprintf(s.out, "Context: %d of %d tokens (%.0f%%)\n",
			stats.ContextWindowUsage, stats.ContextWindowLimit, stats.ContextWindowPercent*100)
	} else {
		fmt.Fprintf(s.out, "Context: %d tokens\n", stats.ContextWindowUsage)
	}

	today := lastDays(1, time.Now())
	spend := s.app.ledger.Aggregate(true, today)
	for _, provider := range slices.Sorted(maps.Keys(spend)) {
		sum := spend[provider]
		fmt.Fprintf(s.out, "Today on %s: %d requests, %d tokens, $%.4f\n",
			provider, sum.Requests, sum.PromptTokens+sum.CompletionTokens, sum.CostUSD)
	}
	return nil
}

// announce prints registry changes that happen while the session runs,
// such as a provider appearing after its key was stored.
func (s *chatSession) announce(ctx context.Context, events <-chan registry.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			var msg string
			switch ev.Kind {
			case registry.EventAdded:
				msg = fmt.Sprintf("provider %s is now available", ev.Provider)
			case registry.EventRemoved:
				msg = fmt.Sprintf("provider %s was removed", ev.Provider)
			case registry.EventSwitched:
				msg = fmt.Sprintf("now using %s", ev.Provider)
			case registry.EventSwitchFailed:
				msg = fmt.Sprintf("could not switch to %s: %v", ev.Provider, ev.Err)
			case registry.EventModelChanged:
				msg = fmt.Sprintf("%s now uses %s", ev.Provider, ev.Model)
			}
			if msg != "" {
				fmt.Fprintln(s.errOut, s.style.Muted("["+msg+"]"))
			}
		}
	}
}

func (s *chatSession) footer(meta *providers.ResponseMetadata) {
	if meta == nil || meta.Provider == "" {
		return
	}
	fmt.Fprintln(s.errOut, s.style.Muted(describeMetadata(meta)))
}

func (s *chatSession) printError(err error) {
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(s.errOut, s.style.Muted("(cancelled)"))
		return
	}
	fmt.Fprintf(s.errOut, "%s %v\n", s.style.Error("error:"), err)
}

// parseSlash splits "/name arg" into its parts.
func parseSlash(line string) (name, arg string, ok bool) {
	if !strings.HasPrefix(line, "/") {
		return "", "", false
	}
	name, arg, _ = strings.Cut(strings.TrimPrefix(line, "/"), " ")
	return strings.ToLower(name), strings.TrimSpace(arg), name != ""
}

func describeMetadata(meta *providers.ResponseMetadata) string {
	parts := []string{meta.Provider + "/" + meta.Model}
	tokens := fmt.Sprintf("%d+%d tokens", meta.Usage.PromptTokens, meta.Usage.CompletionTokens)
	if meta.Usage.Estimated {
		tokens = "~" + tokens
	}
	parts = append(parts, tokens)
	if meta.EstimatedCostUSD != nil {
		parts = append(parts, fmt.Sprintf("$%.5f", *meta.EstimatedCostUSD))
	}
	if meta.Latency > 0 {
		parts = append(parts, meta.Latency.Round(10*time.Millisecond).String())
	}
	if meta.ContextIncluded {
		parts = append(parts, "with context")
	}
	return strings.Join(parts, " · ")
}
