// Package orchestrator runs queries against the active provider and keeps
// the conversation history in step with them.
//
// An Orchestrator processes one query at a time. For each query it checks
// that a provider is selected and ready, asks the resource guard whether
// new work is safe, extracts page context, consults the budget preflight,
// appends the user message and calls the provider. Synchronous replies are
// appended as assistant messages once they arrive. Streaming replies get an
// empty assistant placeholder once the stream opens, which is rewritten as
// deltas arrive and finalized before the caller sees the terminal chunk. A
// stream that yields no text gets one synchronous retry, then the fallback
// message.
//
// Every failure is stored as LastError. Failures that no reply can be
// recovered from are also returned to the caller. Status
// changes are published to subscribers:
//
//	o := orchestrator.New(reg, cfg.Conversation,
//		orchestrator.WithHistory(history),
//		orchestrator.WithPreferences(settingsManager),
//	)
//	updates, stop := o.Subscribe(8)
//	defer stop()
//
//	chunks, err := o.ProcessStreamingQuery(ctx, "What changed in this release?")
//	if err != nil {
//		return err
//	}
//	for c := range chunks {
//		if c.Error != nil {
//			return c.Error
//		}
//		fmt.Print(c.Delta)
//	}
package orchestrator
