// Package conversation holds the chat transcript the orchestrator works on.
//
// A History stores Messages in order. The orchestrator appends the user
// query, appends an empty assistant placeholder when a streamed reply
// starts, rewrites the placeholder with UpdateContent as chunks arrive, and
// reads the last N messages with Recent when it builds the next request.
//
// MemoryHistory is the in-process implementation. The Analyzer reports turn
// count and context window usage for a transcript:
//
//	h := conversation.NewMemoryHistory(0)
//	h.Append(ctx, conversation.NewMessage(providers.RoleUser, "hello"))
//
//	a := conversation.NewAnalyzer(tokens.NewSimpleEstimator(0))
//	stats := a.Analyze(h.Recent(ctx, 0), model)
//	if stats.ContextWindowPercent > 0.8 {
//		log.Warn("context window nearly full", "percent", stats.ContextWindowPercent)
//	}
package conversation
