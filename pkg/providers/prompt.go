package providers

import (
	"context"
	"fmt"
	"strings"
)

// MaxContextChars bounds the page text embedded in a payload.
const MaxContextChars = 32000

// BuildMessages assembles the conversational payload for req: the system
// prompt, the page context, the most recent history entries and the query.
func (c *Core) BuildMessages(req *GenerateRequest) []Message {
	if req.Raw {
		return []Message{{Role: RoleUser, Content: req.Query}}
	}
	msgs := make([]Message, 0, c.cfg.HistoryWindow+3)

	system := c.cfg.SystemPrompt
	if req.SystemPrompt != "" {
		system = req.SystemPrompt
	}
	if system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	if !req.Context.Empty() {
		msgs = append(msgs, Message{Role: RoleSystem, Content: FormatContext(req.Context)})
	}

	history := req.History
	if len(history) > c.cfg.HistoryWindow {
		history = history[len(history)-c.cfg.HistoryWindow:]
	}
	for _, m := range history {
		if m.Content == "" || m.Role == RoleSystem {
			continue
		}
		msgs = append(msgs, m)
	}

	return append(msgs, Message{Role: RoleUser, Content: req.Query})
}

// SplitSystem separates system messages from the conversation for backends
// that take the system prompt as a separate field.
func SplitSystem(msgs []Message) (string, []Message) {
	var (
		system []string
		rest   = make([]Message, 0, len(msgs))
	)
	for _, m := range msgs {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// FormatContext renders page context as prompt text.
func FormatContext(pc *PageContext) string {
	var b strings.Builder
	b.WriteString("The user is looking at the following page. Use it to answer when relevant.\n")
	if pc.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", pc.Title)
	}
	if pc.URL != "" {
		fmt.Fprintf(&b, "URL: %s\n", pc.URL)
	}
	text := pc.Text
	if len(text) > MaxContextChars {
		text = truncateRunes(text, MaxContextChars)
	}
	b.WriteString("\n")
	b.WriteString(text)
	return b.String()
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// SummaryPrompt builds the instruction used to summarize a conversation.
func SummaryPrompt(messages []Message) string {
	var b strings.Builder
	b.WriteString("Summarize the following conversation in a few sentences. ")
	b.WriteString("Keep names, decisions and open questions.\n\n")
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

// RawGenerator is the subset of Provider used for summaries.
type RawGenerator func(ctx context.Context, prompt, model string) (string, error)

// Summarize condenses messages with generate. An empty conversation yields
// an empty summary without a request.
func Summarize(ctx context.Context, generate RawGenerator, messages []Message, model string) (string, error) {
	empty := true
	for _, m := range messages {
		if strings.TrimSpace(m.Content) != "" {
			empty = false
			break
		}
	}
	if empty {
		return "", nil
	}

	summary, err := generate(ctx, SummaryPrompt(messages), model)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(summary), nil
}

// RawRequest wraps a verbatim prompt as a request with no history or context.
func RawRequest(prompt, model string) *GenerateRequest {
	return &GenerateRequest{Query: prompt, Model: model, Raw: true}
}
