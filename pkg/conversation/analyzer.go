package conversation

import (
	"strings"
	"sync"

	"mercator-hq/conduit/pkg/processing/tokens"
	"mercator-hq/conduit/pkg/providers"
)

// DefaultContextWindow is used for models with no known context length.
const DefaultContextWindow = 4096

// Stats summarizes a transcript.
type Stats struct {
	// TurnCount is the number of user/assistant exchanges.
	TurnCount int

	// MessageCount is the total number of messages.
	MessageCount int

	// SystemPrompts contains the content of system messages.
	SystemPrompts []string

	// ContextWindowUsage is the estimated token count of the transcript.
	ContextWindowUsage int

	// ContextWindowLimit is the model's context length used for the percentage.
	ContextWindowLimit int

	// ContextWindowPercent is usage/limit (0.0-1.0+).
	ContextWindowPercent float64

	// HasConversationHistory is true once the assistant has replied.
	HasConversationHistory bool

	// AverageMessageLength is the average message length in tokens.
	AverageMessageLength int
}

// Analyzer estimates how much of a model's context window a transcript uses.
type Analyzer struct {
	estimator tokens.Estimator

	mu      sync.RWMutex
	windows map[string]int
}

// NewAnalyzer creates an analyzer. A nil estimator uses the default ratio.
func NewAnalyzer(est tokens.Estimator) *Analyzer {
	if est == nil {
		est = tokens.NewSimpleEstimator(0)
	}
	return &Analyzer{estimator: est, windows: make(map[string]int)}
}

// SetContextWindow registers the context length for models whose ID starts
// with prefix. Descriptor values take precedence.
func (a *Analyzer) SetContextWindow(prefix string, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.windows[prefix] = n
}

// Analyze reports on msgs sent to model.
func (a *Analyzer) Analyze(msgs []Message, model providers.ModelDescriptor) Stats {
	s := Stats{ContextWindowLimit: a.contextWindow(model)}
	if len(msgs) == 0 {
		return s
	}
	s.MessageCount = len(msgs)

	users, assistants := 0, 0
	for _, m := range msgs {
		s.ContextWindowUsage += a.estimator.EstimateText(m.Content)
		if m.Context != nil && !m.Context.Empty() {
			s.ContextWindowUsage += a.estimator.EstimateTexts(m.Context.Title, m.Context.Text)
		}
		switch m.Role {
		case providers.RoleSystem:
			if m.Content != "" {
				s.SystemPrompts = append(s.SystemPrompts, m.Content)
			}
		case providers.RoleUser:
			users++
		case providers.RoleAssistant:
			assistants++
		}
	}

	// An unanswered user message still counts as a turn.
	s.TurnCount = max(users, assistants)
	s.HasConversationHistory = assistants > 0
	s.AverageMessageLength = s.ContextWindowUsage / s.MessageCount
	if s.ContextWindowLimit > 0 {
		s.ContextWindowPercent = float64(s.ContextWindowUsage) / float64(s.ContextWindowLimit)
	}
	return s
}

func (a *Analyzer) contextWindow(model providers.ModelDescriptor) int {
	if model.ContextWindowTokens > 0 {
		return model.ContextWindowTokens
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if limit, ok := a.windows[model.ID]; ok {
		return limit
	}

	// Longest prefix wins so "gpt-4-turbo" is matched before "gpt-4".
	longest, limit := "", 0
	for prefix, n := range a.windows {
		if strings.HasPrefix(model.ID, prefix) && len(prefix) > len(longest) {
			longest, limit = prefix, n
		}
	}
	if longest != "" {
		return limit
	}
	return DefaultContextWindow
}
