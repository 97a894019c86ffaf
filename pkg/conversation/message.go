package conversation

import (
	"time"

	"github.com/google/uuid"

	"mercator-hq/conduit/pkg/providers"
)

// Message is one entry of a conversation.
type Message struct {
	ID        string         `json:"id"`
	Role      providers.Role `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`

	// Context is the page context attached to a user query, if any.
	Context *providers.PageContext `json:"context,omitempty"`

	// Metadata is set on assistant replies once they are complete.
	Metadata *providers.ResponseMetadata `json:"metadata,omitempty"`
}

// NewMessage creates a message with a fresh ID and the current time.
func NewMessage(role providers.Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// ProviderMessage converts m to the form sent to a provider.
func (m Message) ProviderMessage() providers.Message {
	return providers.Message{Role: m.Role, Content: m.Content}
}

// ProviderMessages converts msgs, dropping empty assistant placeholders.
func ProviderMessages(msgs []Message) []providers.Message {
	out := make([]providers.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == providers.RoleAssistant && m.Content == "" {
			continue
		}
		out = append(out, m.ProviderMessage())
	}
	return out
}
