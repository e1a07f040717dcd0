package retrieval

import (
	"strings"

	"github.com/stimme-dev/stimme/pkg/provider/llm"
)

// DefaultMaxHistory bounds how many past exchanges (a user message plus its
// response) are carried into a request.
const DefaultMaxHistory = 10

// DefaultPersona is the system prompt used when no persona is configured.
const DefaultPersona = "Du bist ein hilfreicher Sprachassistent. Antworte kurz und natürlich, wie in einem gesprochenen Gespräch."

// PromptBuilder assembles language model requests from the configured persona,
// retrieved context documents, and the bounded conversation history.
type PromptBuilder struct {
	// Persona is the base system prompt. Empty means DefaultPersona.
	Persona string

	// MaxHistory bounds how many trailing exchanges are included, where one
	// exchange is a user message and its response. Zero means
	// DefaultMaxHistory.
	MaxHistory int
}

// Build produces a request for userText. Retrieved documents are appended to
// the system prompt as a context block; history keeps only its most recent
// MaxHistory exchanges.
func (b *PromptBuilder) Build(history []llm.Message, results []Result, userText string) llm.Request {
	persona := b.Persona
	if persona == "" {
		persona = DefaultPersona
	}

	var sb strings.Builder
	sb.WriteString(persona)
	if len(results) > 0 {
		sb.WriteString("\n\nRelevanter Kontext aus früheren Gesprächen und Dokumenten:")
		for _, r := range results {
			content := strings.TrimSpace(r.Document.Content)
			if content == "" {
				continue
			}
			sb.WriteString("\n- ")
			sb.WriteString(content)
		}
	}

	maxHistory := b.MaxHistory
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	// One exchange holds up to two messages.
	if limit := 2 * maxHistory; len(history) > limit {
		history = history[len(history)-limit:]
	}

	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: userText})

	return llm.Request{
		SystemPrompt: sb.String(),
		Messages:     messages,
	}
}
