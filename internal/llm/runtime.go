package llm

import (
	"context"
	"fmt"
	"strings"

	"crew/internal/chat/ports"
)

// Runtime adapts the chat completions client to the agent runtime boundary.
// Each role sees the shared transcript rendered as labeled lines so the model
// can follow who said what without per-role message threading.
type Runtime struct {
	client *Client
	clock  ports.Clock
}

// NewRuntime wraps client as a ports.AgentRuntime.
func NewRuntime(client *Client, clock ports.Clock) *Runtime {
	if clock == nil {
		clock = ports.SystemClock()
	}
	return &Runtime{client: client, clock: clock}
}

// Complete produces the next turn for role given the transcript so far.
func (r *Runtime) Complete(ctx context.Context, role ports.Role, systemPrompt string, history []ports.Turn) (ports.Turn, error) {
	messages := []chatMessage{{Role: "system", Content: systemPrompt}}
	if transcript := renderTranscript(history); transcript != "" {
		messages = append(messages, chatMessage{Role: "user", Content: transcript})
	}

	content, err := r.client.Chat(ctx, messages)
	if err != nil {
		return ports.Turn{}, err
	}

	return ports.Turn{
		Speaker:   role,
		Content:   strings.TrimSpace(content),
		Kind:      ports.KindText,
		Timestamp: r.clock.Now(),
	}, nil
}

func renderTranscript(history []ports.Turn) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, turn := range history {
		content := turn.Content
		if content == "" {
			content = "(silent)"
		}
		fmt.Fprintf(&b, "[%s] %s\n", turn.Speaker, content)
	}
	return b.String()
}
