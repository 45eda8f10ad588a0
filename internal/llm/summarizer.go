package llm

import (
	"context"
	"strings"

	"crew/internal/chat/ports"
	"crew/internal/shared/jsonx"
)

const summarySystemPrompt = `You compress status updates from a task-processing crew into one short line.
Reply with a single plain-English sentence under 120 characters describing what just happened.
Reply with exactly NONE if the content is internal scaffolding with no value to a human observer.`

const summaryMaxInput = 4000

// Summarizer produces one-line status summaries for the progress feed.
// Pure-JSON tool payloads are suppressed locally; everything else goes
// through the model.
type Summarizer struct {
	client *Client
}

// NewSummarizer wraps client as a ports.Summarizer.
func NewSummarizer(client *Client) *Summarizer {
	return &Summarizer{client: client}
}

// Summarize returns a short status line, or "" with nil error to suppress
// the update entirely.
func (s *Summarizer) Summarize(ctx context.Context, rawContent string, kind ports.TurnKind, speaker ports.Role) (string, error) {
	trimmed := strings.TrimSpace(rawContent)
	if trimmed == "" {
		return "", nil
	}
	if jsonx.IsDocument(trimmed) {
		return "", nil
	}
	if kind == ports.KindControl {
		return "", nil
	}

	input := trimmed
	if len(input) > summaryMaxInput {
		input = input[:summaryMaxInput]
	}

	messages := []chatMessage{
		{Role: "system", Content: summarySystemPrompt},
		{Role: "user", Content: "Speaker: " + string(speaker) + "\nContent:\n" + input},
	}
	summary, err := s.client.Chat(ctx, messages)
	if err != nil {
		return "", err
	}

	summary = strings.TrimSpace(summary)
	if summary == "" || strings.EqualFold(summary, "NONE") {
		return "", nil
	}
	return summary, nil
}

// TruncatingSummarizer is a model-free fallback that clips content to one
// line. Useful in tests and offline runs.
type TruncatingSummarizer struct {
	MaxLen int
}

// Summarize clips rawContent to the first line, at most MaxLen characters.
func (s TruncatingSummarizer) Summarize(_ context.Context, rawContent string, kind ports.TurnKind, _ ports.Role) (string, error) {
	trimmed := strings.TrimSpace(rawContent)
	if trimmed == "" || kind == ports.KindControl || jsonx.IsDocument(trimmed) {
		return "", nil
	}
	if i := strings.IndexByte(trimmed, '\n'); i >= 0 {
		trimmed = trimmed[:i]
	}
	max := s.MaxLen
	if max <= 0 {
		max = 140
	}
	if len(trimmed) > max {
		trimmed = trimmed[:max-3] + "..."
	}
	return trimmed, nil
}
