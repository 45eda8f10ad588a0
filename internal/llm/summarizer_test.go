package llm

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"crew/internal/chat/ports"
)

func TestSummarizer_SuppressesWithoutCallingModel(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_, _ = w.Write([]byte(completionResponse("should not be used")))
	})
	summarizer := NewSummarizer(client)

	cases := []struct {
		name    string
		content string
		kind    ports.TurnKind
	}{
		{"empty content", "", ports.KindText},
		{"whitespace", "   \n", ports.KindText},
		{"pure json object", `{"tool": "grep", "args": ["x"]}`, ports.KindToolResult},
		{"pure json array", `[1, 2, 3]`, ports.KindToolResult},
		{"control turn", "HANDOFF_TO_USER", ports.KindControl},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			summary, err := summarizer.Summarize(context.Background(), tc.content, tc.kind, ports.RoleCoder)
			if err != nil {
				t.Fatalf("Summarize: %v", err)
			}
			if summary != "" {
				t.Fatalf("expected suppression, got %q", summary)
			}
		})
	}
	if calls != 0 {
		t.Fatalf("suppressed content must never reach the model, got %d calls", calls)
	}
}

func TestSummarizer_DelegatesToModel(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(completionResponse("Compiling the parser module.")))
	})
	summarizer := NewSummarizer(client)

	summary, err := summarizer.Summarize(context.Background(), "long build output here", ports.KindText, ports.RoleCoder)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary != "Compiling the parser module." {
		t.Fatalf("unexpected summary %q", summary)
	}
}

func TestSummarizer_NoneReplySuppresses(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(completionResponse("NONE")))
	})
	summarizer := NewSummarizer(client)

	summary, err := summarizer.Summarize(context.Background(), "internal scaffolding chatter", ports.KindText, ports.RolePlanner)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary != "" {
		t.Fatalf("NONE must suppress the update, got %q", summary)
	}
}

func TestSummarizer_ErrorsPropagate(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	summarizer := NewSummarizer(client)

	if _, err := summarizer.Summarize(context.Background(), "real content", ports.KindText, ports.RoleCoder); err == nil {
		t.Fatalf("expected the backend error propagated")
	}
}

func TestTruncatingSummarizer(t *testing.T) {
	s := TruncatingSummarizer{MaxLen: 20}

	summary, err := s.Summarize(context.Background(), "first line of output\nsecond line", ports.KindText, ports.RoleCoder)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if strings.Contains(summary, "\n") {
		t.Fatalf("summary must be a single line, got %q", summary)
	}
	if len(summary) > 20 {
		t.Fatalf("summary exceeds the limit: %q", summary)
	}

	if got, _ := s.Summarize(context.Background(), `{"k": "v"}`, ports.KindToolResult, ports.RoleCoder); got != "" {
		t.Fatalf("pure JSON must be suppressed, got %q", got)
	}
}
