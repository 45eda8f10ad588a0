package ports

import (
	"context"
	"time"
)

// Logger defines a minimal, printf-style logging contract.
//
// It intentionally matches internal/shared/logging so domain code can depend
// on this package alone.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Clock abstracts wall-clock time so engines can be tested deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// Participant is one member of the roster. Invoke may return more than one
// turn (a reply plus nested tool-call turns) and may take seconds to minutes.
type Participant interface {
	Name() Role
	Invoke(ctx context.Context, history []Turn) ([]Turn, error)
}

// SpeakerOracle picks who speaks next. The choice is model-driven and
// non-deterministic; it may return the same participant twice in a row.
type SpeakerOracle interface {
	SelectNext(ctx context.Context, history []Turn, roster []Participant) (Participant, error)
}

// AgentRuntime is the black-box chat-completion boundary: given a role, a
// system prompt and the message history, produce the next turn.
type AgentRuntime interface {
	Complete(ctx context.Context, role Role, systemPrompt string, history []Turn) (Turn, error)
}

// Summarizer turns raw turn content into a short human-readable status line.
// An empty summary with a nil error means "suppress this update" (pure-JSON
// tool payloads, internal scaffolding and the like never reach subscribers).
type Summarizer interface {
	Summarize(ctx context.Context, rawContent string, kind TurnKind, speaker Role) (string, error)
}

// Publisher delivers one progress update to the external pub/sub channel.
// Failures are logged by callers and never retried synchronously.
type Publisher interface {
	Publish(ctx context.Context, taskID string, percentage float64, summary string) error
}

// ProgressUpdate is one conversation update destined for the live feed.
type ProgressUpdate struct {
	TaskID     string
	Percentage float64
	RawContent string
	Kind       TurnKind
	Speaker    Role
}

// ProgressSink accepts updates without ever blocking the caller. Offer is
// best-effort: under backpressure the oldest queued update is dropped.
type ProgressSink interface {
	Offer(update ProgressUpdate)
}

// TaskSource is the external job queue the worker polls. Receive returns
// (nil, nil) when no task is currently available.
type TaskSource interface {
	Receive(ctx context.Context) (*Task, error)
	Delete(ctx context.Context, task *Task) error
}
