package worker

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"crew/internal/chat/domain"
	"crew/internal/chat/ports"
	"crew/internal/progress"
	crewerrors "crew/internal/shared/errors"
)

type memorySource struct {
	mu      sync.Mutex
	tasks   []ports.Task
	deleted []string
	// transientFailures errors the first n receives to exercise retry.
	transientFailures int
}

func (s *memorySource) Receive(ctx context.Context) (*ports.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transientFailures > 0 {
		s.transientFailures--
		return nil, crewerrors.NewTransientError(errors.New("queue hiccup"), "queue hiccup")
	}
	if len(s.tasks) == 0 {
		return nil, nil
	}
	task := s.tasks[0]
	s.tasks = s.tasks[1:]
	return &task, nil
}

func (s *memorySource) Delete(_ context.Context, task *ports.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, task.ID)
	return nil
}

func (s *memorySource) deletedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.deleted))
	copy(out, s.deleted)
	return out
}

type capturingPublisher struct {
	mu    sync.Mutex
	calls []string
}

func (p *capturingPublisher) Publish(_ context.Context, taskID string, _ float64, summary string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, taskID+": "+summary)
	return nil
}

func (p *capturingPublisher) all() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}

// scriptedRuntime answers by role: the moderator is told to pick the
// verifier, the planner reports work, the verifier scores a pass.
func scriptedRuntime() *stubRuntime {
	return &stubRuntime{CompleteFunc: func(_ context.Context, role ports.Role, _ string, _ []ports.Turn) (ports.Turn, error) {
		switch role {
		case ports.RoleSystem:
			return ports.Turn{Content: "verifier"}, nil
		case ports.RoleVerifier:
			return ports.Turn{Speaker: role, Content: `{"score": 95}`, Kind: ports.KindText}, nil
		default:
			return ports.Turn{Speaker: role, Content: "completed my part of the work", Kind: ports.KindText}, nil
		}
	}}
}

func smallRoster() *RosterSpec {
	return &RosterSpec{
		FirstSpeaker: ports.RolePlanner,
		Agents: []AgentSpec{
			{Role: ports.RolePlanner, Priority: 1, Prompt: "plan. Task: {{task}}"},
			{Role: ports.RoleVerifier, Priority: 2, Prompt: "score. Task: {{task}}"},
		},
	}
}

func TestWorker_ProcessesAndDeletesTask(t *testing.T) {
	source := &memorySource{tasks: []ports.Task{{ID: "job-1", Content: "write the summary"}}}
	publisher := &capturingPublisher{}

	w, err := New(Options{
		Source:       source,
		Runtime:      scriptedRuntime(),
		Roster:       smallRoster(),
		Publisher:    publisher,
		Logger:       testLogger{},
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(source.deletedIDs()) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if got := source.deletedIDs(); len(got) != 1 || got[0] != "job-1" {
		t.Fatalf("expected job-1 deleted, got %v", got)
	}
	calls := publisher.all()
	if len(calls) == 0 {
		t.Fatalf("expected a terminal outcome published")
	}
	if !strings.HasPrefix(calls[len(calls)-1], "job-1: ") {
		t.Fatalf("unexpected terminal publication %q", calls[len(calls)-1])
	}
}

func TestWorker_RetriesTransientReceiveErrors(t *testing.T) {
	source := &memorySource{
		tasks:             []ports.Task{{ID: "job-2", Content: "retry me"}},
		transientFailures: 2,
	}

	w, err := New(Options{
		Source:       source,
		Runtime:      scriptedRuntime(),
		Roster:       smallRoster(),
		Logger:       testLogger{},
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(source.deletedIDs()) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if got := source.deletedIDs(); len(got) != 1 {
		t.Fatalf("transient receive failures must be retried, deleted=%v", got)
	}
}

func TestWorker_FatalConversationKeepsTaskClaimed(t *testing.T) {
	source := &memorySource{tasks: []ports.Task{{ID: "job-3", Content: "doomed"}}}
	runtime := &stubRuntime{CompleteFunc: func(_ context.Context, role ports.Role, _ string, _ []ports.Turn) (ports.Turn, error) {
		return ports.Turn{}, crewerrors.NewPermanentError(errors.New("bad request"), "bad request")
	}}

	w, err := New(Options{
		Source:       source,
		Runtime:      runtime,
		Roster:       smallRoster(),
		Logger:       testLogger{},
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = w.Run(ctx)

	if got := source.deletedIDs(); len(got) != 0 {
		t.Fatalf("fatally failed tasks must stay claimed, deleted=%v", got)
	}
}

type passthroughSummarizer struct{}

func (passthroughSummarizer) Summarize(_ context.Context, rawContent string, _ ports.TurnKind, _ ports.Role) (string, error) {
	return rawContent, nil
}

func TestWorker_ForgetsFinalizedTasksAfterDelete(t *testing.T) {
	source := &memorySource{tasks: []ports.Task{
		{ID: "job-5", Content: "first"},
		{ID: "job-6", Content: "second"},
	}}
	state, err := progress.NewPublisherState(8)
	if err != nil {
		t.Fatalf("NewPublisherState: %v", err)
	}
	pipeline := progress.NewPipeline(
		progress.Config{Capacity: 8},
		state,
		passthroughSummarizer{},
		&capturingPublisher{},
		testLogger{},
		nil,
	)

	w, err := New(Options{
		Source:       source,
		Runtime:      scriptedRuntime(),
		Roster:       smallRoster(),
		Pipeline:     pipeline,
		Logger:       testLogger{},
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(source.deletedIDs()) == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if got := source.deletedIDs(); len(got) != 2 {
		t.Fatalf("expected both tasks deleted, got %v", got)
	}
	// Deleted tasks must not leave finalized marks behind; the bookkeeping
	// would otherwise grow by one entry per task for the worker's lifetime.
	for _, taskID := range []string{"job-5", "job-6"} {
		if state.Finalized(taskID) {
			t.Fatalf("task %s still marked finalized after deletion", taskID)
		}
	}
}

func TestWorker_New_RequiresSource(t *testing.T) {
	if _, err := New(Options{Runtime: scriptedRuntime(), Logger: testLogger{}}); err == nil {
		t.Fatalf("expected error without a task source")
	}
}

type turnListener struct {
	mu       sync.Mutex
	speakers []ports.Role
}

func (l *turnListener) OnEvent(event ports.ChatEvent) {
	if e, ok := event.(domain.TurnRecordedEvent); ok {
		l.mu.Lock()
		l.speakers = append(l.speakers, e.Turn.Speaker)
		l.mu.Unlock()
	}
}

func (l *turnListener) all() []ports.Role {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ports.Role, len(l.speakers))
	copy(out, l.speakers)
	return out
}

func TestWorker_FirstSpeakerFallsBackToOptions(t *testing.T) {
	source := &memorySource{tasks: []ports.Task{{ID: "job-7", Content: "open with the verifier"}}}
	roster := smallRoster()
	roster.FirstSpeaker = ""
	listener := &turnListener{}

	w, err := New(Options{
		Source:       source,
		Runtime:      scriptedRuntime(),
		Roster:       roster,
		Listener:     listener,
		Logger:       testLogger{},
		FirstSpeaker: ports.RoleVerifier,
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(source.deletedIDs()) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	speakers := listener.all()
	if len(speakers) == 0 {
		t.Fatalf("expected recorded turns")
	}
	if speakers[0] != ports.RoleVerifier {
		t.Fatalf("expected the verifier to open, got %q", speakers[0])
	}
}

func TestWorker_New_RejectsFirstSpeakerOutsideRoster(t *testing.T) {
	roster := smallRoster()
	roster.FirstSpeaker = ""

	_, err := New(Options{
		Source:       &memorySource{},
		Runtime:      scriptedRuntime(),
		Roster:       roster,
		Logger:       testLogger{},
		FirstSpeaker: ports.RolePresenter,
	})
	if err == nil {
		t.Fatalf("expected error for a first speaker missing from the roster")
	}
}

func TestWorker_WritesAuditLog(t *testing.T) {
	dir := t.TempDir()
	source := &memorySource{tasks: []ports.Task{{ID: "job-4", Content: "audited work"}}}

	w, err := New(Options{
		Source:       source,
		Runtime:      scriptedRuntime(),
		Roster:       smallRoster(),
		Logger:       testLogger{},
		AuditDir:     dir,
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(source.deletedIDs()) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	entries, err := filepath.Glob(filepath.Join(dir, "*"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one audit file, got %v", entries)
	}
}
