package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"crew/internal/chat/domain"
	"crew/internal/chat/ports"
	"crew/internal/observability"
	"crew/internal/progress"
	"crew/internal/shared/async"
	crewerrors "crew/internal/shared/errors"
)

// Options wires a worker. Source, Runtime, Roster, Pipeline and Logger are
// required; the rest may be nil or zero for defaults.
type Options struct {
	Source     ports.TaskSource
	Runtime    ports.AgentRuntime
	Roster     *RosterSpec
	Pipeline   *progress.Pipeline
	Publisher  ports.Publisher
	Listener   ports.EventListener
	Logger     ports.Logger
	Clock      ports.Clock
	HumanInput *domain.HumanInputQueues
	Tracer     *observability.TracerProvider

	PolicyConfig   domain.TerminationPolicyConfig
	DetectorConfig domain.LoopDetectorConfig
	HumanInputCfg  domain.HumanInputConfig

	// FirstSpeaker opens conversations when the roster does not name an
	// opening speaker itself.
	FirstSpeaker ports.Role

	AuditDir     string
	PollInterval time.Duration
}

// Worker polls the task source and runs one conversation per task,
// sequentially. Fatal conversation errors leave the task claimed on the
// queue for inspection; terminal outcomes delete it.
type Worker struct {
	opts Options
}

// New validates options and builds a worker.
func New(opts Options) (*Worker, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("worker needs a task source")
	}
	if opts.Runtime == nil {
		return nil, fmt.Errorf("worker needs an agent runtime")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("worker needs a logger")
	}
	if opts.Roster == nil {
		opts.Roster = DefaultRoster()
	}
	if opts.Roster.FirstSpeaker == "" && opts.FirstSpeaker != "" {
		roster := *opts.Roster
		roster.FirstSpeaker = opts.FirstSpeaker
		if err := roster.Validate(); err != nil {
			return nil, err
		}
		opts.Roster = &roster
	}
	if opts.Clock == nil {
		opts.Clock = ports.SystemClock()
	}
	if opts.HumanInput == nil {
		opts.HumanInput = domain.NewHumanInputQueues()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.HumanInputCfg.PollInterval <= 0 {
		opts.HumanInputCfg = domain.DefaultHumanInputConfig()
	}
	return &Worker{opts: opts}, nil
}

// HumanInput exposes the pause/resume queues for external control surfaces.
func (w *Worker) HumanInput() *domain.HumanInputQueues {
	return w.opts.HumanInput
}

// Run polls for tasks until ctx is cancelled. The progress pipeline, when
// present, drains in the same group.
func (w *Worker) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	if w.opts.Pipeline != nil {
		group.Go(func() error { return w.opts.Pipeline.Run(ctx) })
	}
	group.Go(func() error { return w.poll(ctx) })
	return group.Wait()
}

func (w *Worker) poll(ctx context.Context) error {
	w.opts.Logger.Info("worker polling for tasks every %s", w.opts.PollInterval)
	for {
		task, err := w.receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.opts.Logger.Error("task receive failed after retries: %v", err)
			if !w.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}
		if task == nil {
			if !w.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}
		w.runTask(ctx, *task)
	}
}

// receive retries transient queue failures with exponential backoff.
// Permanent failures surface immediately.
func (w *Worker) receive(ctx context.Context) (*ports.Task, error) {
	var task *ports.Task
	operation := func() error {
		t, err := w.opts.Source.Receive(ctx)
		if err != nil {
			if crewerrors.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		task = t
		return nil
	}

	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return task, nil
}

func (w *Worker) runTask(ctx context.Context, task ports.Task) {
	logger := w.opts.Logger
	// A panicking participant or oracle must not take the whole worker down;
	// the task stays claimed for inspection, like any other fatal failure.
	defer async.Recover(logger, "task "+task.ID)
	logger.Info("picked up task %s", task.ID)

	if w.opts.Tracer != nil {
		var span trace.Span
		ctx, span = w.opts.Tracer.StartConversationSpan(ctx, task.ID)
		defer span.End()
	}

	var mirror domain.TurnSink
	var audit *domain.AuditLog
	if w.opts.AuditDir != "" {
		a, err := domain.NewAuditLog(w.opts.AuditDir, task.ID)
		if err != nil {
			logger.Warn("audit log unavailable for task %s: %v", task.ID, err)
		} else {
			audit = a
			mirror = a
			defer func() { _ = audit.Close() }()
		}
	}

	recorder := domain.NewRecorder(w.opts.Clock, logger, mirror)
	detector := domain.NewLoopDetector(w.opts.DetectorConfig)
	policy := domain.NewTerminationPolicy(w.opts.PolicyConfig, detector, logger)

	team := BuildTeam(w.opts.Roster, task, w.opts.Runtime)
	oracle := NewRuntimeOracle(w.opts.Runtime, logger)

	invoke := domain.Compose(
		domain.RawInvoke(),
		domain.WithLogging(logger, w.opts.Clock),
		domain.WithHumanInput(w.opts.HumanInput, task.ID, w.opts.HumanInputCfg, logger),
	)

	var sink ports.ProgressSink
	if w.opts.Pipeline != nil {
		sink = w.opts.Pipeline
	}

	driver := domain.NewDriver(
		recorder,
		policy,
		oracle,
		team,
		invoke,
		sink,
		w.opts.Listener,
		logger,
		w.opts.Clock,
		domain.DriverConfig{FirstSpeaker: w.opts.Roster.FirstSpeaker},
	)

	outcome, err := driver.Run(ctx, task)
	w.opts.HumanInput.Drop(task.ID)

	if err != nil {
		// The claimed task file stays behind for inspection.
		logger.Error("task %s failed fatally: %v", task.ID, err)
		return
	}

	w.publishOutcome(ctx, task, outcome)

	if w.opts.Pipeline != nil {
		w.opts.Pipeline.MarkFinal(task.ID)
	}
	if err := w.opts.Source.Delete(ctx, &task); err != nil {
		logger.Error("failed to delete finished task %s: %v", task.ID, err)
	} else if w.opts.Pipeline != nil {
		// The finalized mark has done its job once the task is gone from the
		// source; evicting it keeps the set bounded across the worker's life.
		w.opts.Pipeline.Forget(task.ID)
	}
	logger.Info("task %s finished: state=%s turns=%d", task.ID, outcome.State, outcome.Turns)
}

// publishOutcome pushes one last update describing the terminal state. It
// bypasses the pipeline so the final message can never be dropped or deduped
// away behind the in-flight queue.
func (w *Worker) publishOutcome(ctx context.Context, task ports.Task, outcome *domain.Outcome) {
	if w.opts.Publisher == nil {
		return
	}
	summary := terminalSummary(outcome)
	if err := w.opts.Publisher.Publish(ctx, task.ID, 1.0, summary); err != nil {
		w.opts.Logger.Warn("failed to publish outcome for task %s: %v", task.ID, err)
	}
}

func terminalSummary(outcome *domain.Outcome) string {
	switch outcome.State {
	case domain.StateSuccess:
		if outcome.Result != "" {
			return outcome.Result
		}
		return "Task completed."
	case domain.StateLoopAbort:
		return fmt.Sprintf("Task aborted: conversation looped (%s).", outcome.Pattern)
	case domain.StateHandoff:
		return "Task handed off: waiting for user input."
	case domain.StateBudgetExhausted:
		return fmt.Sprintf("Task stopped after %d turns without completing.", outcome.Turns)
	}
	return fmt.Sprintf("Task ended in state %s.", outcome.State)
}

func (w *Worker) sleep(ctx context.Context) bool {
	timer := time.NewTimer(w.opts.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
