package domain

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"crew/internal/chat/ports"
	crewerrors "crew/internal/shared/errors"
)

// Driver states. A driver runs exactly one conversation.
const (
	driverNotStarted int32 = iota
	driverRunning
	driverTerminated
)

// DriverConfig tunes the group-chat loop.
type DriverConfig struct {
	// FirstSpeaker is the static priority rule for the opening turn; the
	// oracle takes over afterwards.
	FirstSpeaker ports.Role
}

// Outcome is what the caller of a conversation receives. Exactly one of the
// terminal states is reported; fatal oracle/participant failures surface as
// a returned error instead.
type Outcome struct {
	State    TerminationState
	Result   string
	Score    int
	HasScore bool
	Pattern  LoopPattern
	Turns    int
	Duration time.Duration
}

// Driver runs the turn loop for one conversation: ask the oracle who speaks
// next, invoke that participant, record every produced turn, evaluate the
// termination policy, repeat. The driver never chooses the next speaker
// itself, but it owns every termination and loop-safety decision.
type Driver struct {
	recorder *Recorder
	policy   *TerminationPolicy
	oracle   ports.SpeakerOracle
	roster   []ports.Participant
	invoke   InvokeFunc
	progress ports.ProgressSink
	listener ports.EventListener
	logger   ports.Logger
	clock    ports.Clock
	cfg      DriverConfig

	state atomic.Int32
}

// NewDriver wires a driver. progress and listener may be nil; invoke may be
// nil, in which case participants are invoked directly.
func NewDriver(
	recorder *Recorder,
	policy *TerminationPolicy,
	oracle ports.SpeakerOracle,
	roster []ports.Participant,
	invoke InvokeFunc,
	progress ports.ProgressSink,
	listener ports.EventListener,
	logger ports.Logger,
	clock ports.Clock,
	cfg DriverConfig,
) *Driver {
	if clock == nil {
		clock = ports.SystemClock()
	}
	if invoke == nil {
		invoke = RawInvoke()
	}
	if cfg.FirstSpeaker == "" {
		cfg.FirstSpeaker = ports.RolePlanner
	}
	return &Driver{
		recorder: recorder,
		policy:   policy,
		oracle:   oracle,
		roster:   roster,
		invoke:   invoke,
		progress: progress,
		listener: listener,
		logger:   logger,
		clock:    clock,
		cfg:      cfg,
	}
}

// Run drives the conversation for task until the termination policy returns
// a terminal signal or the turn budget runs out. A non-nil error means the
// oracle or a participant failed fatally; the conversation is then aborted
// with a terminal error turn and not retried here.
func (d *Driver) Run(ctx context.Context, task ports.Task) (*Outcome, error) {
	if !d.state.CompareAndSwap(driverNotStarted, driverRunning) {
		return nil, fmt.Errorf("conversation for task %s already started", task.ID)
	}
	defer d.state.Store(driverTerminated)

	start := d.clock.Now()
	d.logger.Info("starting conversation for task %s", task.ID)
	d.emit(ConversationStartEvent{BaseEvent: d.baseEvent(task.ID), Task: task})

	// The task statement reaches participants through their per-task system
	// prompts; only what participants actually say becomes a turn.
	signal := TerminationSignal{State: StateRunning}

	first := true
	for !signal.State.Terminal() {
		if err := ctx.Err(); err != nil {
			d.logger.Info("conversation for task %s cancelled: %v", task.ID, err)
			return nil, err
		}

		speaker, err := d.nextSpeaker(ctx, first)
		first = false
		if err != nil {
			return nil, d.abort(task.ID, "", fmt.Errorf("next speaker selection failed: %w", err))
		}
		d.emit(SpeakerSelectedEvent{BaseEvent: d.baseEvent(task.ID), Speaker: speaker.Name()})

		produced, err := d.invoke(ctx, speaker, d.recorder.All())
		if err != nil {
			return nil, d.abort(task.ID, speaker.Name(), fmt.Errorf("participant %s failed: %w", speaker.Name(), err))
		}
		if len(produced) == 0 {
			// A silent participant still consumes a turn, so degenerate
			// silence stays visible to the loop detector.
			produced = []ports.Turn{{Speaker: speaker.Name(), Kind: ports.KindText}}
		}

		for _, turn := range produced {
			if turn.Speaker == "" {
				turn.Speaker = speaker.Name()
			}
			signal = d.record(task.ID, turn)
			if signal.State.Terminal() {
				break
			}
		}
	}

	outcome := &Outcome{
		State:    signal.State,
		Result:   d.lastMeaningfulOutput(),
		Score:    signal.Score,
		HasScore: signal.HasScore,
		Pattern:  signal.Pattern,
		Turns:    d.recorder.Len(),
		Duration: d.clock.Now().Sub(start),
	}
	d.logger.Info("conversation for task %s ended: state=%s turns=%d reason=%s",
		task.ID, signal.State, outcome.Turns, signal.Reason)
	d.emit(ConversationEndEvent{
		BaseEvent: d.baseEvent(task.ID),
		Signal:    signal,
		Turns:     outcome.Turns,
		Duration:  outcome.Duration,
	})
	return outcome, nil
}

// record appends one turn, notifies listeners, offers a best-effort progress
// update and synchronously re-evaluates the termination policy on the turns
// visible at this point.
func (d *Driver) record(taskID string, turn ports.Turn) TerminationSignal {
	appended := d.recorder.Append(turn)
	d.emit(TurnRecordedEvent{BaseEvent: d.baseEvent(taskID), Turn: appended})
	d.offerProgress(taskID, appended)
	return d.policy.Evaluate(d.recorder.All())
}

func (d *Driver) nextSpeaker(ctx context.Context, first bool) (ports.Participant, error) {
	if first {
		if opener := d.participantByRole(d.cfg.FirstSpeaker); opener != nil {
			return opener, nil
		}
	}
	speaker, err := d.oracle.SelectNext(ctx, d.recorder.All(), d.roster)
	if err != nil {
		return nil, err
	}
	if speaker == nil || d.participantByRole(speaker.Name()) == nil {
		return nil, fmt.Errorf("oracle returned a participant outside the roster")
	}
	return speaker, nil
}

func (d *Driver) participantByRole(role ports.Role) ports.Participant {
	for _, participant := range d.roster {
		if participant.Name() == role {
			return participant
		}
	}
	return nil
}

// abort records the failure as a terminal control turn and surfaces the
// error to the caller. Retries, if any, belong to the runtime behind the
// participant, not to the driver.
func (d *Driver) abort(taskID string, speaker ports.Role, err error) error {
	d.logger.Error("aborting conversation for task %s: %v", taskID, err)
	if speaker == "" {
		speaker = ports.RoleSystem
	}
	d.recorder.Append(ports.Turn{
		Speaker: speaker,
		Content: crewerrors.FormatForLLM(err),
		Kind:    ports.KindControl,
		Metadata: map[string]any{
			"fatal": true,
			"error": err.Error(),
		},
	})
	d.emit(ParticipantErrorEvent{BaseEvent: d.baseEvent(taskID), Speaker: speaker, Err: err})
	return err
}

// offerProgress never blocks and never fails the conversation.
func (d *Driver) offerProgress(taskID string, turn ports.Turn) {
	if d.progress == nil {
		return
	}
	percentage := float64(turn.SequenceIndex) / float64(d.policy.TurnBudget())
	if pct, ok := ExtractProgressPercent(turn.Content); ok {
		percentage = float64(pct) / 100
	}
	if percentage < 0 {
		percentage = 0
	}
	if percentage > 1 {
		percentage = 1
	}
	d.progress.Offer(ports.ProgressUpdate{
		TaskID:     taskID,
		Percentage: percentage,
		RawContent: turn.Content,
		Kind:       turn.Kind,
		Speaker:    turn.Speaker,
	})
}

func (d *Driver) lastMeaningfulOutput() string {
	turns := d.recorder.All()
	// Prefer the presenter's final message, then any trailing non-empty text.
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Speaker == ports.RolePresenter && strings.TrimSpace(turns[i].Content) != "" {
			return turns[i].Content
		}
	}
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Kind == ports.KindText && strings.TrimSpace(turns[i].Content) != "" {
			return turns[i].Content
		}
	}
	return ""
}

func (d *Driver) emit(event ports.ChatEvent) {
	if d.listener != nil {
		d.listener.OnEvent(event)
	}
}

func (d *Driver) baseEvent(taskID string) BaseEvent {
	return BaseEvent{TaskID: taskID, Time: d.clock.Now()}
}
