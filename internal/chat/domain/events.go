package domain

import (
	"time"

	"crew/internal/chat/ports"
)

// BaseEvent carries the fields shared by every chat event.
type BaseEvent struct {
	TaskID string
	Time   time.Time
}

func (b BaseEvent) OccurredAt() time.Time { return b.Time }
func (b BaseEvent) GetTaskID() string     { return b.TaskID }

// ConversationStartEvent fires once when the driver begins a task.
type ConversationStartEvent struct {
	BaseEvent
	Task ports.Task
}

func (ConversationStartEvent) EventType() string { return "conversation_start" }

// SpeakerSelectedEvent fires after the oracle (or the static first-speaker
// rule) picks the next participant.
type SpeakerSelectedEvent struct {
	BaseEvent
	Speaker ports.Role
}

func (SpeakerSelectedEvent) EventType() string { return "speaker_selected" }

// TurnRecordedEvent fires after every append to the turn recorder.
type TurnRecordedEvent struct {
	BaseEvent
	Turn ports.Turn
}

func (TurnRecordedEvent) EventType() string { return "turn_recorded" }

// ParticipantErrorEvent fires when a participant invocation or the speaker
// oracle fails fatally.
type ParticipantErrorEvent struct {
	BaseEvent
	Speaker ports.Role
	Err     error
}

func (ParticipantErrorEvent) EventType() string { return "participant_error" }

// ConversationEndEvent fires exactly once with the terminal signal.
type ConversationEndEvent struct {
	BaseEvent
	Signal   TerminationSignal
	Turns    int
	Duration time.Duration
}

func (ConversationEndEvent) EventType() string { return "conversation_end" }
