package ports

import "time"

// Role identifies one participant in the fixed conversation roster.
type Role string

const (
	RolePlanner    Role = "planner"
	RoleCoder      Role = "coder"
	RoleSearcher   Role = "searcher"
	RoleUploader   Role = "uploader"
	RolePresenter  Role = "presenter"
	RoleVerifier   Role = "verifier"
	RoleTerminator Role = "terminator"
	RoleSystem     Role = "system"
	RoleUser       Role = "user"
)

// TurnKind tags what a turn carries.
type TurnKind string

const (
	KindText       TurnKind = "text"
	KindToolCall   TurnKind = "tool_call"
	KindToolResult TurnKind = "tool_result"
	KindControl    TurnKind = "control"
)

// Turn is one recorded utterance in a conversation. Turns are immutable once
// appended; SequenceIndex is assigned by the recorder and is strictly
// increasing within one conversation.
type Turn struct {
	Speaker       Role           `json:"speaker"`
	Content       string         `json:"content"`
	Kind          TurnKind       `json:"kind"`
	SequenceIndex int            `json:"sequence_index"`
	Timestamp     time.Time      `json:"timestamp"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Task is one unit of work pulled off the external queue.
type Task struct {
	ID      string `json:"task_id"`
	Content string `json:"content"`
}
