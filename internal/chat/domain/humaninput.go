package domain

import "sync"

// MetadataHumanInput marks turns injected through the human-input side
// channel so the termination policy does not mistake them for a handoff.
const MetadataHumanInput = "human_input"

// HumanSignalKind distinguishes the tokens a side-channel poller can feed.
type HumanSignalKind string

const (
	SignalPause   HumanSignalKind = "pause"
	SignalResume  HumanSignalKind = "resume"
	SignalMessage HumanSignalKind = "message"
)

// HumanSignal is one token on a per-task human-input queue.
type HumanSignal struct {
	Kind    HumanSignalKind
	Content string
}

// HumanInputQueues holds the per-task input queues a side-channel poller
// feeds. Entries are removed explicitly when a task finishes, so the map
// does not grow for the lifetime of the worker process.
type HumanInputQueues struct {
	mu     sync.Mutex
	queues map[string][]HumanSignal
}

// NewHumanInputQueues creates an empty queue set.
func NewHumanInputQueues() *HumanInputQueues {
	return &HumanInputQueues{queues: make(map[string][]HumanSignal)}
}

// Push appends a signal to the queue for taskID.
func (q *HumanInputQueues) Push(taskID string, signal HumanSignal) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[taskID] = append(q.queues[taskID], signal)
}

// Pop removes and returns the oldest signal for taskID.
func (q *HumanInputQueues) Pop(taskID string) (HumanSignal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := q.queues[taskID]
	if len(pending) == 0 {
		return HumanSignal{}, false
	}
	signal := pending[0]
	q.queues[taskID] = pending[1:]
	return signal, true
}

// Drop evicts the queue for taskID. Called when the task reaches a terminal
// state.
func (q *HumanInputQueues) Drop(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queues, taskID)
}

// Pending reports how many signals are queued for taskID.
func (q *HumanInputQueues) Pending(taskID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[taskID])
}
