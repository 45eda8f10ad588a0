package domain

import (
	"sync"

	"crew/internal/chat/ports"
	"crew/internal/shared/logging"
)

// TurnSink receives a copy of every appended turn. The recorder treats sink
// failures as observability problems, never correctness ones.
type TurnSink interface {
	Record(turn ports.Turn) error
}

// Recorder is the append-only log of turns for one conversation. It is the
// single source of truth every other component reads. Turns are never
// mutated, reordered or deleted once appended.
type Recorder struct {
	mu     sync.RWMutex
	turns  []ports.Turn
	clock  ports.Clock
	logger ports.Logger
	mirror TurnSink
}

// NewRecorder creates an empty conversation log. mirror may be nil.
func NewRecorder(clock ports.Clock, logger ports.Logger, mirror TurnSink) *Recorder {
	if clock == nil {
		clock = ports.SystemClock()
	}
	return &Recorder{
		clock:  clock,
		logger: logging.OrNop(logger),
		mirror: mirror,
	}
}

// Append adds turn at the end of the conversation, assigning its sequence
// index and timestamp, and returns the stored copy. It never fails on
// ordinary content.
func (r *Recorder) Append(turn ports.Turn) ports.Turn {
	r.mu.Lock()
	turn.SequenceIndex = len(r.turns)
	if turn.Timestamp.IsZero() {
		turn.Timestamp = r.clock.Now()
	}
	r.turns = append(r.turns, turn)
	r.mu.Unlock()

	if r.mirror != nil {
		if err := r.mirror.Record(turn); err != nil {
			r.logger.Warn("audit mirror write failed for turn %d: %v", turn.SequenceIndex, err)
		}
	}
	return turn
}

// Window returns a copy of the last n turns, or fewer when the conversation
// is shorter.
func (r *Recorder) Window(n int) []ports.Turn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	start := len(r.turns) - n
	if start < 0 {
		start = 0
	}
	out := make([]ports.Turn, len(r.turns)-start)
	copy(out, r.turns[start:])
	return out
}

// All returns a copy of the full ordered turn list.
func (r *Recorder) All() []ports.Turn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ports.Turn, len(r.turns))
	copy(out, r.turns)
	return out
}

// Len reports the cumulative turn count.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.turns)
}
