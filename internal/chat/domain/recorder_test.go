package domain_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"crew/internal/chat/domain"
	"crew/internal/chat/ports"
)

func TestRecorder_AppendAssignsSequentialIndexes(t *testing.T) {
	recorder := domain.NewRecorder(newFakeClock(), nopLogger{}, nil)

	for i := 0; i < 5; i++ {
		stored := recorder.Append(textTurn(ports.RolePlanner, fmt.Sprintf("step %d", i)))
		if stored.SequenceIndex != i {
			t.Fatalf("expected sequence index %d, got %d", i, stored.SequenceIndex)
		}
		if stored.Timestamp.IsZero() {
			t.Fatalf("expected timestamp to be filled")
		}
	}
	if recorder.Len() != 5 {
		t.Fatalf("expected 5 turns, got %d", recorder.Len())
	}
}

func TestRecorder_AppendKeepsCallerTimestamp(t *testing.T) {
	clock := newFakeClock()
	recorder := domain.NewRecorder(clock, nopLogger{}, nil)

	explicit := clock.Now().Add(-time.Hour)
	stored := recorder.Append(ports.Turn{Speaker: ports.RoleCoder, Content: "done", Kind: ports.KindText, Timestamp: explicit})
	if !stored.Timestamp.Equal(explicit) {
		t.Fatalf("expected explicit timestamp preserved, got %v", stored.Timestamp)
	}
}

func TestRecorder_AllReturnsCopy(t *testing.T) {
	recorder := domain.NewRecorder(newFakeClock(), nopLogger{}, nil)
	recorder.Append(textTurn(ports.RolePlanner, "original"))

	snapshot := recorder.All()
	snapshot[0].Content = "mutated"

	if recorder.All()[0].Content != "original" {
		t.Fatalf("mutating a snapshot must not change the recorded turn")
	}
}

func TestRecorder_WindowReturnsTrailingTurns(t *testing.T) {
	recorder := domain.NewRecorder(newFakeClock(), nopLogger{}, nil)
	for i := 0; i < 10; i++ {
		recorder.Append(textTurn(ports.RolePlanner, fmt.Sprintf("turn %d", i)))
	}

	window := recorder.Window(3)
	if len(window) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(window))
	}
	if window[0].Content != "turn 7" || window[2].Content != "turn 9" {
		t.Fatalf("expected trailing turns, got %q..%q", window[0].Content, window[2].Content)
	}

	if got := recorder.Window(100); len(got) != 10 {
		t.Fatalf("oversized window should return everything, got %d", len(got))
	}
}

type recordingSink struct {
	mu    sync.Mutex
	turns []ports.Turn
	err   error
}

func (s *recordingSink) Record(turn ports.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
	return s.err
}

func TestRecorder_MirrorsToSink(t *testing.T) {
	sink := &recordingSink{}
	recorder := domain.NewRecorder(newFakeClock(), nopLogger{}, sink)

	recorder.Append(textTurn(ports.RolePlanner, "plan"))
	recorder.Append(textTurn(ports.RoleCoder, "code"))

	if len(sink.turns) != 2 {
		t.Fatalf("expected 2 mirrored turns, got %d", len(sink.turns))
	}
	if sink.turns[1].SequenceIndex != 1 {
		t.Fatalf("mirrored turn should carry assigned index, got %d", sink.turns[1].SequenceIndex)
	}
}

func TestRecorder_SinkFailureDoesNotBlockAppend(t *testing.T) {
	sink := &recordingSink{err: fmt.Errorf("disk full")}
	recorder := domain.NewRecorder(newFakeClock(), nopLogger{}, sink)

	stored := recorder.Append(textTurn(ports.RolePlanner, "plan"))
	if stored.SequenceIndex != 0 {
		t.Fatalf("append must succeed despite sink failure")
	}
	if recorder.Len() != 1 {
		t.Fatalf("expected the turn recorded, got %d", recorder.Len())
	}
}

func TestRecorder_ConcurrentAppendsKeepAllTurns(t *testing.T) {
	recorder := domain.NewRecorder(newFakeClock(), nopLogger{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			recorder.Append(textTurn(ports.RoleCoder, fmt.Sprintf("turn %d", n)))
		}(i)
	}
	wg.Wait()

	if recorder.Len() != 50 {
		t.Fatalf("expected 50 turns, got %d", recorder.Len())
	}
	seen := make(map[int]bool, 50)
	for _, turn := range recorder.All() {
		if seen[turn.SequenceIndex] {
			t.Fatalf("duplicate sequence index %d", turn.SequenceIndex)
		}
		seen[turn.SequenceIndex] = true
	}
}
