package domain_test

import (
	"context"
	"sync"
	"time"

	"crew/internal/chat/ports"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type stubParticipant struct {
	role       ports.Role
	InvokeFunc func(ctx context.Context, history []ports.Turn) ([]ports.Turn, error)
}

func (p *stubParticipant) Name() ports.Role { return p.role }

func (p *stubParticipant) Invoke(ctx context.Context, history []ports.Turn) ([]ports.Turn, error) {
	if p.InvokeFunc != nil {
		return p.InvokeFunc(ctx, history)
	}
	return []ports.Turn{{Speaker: p.role, Content: "ok", Kind: ports.KindText}}, nil
}

type stubOracle struct {
	SelectNextFunc func(ctx context.Context, history []ports.Turn, roster []ports.Participant) (ports.Participant, error)
}

func (o *stubOracle) SelectNext(ctx context.Context, history []ports.Turn, roster []ports.Participant) (ports.Participant, error) {
	if o.SelectNextFunc != nil {
		return o.SelectNextFunc(ctx, history, roster)
	}
	return roster[0], nil
}

// scriptedOracle returns participants by role in the order given, repeating
// the last entry once the script runs out.
func scriptedOracle(script ...ports.Role) *stubOracle {
	index := 0
	return &stubOracle{
		SelectNextFunc: func(_ context.Context, _ []ports.Turn, roster []ports.Participant) (ports.Participant, error) {
			role := script[index]
			if index < len(script)-1 {
				index++
			}
			for _, participant := range roster {
				if participant.Name() == role {
					return participant, nil
				}
			}
			return nil, nil
		},
	}
}

type capturingSink struct {
	mu      sync.Mutex
	updates []ports.ProgressUpdate
}

func (s *capturingSink) Offer(update ports.ProgressUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, update)
}

func (s *capturingSink) all() []ports.ProgressUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ports.ProgressUpdate, len(s.updates))
	copy(out, s.updates)
	return out
}

type capturingListener struct {
	mu     sync.Mutex
	events []ports.ChatEvent
}

func (l *capturingListener) OnEvent(event ports.ChatEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *capturingListener) all() []ports.ChatEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ports.ChatEvent, len(l.events))
	copy(out, l.events)
	return out
}

func textTurn(speaker ports.Role, content string) ports.Turn {
	return ports.Turn{Speaker: speaker, Content: content, Kind: ports.KindText}
}
