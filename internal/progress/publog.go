package progress

import (
	"context"
	"io"
	"sync"
	"time"

	"crew/internal/chat/ports"
	"crew/internal/shared/jsonx"
)

// logPublisher writes progress updates as JSON lines. It stands in for the
// external pub/sub channel when the worker runs locally.
type logPublisher struct {
	mu  sync.Mutex
	out io.Writer
}

// NewLogPublisher returns a publisher that appends one JSON object per
// update to out.
func NewLogPublisher(out io.Writer) ports.Publisher {
	return &logPublisher{out: out}
}

type publishedUpdate struct {
	Timestamp  time.Time `json:"timestamp"`
	TaskID     string    `json:"task_id"`
	Percentage float64   `json:"percentage"`
	Summary    string    `json:"summary"`
}

func (l *logPublisher) Publish(_ context.Context, taskID string, percentage float64, summary string) error {
	line, err := jsonx.Marshal(publishedUpdate{
		Timestamp:  time.Now(),
		TaskID:     taskID,
		Percentage: percentage,
		Summary:    summary,
	})
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.out.Write(append(line, '\n'))
	return err
}
