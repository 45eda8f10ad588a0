package progress

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"crew/internal/chat/ports"
)

// Metrics is the optional instrumentation surface the pipeline reports into.
type Metrics interface {
	ProgressPublished()
	ProgressDeduped()
	ProgressDropped()
	ProgressQueueDepth(depth int)
}

type nopMetrics struct{}

func (nopMetrics) ProgressPublished()     {}
func (nopMetrics) ProgressDeduped()       {}
func (nopMetrics) ProgressDropped()       {}
func (nopMetrics) ProgressQueueDepth(int) {}

// Config tunes the pipeline.
type Config struct {
	// Capacity bounds the update queue; under backpressure the oldest queued
	// update is dropped first.
	Capacity int
	// HeartbeatInterval is clamped to at most one second so subscribers get
	// at least one update per second per live task.
	HeartbeatInterval time.Duration
}

// DefaultConfig mirrors the reference pipeline settings.
func DefaultConfig() Config {
	return Config{
		Capacity:          256,
		HeartbeatInterval: time.Second,
	}
}

// Pipeline decouples turn-by-turn events from the expensive summarization
// step. Offer never blocks the conversation loop; one background worker
// drains the queue FIFO, summarizes, de-duplicates per task and publishes.
// Because old updates are dropped under backpressure, subscribers get
// "eventually consistent, latest wins", not delivery of every event.
type Pipeline struct {
	cfg        Config
	queue      chan ports.ProgressUpdate
	state      *PublisherState
	summarizer ports.Summarizer
	publisher  ports.Publisher
	logger     ports.Logger
	metrics    Metrics
}

// NewPipeline builds a stopped pipeline; call Run to start draining.
func NewPipeline(
	cfg Config,
	state *PublisherState,
	summarizer ports.Summarizer,
	publisher ports.Publisher,
	logger ports.Logger,
	metrics Metrics,
) *Pipeline {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.HeartbeatInterval <= 0 || cfg.HeartbeatInterval > time.Second {
		cfg.HeartbeatInterval = time.Second
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Pipeline{
		cfg:        cfg,
		queue:      make(chan ports.ProgressUpdate, cfg.Capacity),
		state:      state,
		summarizer: summarizer,
		publisher:  publisher,
		logger:     logger,
		metrics:    metrics,
	}
}

// Offer enqueues an update without ever blocking. When the queue is full the
// single oldest queued update is dropped to make room: fresher progress is
// more valuable than older progress.
func (p *Pipeline) Offer(update ports.ProgressUpdate) {
	for {
		select {
		case p.queue <- update:
			p.metrics.ProgressQueueDepth(len(p.queue))
			return
		default:
		}
		select {
		case dropped := <-p.queue:
			p.metrics.ProgressDropped()
			p.logger.Debug("progress queue full, dropped update for task %s", dropped.TaskID)
		default:
		}
	}
}

// Depth reports how many updates are currently queued.
func (p *Pipeline) Depth() int {
	return len(p.queue)
}

// MarkFinal stops heartbeats for taskID and clears its cached summary.
func (p *Pipeline) MarkFinal(taskID string) {
	p.state.MarkFinal(taskID)
}

// Forget evicts all bookkeeping for taskID. Called once the task has been
// deleted from its source; the finalized set stays bounded this way.
func (p *Pipeline) Forget(taskID string) {
	p.state.Forget(taskID)
}

// Run drains the queue and drives the heartbeat until ctx is cancelled.
// Cancellation is cooperative: the current dequeue is abandoned and no
// partially-summarized update is retried.
func (p *Pipeline) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return p.consume(ctx) })
	group.Go(func() error { return p.heartbeat(ctx) })
	return group.Wait()
}

func (p *Pipeline) consume(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update := <-p.queue:
			p.metrics.ProgressQueueDepth(len(p.queue))
			p.process(ctx, update)
		}
	}
}

// process summarizes one update and publishes it unless it is suppressed,
// stale or a duplicate of the last published summary for the task.
func (p *Pipeline) process(ctx context.Context, update ports.ProgressUpdate) {
	if p.state.Finalized(update.TaskID) {
		return
	}

	summary, err := p.summarizer.Summarize(ctx, update.RawContent, update.Kind, update.Speaker)
	if err != nil {
		// Treated as "no summary available"; the next update still reflects
		// overall progress.
		p.logger.Warn("summarization failed for task %s: %v", update.TaskID, err)
		return
	}
	if summary == "" {
		return
	}

	if last, ok := p.state.LastSummary(update.TaskID); ok && last == summary {
		// Same text as last time: refresh the cached percentage for the
		// heartbeat but skip the publish.
		p.metrics.ProgressDeduped()
		p.state.Remember(update.TaskID, update.Percentage, summary)
		return
	}

	if err := p.publisher.Publish(ctx, update.TaskID, update.Percentage, summary); err != nil {
		p.logger.Warn("progress publish failed for task %s: %v", update.TaskID, err)
	} else {
		p.metrics.ProgressPublished()
	}
	p.state.Remember(update.TaskID, update.Percentage, summary)
}

// heartbeat independently re-publishes the latest cached update for every
// non-finalized task so subscribers receive liveness signals even when no
// new distinct event arrives.
func (p *Pipeline) heartbeat(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for taskID, cached := range p.state.Active() {
				if err := p.publisher.Publish(ctx, taskID, cached.Percentage, cached.Summary); err != nil {
					p.logger.Warn("heartbeat publish failed for task %s: %v", taskID, err)
				}
			}
		}
	}
}

var _ ports.ProgressSink = (*Pipeline)(nil)
