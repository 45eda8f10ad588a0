package domain

import (
	"context"
	"fmt"
	"time"

	"crew/internal/chat/ports"
	"crew/internal/shared/logging"
)

// InvokeFunc is the participant invocation boundary the driver calls through.
type InvokeFunc func(ctx context.Context, participant ports.Participant, history []ports.Turn) ([]ports.Turn, error)

// Middleware wraps an InvokeFunc. Interception of the send path is explicit
// function composition here, not runtime method patching.
type Middleware func(next InvokeFunc) InvokeFunc

// RawInvoke is the innermost invocation with no interception.
func RawInvoke() InvokeFunc {
	return func(ctx context.Context, participant ports.Participant, history []ports.Turn) ([]ports.Turn, error) {
		return participant.Invoke(ctx, history)
	}
}

// Compose applies middlewares around base so the first listed middleware is
// the outermost layer.
func Compose(base InvokeFunc, middlewares ...Middleware) InvokeFunc {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

// WithLogging records every invocation with its duration and outcome.
func WithLogging(logger ports.Logger, clock ports.Clock) Middleware {
	log := logging.OrNop(logger)
	if clock == nil {
		clock = ports.SystemClock()
	}
	return func(next InvokeFunc) InvokeFunc {
		return func(ctx context.Context, participant ports.Participant, history []ports.Turn) ([]ports.Turn, error) {
			start := clock.Now()
			log.Debug("invoking %s with %d turns of history", participant.Name(), len(history))
			turns, err := next(ctx, participant, history)
			elapsed := clock.Now().Sub(start)
			if err != nil {
				log.Warn("%s failed after %s: %v", participant.Name(), elapsed, err)
				return nil, err
			}
			log.Debug("%s produced %d turn(s) in %s", participant.Name(), len(turns), elapsed)
			return turns, nil
		}
	}
}

// HumanInputConfig bounds the pause/resume wait inside the send path.
type HumanInputConfig struct {
	// PollInterval is the sleep increment between queue checks while paused.
	PollInterval time.Duration
	// MaxWait aborts the pause when no resume arrives in time.
	MaxWait time.Duration
}

// DefaultHumanInputConfig mirrors the reference pause behaviour.
func DefaultHumanInputConfig() HumanInputConfig {
	return HumanInputConfig{
		PollInterval: 10 * time.Second,
		MaxWait:      15 * time.Minute,
	}
}

// ErrPauseTimeout reports a pause that never saw a resume token.
var ErrPauseTimeout = fmt.Errorf("paused conversation timed out waiting for resume")

// WithHumanInput checks the per-task queue before each invocation. A pause
// token suspends the send in bounded sleep increments until a resume token
// arrives or the wait budget runs out. Resume or message tokens carrying
// content are injected ahead of the participant's reply and returned so they
// get recorded like any other turn.
func WithHumanInput(queues *HumanInputQueues, taskID string, cfg HumanInputConfig, logger ports.Logger) Middleware {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultHumanInputConfig().PollInterval
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultHumanInputConfig().MaxWait
	}
	return func(next InvokeFunc) InvokeFunc {
		return func(ctx context.Context, participant ports.Participant, history []ports.Turn) ([]ports.Turn, error) {
			if queues == nil {
				return next(ctx, participant, history)
			}

			var injected []ports.Turn
			for {
				signal, ok := queues.Pop(taskID)
				if !ok {
					break
				}
				switch signal.Kind {
				case SignalPause:
					resume, err := awaitResume(ctx, queues, taskID, cfg, logger)
					if err != nil {
						return nil, err
					}
					if turn, ok := injectedTurn(resume); ok {
						injected = append(injected, turn)
					}
				case SignalResume, SignalMessage:
					if turn, ok := injectedTurn(signal); ok {
						injected = append(injected, turn)
					}
				}
			}

			augmented := history
			if len(injected) > 0 {
				augmented = make([]ports.Turn, 0, len(history)+len(injected))
				augmented = append(augmented, history...)
				augmented = append(augmented, injected...)
			}

			turns, err := next(ctx, participant, augmented)
			if err != nil {
				return nil, err
			}
			return append(injected, turns...), nil
		}
	}
}

func awaitResume(ctx context.Context, queues *HumanInputQueues, taskID string, cfg HumanInputConfig, logger ports.Logger) (HumanSignal, error) {
	log := logging.OrNop(logger)
	deadline := time.Now().Add(cfg.MaxWait)
	log.Info("task %s paused, waiting up to %s for resume", taskID, cfg.MaxWait)
	for {
		if signal, ok := queues.Pop(taskID); ok && signal.Kind != SignalPause {
			log.Info("task %s resumed", taskID)
			return signal, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return HumanSignal{}, ErrPauseTimeout
		}
		sleep := cfg.PollInterval
		if sleep > remaining {
			sleep = remaining
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return HumanSignal{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func injectedTurn(signal HumanSignal) (ports.Turn, bool) {
	if signal.Content == "" {
		return ports.Turn{}, false
	}
	return ports.Turn{
		Speaker:  ports.RoleUser,
		Content:  signal.Content,
		Kind:     ports.KindText,
		Metadata: map[string]any{MetadataHumanInput: true},
	}, true
}
