package observability

import (
	"crew/internal/chat/domain"
	"crew/internal/chat/ports"
)

// MetricsListener translates chat events into Prometheus observations. It
// plugs into the driver's event listener port so the domain layer never
// imports an instrumentation library.
type MetricsListener struct {
	metrics *Metrics
}

// NewMetricsListener wraps metrics as an event listener.
func NewMetricsListener(metrics *Metrics) *MetricsListener {
	return &MetricsListener{metrics: metrics}
}

func (l *MetricsListener) OnEvent(event ports.ChatEvent) {
	switch e := event.(type) {
	case domain.TurnRecordedEvent:
		l.metrics.ObserveTurn(string(e.Turn.Speaker), string(e.Turn.Kind))
	case domain.ConversationEndEvent:
		l.metrics.ObserveTermination(string(e.Signal.State), e.Duration)
	}
}

// FanoutListener forwards every event to each wrapped listener in order.
type FanoutListener struct {
	listeners []ports.EventListener
}

// NewFanoutListener drops nil entries and flattens to a single listener.
func NewFanoutListener(listeners ...ports.EventListener) ports.EventListener {
	flattened := make([]ports.EventListener, 0, len(listeners))
	for _, listener := range listeners {
		if listener != nil {
			flattened = append(flattened, listener)
		}
	}
	if len(flattened) == 1 {
		return flattened[0]
	}
	return &FanoutListener{listeners: flattened}
}

func (f *FanoutListener) OnEvent(event ports.ChatEvent) {
	for _, listener := range f.listeners {
		listener.OnEvent(event)
	}
}
