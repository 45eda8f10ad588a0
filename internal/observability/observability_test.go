package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"crew/internal/chat/domain"
	"crew/internal/chat/ports"
)

func TestMetricsListenerCountsTurnsAndTerminations(t *testing.T) {
	metrics := MustNewMetrics(prometheus.NewRegistry())
	listener := NewMetricsListener(metrics)

	listener.OnEvent(domain.TurnRecordedEvent{
		Turn: ports.Turn{Speaker: ports.RoleCoder, Kind: ports.KindText},
	})
	listener.OnEvent(domain.TurnRecordedEvent{
		Turn: ports.Turn{Speaker: ports.RoleCoder, Kind: ports.KindText},
	})
	listener.OnEvent(domain.TurnRecordedEvent{
		Turn: ports.Turn{Speaker: ports.RoleVerifier, Kind: ports.KindText},
	})
	listener.OnEvent(domain.ConversationEndEvent{
		Signal:   domain.TerminationSignal{State: domain.StateSuccess},
		Duration: 3 * time.Second,
	})

	require.Equal(t, 2.0, testutil.ToFloat64(metrics.turnsTotal.WithLabelValues("coder", "text")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.turnsTotal.WithLabelValues("verifier", "text")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.terminationsTotal.WithLabelValues("success")))
}

func TestMetricsListenerIgnoresUnrelatedEvents(t *testing.T) {
	metrics := MustNewMetrics(prometheus.NewRegistry())
	listener := NewMetricsListener(metrics)

	listener.OnEvent(domain.SpeakerSelectedEvent{Speaker: ports.RolePlanner})
	listener.OnEvent(domain.ConversationStartEvent{})

	require.Equal(t, 0.0, testutil.ToFloat64(metrics.turnsTotal.WithLabelValues("planner", "text")))
}

func TestMetricsProgressCounters(t *testing.T) {
	metrics := MustNewMetrics(prometheus.NewRegistry())

	metrics.ProgressPublished()
	metrics.ProgressPublished()
	metrics.ProgressDeduped()
	metrics.ProgressDropped()
	metrics.ProgressQueueDepth(7)

	require.Equal(t, 2.0, testutil.ToFloat64(metrics.progressPublished))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.progressDeduped))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.progressDropped))
	require.Equal(t, 7.0, testutil.ToFloat64(metrics.progressDepth))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ObserveTurn("coder", "text")
		m.ObserveTermination("success", time.Second)
		m.ProgressPublished()
		m.ProgressQueueDepth(1)
	})
}

func TestMustNewMetricsToleratesDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := MustNewMetrics(reg)
	second := MustNewMetrics(reg)

	first.ProgressPublished()
	second.ProgressPublished()

	require.Equal(t, 2.0, testutil.ToFloat64(second.progressPublished))
}

type countingListener struct {
	events []ports.ChatEvent
}

func (c *countingListener) OnEvent(event ports.ChatEvent) {
	c.events = append(c.events, event)
}

func TestFanoutListenerForwardsToAll(t *testing.T) {
	first := &countingListener{}
	second := &countingListener{}

	fanout := NewFanoutListener(first, nil, second)
	fanout.OnEvent(domain.ConversationStartEvent{})
	fanout.OnEvent(domain.SpeakerSelectedEvent{Speaker: ports.RoleCoder})

	require.Len(t, first.events, 2)
	require.Len(t, second.events, 2)
}

func TestFanoutListenerCollapsesSingleListener(t *testing.T) {
	only := &countingListener{}
	require.Same(t, ports.EventListener(only), NewFanoutListener(nil, only))
}

func TestDisabledTracerProviderIsNoop(t *testing.T) {
	tp, err := NewTracerProvider(TracingConfig{Enabled: false})
	require.NoError(t, err)

	ctx, span := tp.StartConversationSpan(context.Background(), "task-1")
	require.NotNil(t, ctx)
	require.False(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, tp.Shutdown(context.Background()))
}
