package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report conversation and
// progress-pipeline activity.
type Metrics struct {
	turnsTotal        *prometheus.CounterVec
	terminationsTotal *prometheus.CounterVec
	conversationTime  prometheus.Histogram
	progressPublished prometheus.Counter
	progressDeduped   prometheus.Counter
	progressDropped   prometheus.Counter
	progressDepth     prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry. The collectors are created only once to
// avoid duplicate registration panics when workers are instantiated multiple
// times (e.g. in unit tests).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Callers needing unique metric names (tests) should pass a fresh registry.
// Registration errors panic, mirroring promauto semantics, so configuration
// bugs surface early.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crew",
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Turns recorded per speaker and kind.",
		},
		[]string{"speaker", "kind"},
	)
	terminationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crew",
			Subsystem: "chat",
			Name:      "terminations_total",
			Help:      "Conversations ended, labeled by terminal state.",
		},
		[]string{"state"},
	)
	conversationTime := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "crew",
			Subsystem: "chat",
			Name:      "conversation_duration_seconds",
			Help:      "Wall-clock duration of whole conversations.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
	progressPublished := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "crew",
		Subsystem: "progress",
		Name:      "published_total",
		Help:      "Progress updates delivered to the pub/sub channel.",
	})
	progressDeduped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "crew",
		Subsystem: "progress",
		Name:      "deduplicated_total",
		Help:      "Progress updates skipped because the summary was unchanged.",
	})
	progressDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "crew",
		Subsystem: "progress",
		Name:      "dropped_total",
		Help:      "Progress updates dropped under queue backpressure.",
	})
	progressDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "crew",
		Subsystem: "progress",
		Name:      "queue_depth",
		Help:      "Updates currently waiting in the progress queue.",
	})

	m := &Metrics{
		turnsTotal:        turnsTotal,
		terminationsTotal: terminationsTotal,
		conversationTime:  conversationTime,
		progressPublished: progressPublished,
		progressDeduped:   progressDeduped,
		progressDropped:   progressDropped,
		progressDepth:     progressDepth,
	}

	collectors := []prometheus.Collector{
		turnsTotal, terminationsTotal, conversationTime,
		progressPublished, progressDeduped, progressDropped, progressDepth,
	}
	for i, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			already, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				panic(err)
			}
			switch i {
			case 0:
				m.turnsTotal = already.ExistingCollector.(*prometheus.CounterVec)
			case 1:
				m.terminationsTotal = already.ExistingCollector.(*prometheus.CounterVec)
			case 2:
				m.conversationTime = already.ExistingCollector.(prometheus.Histogram)
			case 3:
				m.progressPublished = already.ExistingCollector.(prometheus.Counter)
			case 4:
				m.progressDeduped = already.ExistingCollector.(prometheus.Counter)
			case 5:
				m.progressDropped = already.ExistingCollector.(prometheus.Counter)
			case 6:
				m.progressDepth = already.ExistingCollector.(prometheus.Gauge)
			}
		}
	}

	return m
}

// ObserveTurn counts one recorded turn.
func (m *Metrics) ObserveTurn(speaker, kind string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(speaker, kind).Inc()
}

// ObserveTermination counts one ended conversation and its duration.
func (m *Metrics) ObserveTermination(state string, duration time.Duration) {
	if m == nil {
		return
	}
	m.terminationsTotal.WithLabelValues(state).Inc()
	m.conversationTime.Observe(duration.Seconds())
}

// ProgressPublished implements progress.Metrics.
func (m *Metrics) ProgressPublished() {
	if m == nil {
		return
	}
	m.progressPublished.Inc()
}

// ProgressDeduped implements progress.Metrics.
func (m *Metrics) ProgressDeduped() {
	if m == nil {
		return
	}
	m.progressDeduped.Inc()
}

// ProgressDropped implements progress.Metrics.
func (m *Metrics) ProgressDropped() {
	if m == nil {
		return
	}
	m.progressDropped.Inc()
}

// ProgressQueueDepth implements progress.Metrics.
func (m *Metrics) ProgressQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.progressDepth.Set(float64(depth))
}
