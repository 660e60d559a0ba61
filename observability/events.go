package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"nftlend/core/events"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking structured protocol events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nftlend",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of protocol events segmented by event type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// Record increments the counter for the supplied event type.
func (m *eventMetrics) Record(eventType string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.emitted.WithLabelValues(eventType).Inc()
}

// MeteredEmitter counts every emitted event before forwarding it to the
// wrapped sink. A nil sink counts and drops.
type MeteredEmitter struct {
	sink events.Emitter
}

// NewMeteredEmitter wraps the supplied emitter with event metrics.
func NewMeteredEmitter(sink events.Emitter) *MeteredEmitter {
	return &MeteredEmitter{sink: sink}
}

// Emit satisfies events.Emitter.
func (m *MeteredEmitter) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	Events().Record(evt.EventType())
	if m.sink != nil {
		m.sink.Emit(evt)
	}
}
