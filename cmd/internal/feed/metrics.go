package feed

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the sync core. A nil *Metrics
// is valid and records nothing, so tests and library embedders can skip
// metrics wiring entirely.
type Metrics struct {
	registry *prometheus.Registry

	eventsTotal       *prometheus.CounterVec
	pagesLoaded       *prometheus.CounterVec
	mutationsApplied  *prometheus.CounterVec
	mutationsResolved *prometheus.CounterVec
	windowItems       *prometheus.GaugeVec
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ripple",
		Subsystem: "feed",
		Name:      "change_events_total",
		Help:      "Realtime change events folded into a window, by outcome.",
	}, []string{"kind", "type", "outcome"})

	m.pagesLoaded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ripple",
		Subsystem: "feed",
		Name:      "pages_loaded_total",
		Help:      "Page batches applied to a window.",
	}, []string{"kind", "first"})

	m.mutationsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ripple",
		Subsystem: "feed",
		Name:      "optimistic_mutations_total",
		Help:      "Optimistic deltas applied to a window.",
	}, []string{"op", "coalesced"})

	m.mutationsResolved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ripple",
		Subsystem: "feed",
		Name:      "mutations_resolved_total",
		Help:      "Optimistic mutations resolved by commit or rollback.",
	}, []string{"op", "outcome"})

	m.windowItems = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ripple",
		Subsystem: "feed",
		Name:      "window_items",
		Help:      "Materialized items per topic window.",
	}, []string{"topic"})

	m.registry.MustRegister(
		m.eventsTotal,
		m.pagesLoaded,
		m.mutationsApplied,
		m.mutationsResolved,
		m.windowItems,
	)
	return m
}

// Registry exposes the private registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) eventApplied(topic Topic, typ EventType, outcome ChangeOutcome) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(string(topic.Kind()), string(typ), string(outcome)).Inc()
}

func (m *Metrics) pageLoaded(topic Topic, first bool) {
	if m == nil {
		return
	}
	m.pagesLoaded.WithLabelValues(string(topic.Kind()), strconv.FormatBool(first)).Inc()
}

func (m *Metrics) mutationApplied(op mutOp, coalesced bool) {
	if m == nil {
		return
	}
	m.mutationsApplied.WithLabelValues(op.String(), strconv.FormatBool(coalesced)).Inc()
}

func (m *Metrics) mutationResolved(op mutOp, committed bool) {
	if m == nil {
		return
	}
	outcome := "rolled_back"
	if committed {
		outcome = "committed"
	}
	m.mutationsResolved.WithLabelValues(op.String(), outcome).Inc()
}

func (m *Metrics) windowSize(topic Topic, n int) {
	if m == nil {
		return
	}
	m.windowItems.WithLabelValues(string(topic)).Set(float64(n))
}

func (o mutOp) String() string {
	switch o {
	case opLike:
		return "like"
	case opCreate:
		return "create"
	case opEdit:
		return "edit"
	case opDelete:
		return "delete"
	case opShare:
		return "share"
	case opRead:
		return "read"
	case opReadAll:
		return "read_all"
	default:
		return "unknown"
	}
}
