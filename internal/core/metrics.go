package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dotcommander/refiner/internal/domain"
	"github.com/dotcommander/refiner/internal/instruction"
)

// Metrics counts what the refiner sees. All counters live on the registerer passed to
// NewMetrics, so tests and embedders can keep them off the global registry.
type Metrics struct {
	operations  *prometheus.CounterVec
	dropped     prometheus.Counter
	recovered   prometheus.Counter
	conflicts   prometheus.Counter
	strategies  *prometheus.CounterVec
	transitions *prometheus.CounterVec
	replays     prometheus.Counter
}

// NewMetrics registers the refiner counters on reg. A nil reg keeps them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "refiner",
			Name:      "operations_total",
			Help:      "Resolved edit operations by kind.",
		}, []string{"kind"}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "refiner",
			Name:      "dropped_phrases_total",
			Help:      "Instruction phrases dropped after the recovery pass.",
		}),
		recovered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "refiner",
			Name:      "recovered_phrases_total",
			Help:      "Instruction phrases rescued by the recovery pass.",
		}),
		conflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "refiner",
			Name:      "conflicts_resolved_total",
			Help:      "Operations overridden by a later operation on the same target.",
		}),
		strategies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "refiner",
			Name:      "strategies_total",
			Help:      "Refinement plans by selected execution strategy.",
		}, []string{"strategy"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "refiner",
			Name:      "background_transitions_total",
			Help:      "Background state transitions by source and target kind.",
		}, []string{"from", "to"}),
		replays: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "refiner",
			Name:      "replayed_requests_total",
			Help:      "Requests answered from the retry cache.",
		}),
	}
}

// ObservePlan records one parsed plan.
func (m *Metrics) ObservePlan(plan *instruction.Plan) {
	if m == nil {
		return
	}
	for _, op := range plan.Operations {
		m.operations.WithLabelValues(string(op.Kind())).Inc()
	}
	m.dropped.Add(float64(len(plan.Diagnostics.Dropped)))
	m.recovered.Add(float64(len(plan.Diagnostics.Recovered)))
	for _, c := range plan.Diagnostics.Conflicts {
		m.conflicts.Add(float64(len(c.Overridden)))
	}
	m.strategies.WithLabelValues(string(plan.Strategy)).Inc()
}

// ObserveEntry records a background transition, if the entry made one.
func (m *Metrics) ObserveEntry(entry domain.HistoryEntry) {
	if m == nil || entry.NewBackgroundState == nil {
		return
	}
	m.transitions.WithLabelValues(string(entry.PreviousBackgroundState.Kind), string(entry.NewBackgroundState.Kind)).Inc()
}

// ObserveReplay records a request answered from the retry cache.
func (m *Metrics) ObserveReplay() {
	if m == nil {
		return
	}
	m.replays.Inc()
}
