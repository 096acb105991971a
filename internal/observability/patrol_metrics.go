package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/patrol-simulator/flight"
	"github.com/signalsfoundry/patrol-simulator/graph"
)

// PatrolCollector exposes per-agent patrol metrics derived from flight
// events and graph statistics.
type PatrolCollector struct {
	gatherer prometheus.Gatherer

	Transitions   *prometheus.CounterVec
	EdgeVisits    *prometheus.CounterVec
	Recharges     *prometheus.CounterVec
	LowEnergy     *prometheus.CounterVec
	Halts         *prometheus.CounterVec
	TrafficSeen   *prometheus.HistogramVec
	Energy        *prometheus.GaugeVec
	Coverage      *prometheus.GaugeVec
	AvgIdleness   *prometheus.GaugeVec
	WorstIdleness *prometheus.GaugeVec
}

// NewPatrolCollector registers patrol metrics against the provided
// registerer, defaulting to the global registry when nil.
func NewPatrolCollector(reg prometheus.Registerer) (*PatrolCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &PatrolCollector{gatherer: gathererFor(reg)}

	counters := []struct {
		dst    **prometheus.CounterVec
		name   string
		help   string
		labels []string
	}{
		{&c.Transitions, "patrol_state_transitions_total", "Flight state transitions, labeled by agent and target state.", []string{"agent", "state"}},
		{&c.EdgeVisits, "patrol_edge_visits_total", "Edges traversed, labeled by agent.", []string{"agent"}},
		{&c.Recharges, "patrol_recharges_total", "Battery swaps, labeled by agent.", []string{"agent"}},
		{&c.LowEnergy, "patrol_low_energy_total", "Low-energy activations, labeled by agent.", []string{"agent"}},
		{&c.Halts, "patrol_halts_total", "Agents that ran out of energy in flight.", []string{"agent"}},
	}
	for _, spec := range counters {
		vec, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: spec.name,
			Help: spec.help,
		}, spec.labels))
		if err != nil {
			return nil, err
		}
		*spec.dst = vec
	}

	traffic, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "patrol_traffic_observed",
		Help:    "Vehicles counted inside the camera footprint per observation.",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
	}, []string{"agent"}))
	if err != nil {
		return nil, err
	}
	c.TrafficSeen = traffic

	gauges := []struct {
		dst  **prometheus.GaugeVec
		name string
		help string
	}{
		{&c.Energy, "patrol_battery_energy_joules", "Remaining battery energy at the last event."},
		{&c.Coverage, "patrol_edge_coverage_percent", "Percentage of edges visited at least once."},
		{&c.AvgIdleness, "patrol_average_idleness_seconds", "Mean idleness over visited edges."},
		{&c.WorstIdleness, "patrol_worst_idleness_seconds", "Largest gap between visits of any edge."},
	}
	for _, spec := range gauges {
		vec, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: spec.name,
			Help: spec.help,
		}, []string{"agent"}))
		if err != nil {
			return nil, err
		}
		*spec.dst = vec
	}
	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *PatrolCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveEvent updates the metrics for a flight event. It has the shape of
// a flight.Listener.
func (c *PatrolCollector) ObserveEvent(ev flight.Event) {
	if c == nil {
		return
	}
	c.Energy.WithLabelValues(ev.Agent).Set(ev.Energy)
	switch ev.Kind {
	case flight.EventTransition:
		c.Transitions.WithLabelValues(ev.Agent, ev.To.String()).Inc()
	case flight.EventEdgeVisited:
		c.EdgeVisits.WithLabelValues(ev.Agent).Inc()
	case flight.EventTraffic:
		c.TrafficSeen.WithLabelValues(ev.Agent).Observe(float64(ev.Count))
	case flight.EventLowEnergy:
		c.LowEnergy.WithLabelValues(ev.Agent).Inc()
	case flight.EventRecharged:
		c.Recharges.WithLabelValues(ev.Agent).Inc()
	case flight.EventHalted:
		c.Halts.WithLabelValues(ev.Agent).Inc()
	}
}

// SetStats publishes the graph statistics of an agent.
func (c *PatrolCollector) SetStats(agent string, s graph.Stats) {
	if c == nil {
		return
	}
	c.Coverage.WithLabelValues(agent).Set(s.Coverage)
	c.AvgIdleness.WithLabelValues(agent).Set(s.AverageIdleness)
	c.WorstIdleness.WithLabelValues(agent).Set(s.WorstIdleness)
}
