package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerCollector exposes event kernel metrics. It implements
// sched.Metrics.
type SchedulerCollector struct {
	gatherer prometheus.Gatherer

	PendingEvents   prometheus.Gauge
	EventsExecuted  prometheus.Counter
	EventsCancelled prometheus.Counter
	HandlerDuration prometheus.Histogram
}

// NewSchedulerCollector registers kernel metrics on reg, or on the
// default registerer when reg is nil.
func NewSchedulerCollector(reg prometheus.Registerer) (*SchedulerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &SchedulerCollector{gatherer: gathererFor(reg)}

	var err error
	if c.PendingEvents, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_pending_events",
		Help: "Events queued in the simulation kernel.",
	})); err != nil {
		return nil, err
	}
	if c.EventsExecuted, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_events_executed_total",
		Help: "Kernel events executed.",
	})); err != nil {
		return nil, err
	}
	if c.EventsCancelled, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_events_cancelled_total",
		Help: "Kernel events cancelled before they ran, mostly superseded flight transitions.",
	})); err != nil {
		return nil, err
	}
	if c.HandlerDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_event_handler_duration_seconds",
		Help:    "Wall-clock duration of kernel event handlers.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 9),
	})); err != nil {
		return nil, err
	}
	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SchedulerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// SetPendingEvents updates the queue depth gauge.
func (c *SchedulerCollector) SetPendingEvents(n int) {
	if c == nil || c.PendingEvents == nil {
		return
	}
	c.PendingEvents.Set(float64(n))
}

// IncEventsExecuted increments the executed counter.
func (c *SchedulerCollector) IncEventsExecuted() {
	if c == nil || c.EventsExecuted == nil {
		return
	}
	c.EventsExecuted.Inc()
}

// IncEventsCancelled increments the cancelled counter.
func (c *SchedulerCollector) IncEventsCancelled() {
	if c == nil || c.EventsCancelled == nil {
		return
	}
	c.EventsCancelled.Inc()
}

// ObserveHandler records a handler duration.
func (c *SchedulerCollector) ObserveHandler(d time.Duration) {
	if c == nil || c.HandlerDuration == nil {
		return
	}
	c.HandlerDuration.Observe(d.Seconds())
}
