// Package observability holds the Prometheus collectors and the OTel
// tracing setup of the simulator and the control server.
package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Collectors groups every collector of a process on one registry.
type Collectors struct {
	Registry  *prometheus.Registry
	Control   *ControlCollector
	Scheduler *SchedulerCollector
	Patrol    *PatrolCollector
}

// NewCollectors creates a fresh registry with the Go runtime and process
// collectors plus the control, scheduler and patrol collectors.
func NewCollectors() (*Collectors, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}
	control, err := NewControlCollector(reg)
	if err != nil {
		return nil, err
	}
	scheduler, err := NewSchedulerCollector(reg)
	if err != nil {
		return nil, err
	}
	patrol, err := NewPatrolCollector(reg)
	if err != nil {
		return nil, err
	}
	return &Collectors{Registry: reg, Control: control, Scheduler: scheduler, Patrol: patrol}, nil
}

// Handler serves every collector of the registry.
func (c *Collectors) Handler() http.Handler {
	return handlerFor(c.Registry)
}

// ControlCollector counts control RPCs and tracks the fleet size.
type ControlCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	Agents prometheus.Gauge
}

// NewControlCollector registers the control metrics on reg, or on the
// default registerer when reg is nil.
func NewControlCollector(reg prometheus.Registerer) (*ControlCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &ControlCollector{gatherer: gathererFor(reg)}

	var err error
	if c.RPCRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "control_requests_total",
		Help: "Control RPCs handled, by service, method and gRPC status code.",
	}, []string{"service", "method", "code"})); err != nil {
		return nil, err
	}
	if c.RPCDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "control_request_duration_seconds",
		Help:    "Control RPC latency in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2.5, 10),
	}, []string{"service", "method"})); err != nil {
		return nil, err
	}
	if c.Agents, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "patrol_agents",
		Help: "Agents registered in the fleet.",
	})); err != nil {
		return nil, err
	}
	return c, nil
}

// UnaryServerInterceptor records request counts and latencies. A nil
// collector passes requests through.
func (c *ControlCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if c == nil || info == nil {
			return resp, err
		}
		service, method := SplitMethod(info.FullMethod)
		c.RPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		return resp, err
	}
}

// Handler serves the registry the collector was created on.
func (c *ControlCollector) Handler() http.Handler {
	return handlerFor(c.gatherer)
}

// SetAgentCount implements fleet.Metrics.
func (c *ControlCollector) SetAgentCount(n int) {
	if c == nil {
		return
	}
	c.Agents.Set(float64(n))
}

// SplitMethod splits "/pkg.Service/Method" into "Service" and "Method".
// Unparseable input yields "unknown" for the missing parts.
func SplitMethod(fullMethod string) (service, method string) {
	service, method = "unknown", "unknown"
	path := strings.TrimPrefix(fullMethod, "/")
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return service, method
	}
	if s := path[strings.LastIndex(path[:i], ".")+1 : i]; s != "" {
		service = s
	}
	if m := path[i+1:]; m != "" {
		method = m
	}
	return service, method
}

func gathererFor(reg prometheus.Registerer) prometheus.Gatherer {
	if g, ok := reg.(prometheus.Gatherer); ok {
		return g
	}
	return prometheus.DefaultGatherer
}

func handlerFor(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// register registers c on reg. When an equal collector is already
// registered the existing one is returned, so collectors can be created
// more than once against the same registry.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return c, err
	}
	existing, ok := are.ExistingCollector.(T)
	if !ok {
		return c, fmt.Errorf("collector %T already registered with another type", c)
	}
	return existing, nil
}
