// Package sim owns a patrol run: the event kernel, the agents flying over
// their own copies of the patrol graph, the fleet registry they publish to
// and the periodic trajectory sampling and visit exchange between them.
//
// Flight machines are single-threaded. Every entry point of Runner takes
// the runner lock, so kernel handlers never run concurrently with control
// requests.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/patrol-simulator/energy"
	"github.com/signalsfoundry/patrol-simulator/flight"
	"github.com/signalsfoundry/patrol-simulator/geom"
	"github.com/signalsfoundry/patrol-simulator/graph"
	"github.com/signalsfoundry/patrol-simulator/internal/fleet"
	"github.com/signalsfoundry/patrol-simulator/internal/logging"
	"github.com/signalsfoundry/patrol-simulator/internal/sched"
	"github.com/signalsfoundry/patrol-simulator/model"
	"github.com/signalsfoundry/patrol-simulator/report"
	"github.com/signalsfoundry/patrol-simulator/timectrl"
)

var (
	// ErrUnknownAgent is returned for ids not registered with the runner.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrStarted is returned when agents are added after Start.
	ErrStarted = errors.New("run already started")
)

// Config holds the per-run parameters shared by all agents.
type Config struct {
	Flight   flight.Config
	Energy   energy.Params
	Strategy string
	Base     string
	// BaseNear selects the node nearest to the point as base when Base is
	// empty and no node is tagged base.
	BaseNear *geom.Point
	Mode     flight.Mode
	Seed     uint64

	// TrajectoryInterval is the sampling period of agent positions. Zero
	// disables sampling.
	TrajectoryInterval time.Duration
	// ExchangeInterval is the period of visit-count exchange between
	// agents. Zero disables it.
	ExchangeInterval time.Duration
}

// DefaultConfig returns a single-strategy run with one-second trajectory
// sampling and a ten-second exchange period.
func DefaultConfig() Config {
	return Config{
		Flight:             flight.DefaultConfig(),
		Energy:             energy.DefaultParams(),
		Strategy:           graph.StrategyRandom,
		Mode:               flight.Patrol,
		Seed:               1,
		TrajectoryInterval: time.Second,
		ExchangeInterval:   10 * time.Second,
	}
}

// Runner drives one simulation.
type Runner struct {
	mu sync.Mutex

	id     string
	desc   graph.Description
	cfg    Config
	start  time.Time
	kernel *sched.Kernel
	fleet  *fleet.Registry
	log    logging.Logger

	listeners []flight.Listener

	agents  map[string]*flight.Machine
	order   []string
	started bool

	trajectoryEvent string
	exchangeEvent   string
	exchanges       int
}

// Option configures a Runner.
type Option func(*runnerOptions)

type runnerOptions struct {
	log          logging.Logger
	start        time.Time
	kernelOpts   []sched.KernelOption
	fleetMetrics fleet.Metrics
	listeners    []flight.Listener
}

// WithLogger sets the run logger.
func WithLogger(l logging.Logger) Option {
	return func(o *runnerOptions) { o.log = l }
}

// WithStart sets the simulated start time. It defaults to the Unix epoch so
// runs are reproducible.
func WithStart(t time.Time) Option {
	return func(o *runnerOptions) { o.start = t }
}

// WithKernelMetrics reports kernel activity to m.
func WithKernelMetrics(m sched.Metrics) Option {
	return func(o *runnerOptions) { o.kernelOpts = append(o.kernelOpts, sched.WithMetrics(m)) }
}

// WithFleetMetrics reports the fleet size to m.
func WithFleetMetrics(m fleet.Metrics) Option {
	return func(o *runnerOptions) { o.fleetMetrics = m }
}

// WithListener receives every flight event of every agent. Listeners run
// inside kernel handlers and must not call back into the Runner.
func WithListener(l flight.Listener) Option {
	return func(o *runnerOptions) { o.listeners = append(o.listeners, l) }
}

// NewRunner prepares a run over the graph described by desc. Agents are
// added with AddAgent before Start.
func NewRunner(desc graph.Description, cfg Config, opts ...Option) (*Runner, error) {
	o := runnerOptions{start: time.Unix(0, 0).UTC()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logging.Noop()
	}
	if err := cfg.Flight.Validate(); err != nil {
		return nil, err
	}
	if _, err := energy.New(cfg.Energy); err != nil {
		return nil, err
	}
	if _, err := graph.ParseStrategy(cfg.Strategy); err != nil {
		return nil, err
	}
	// Build once up front so description errors surface here.
	if _, err := graph.New(desc); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	kernel := sched.NewKernel(o.start, o.kernelOpts...)
	return &Runner{
		id:        id,
		desc:      desc,
		cfg:       cfg,
		start:     o.start,
		kernel:    kernel,
		fleet:     fleet.NewRegistry(o.fleetMetrics),
		log:       logging.WithClock(o.log, kernel.Elapsed).With(logging.String("run_id", id)),
		listeners: o.listeners,
		agents:    make(map[string]*flight.Machine),
	}, nil
}

// ID returns the unique id of the run.
func (r *Runner) ID() string { return r.id }

// Start returns the simulated start time.
func (r *Runner) Start() time.Time { return r.start }

// Fleet returns the registry agents publish their state to.
func (r *Runner) Fleet() *fleet.Registry { return r.fleet }

// AddAgent creates an agent with its own copy of the patrol graph.
func (r *Runner) AddAgent(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrStarted
	}
	if _, ok := r.agents[id]; ok {
		return fmt.Errorf("%w: %q", fleet.ErrAgentExists, id)
	}

	idx := uint64(len(r.order))
	alog := r.log.With(logging.String("agent", id))
	gopts := []graph.Option{
		graph.WithStrategy(r.cfg.Strategy),
		graph.WithRand(rand.New(rand.NewPCG(r.cfg.Seed, idx))),
		graph.WithLogger(alog),
	}
	if r.cfg.Base != "" {
		gopts = append(gopts, graph.WithBase(r.cfg.Base))
	}
	if p := r.cfg.BaseNear; p != nil {
		gopts = append(gopts, graph.WithBaseNear(p.X(), p.Y()))
	}
	g, err := graph.New(r.desc, gopts...)
	if err != nil {
		return err
	}
	battery, err := energy.New(r.cfg.Energy)
	if err != nil {
		return err
	}
	m, err := flight.New(g, battery, r.kernel, r.cfg.Flight,
		flight.WithID(id),
		flight.WithEpoch(r.start),
		flight.WithLogger(r.log),
		flight.WithTraffic(r.fleet),
		flight.WithListener(r.onEvent),
	)
	if err != nil {
		return err
	}
	m.SetMode(r.cfg.Mode)

	if err := r.fleet.Add(model.AgentDefinition{
		ID:       id,
		Name:     id,
		Base:     g.Base().ID,
		Strategy: r.cfg.Strategy,
		Mode:     r.cfg.Mode.String(),
	}); err != nil {
		return err
	}
	r.agents[id] = m
	r.order = append(r.order, id)
	return nil
}

// Begin launches every agent and the periodic sampling and exchange.
func (r *Runner) Begin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	for _, id := range r.order {
		m := r.agents[id]
		m.Go()
		r.publish(m)
	}
	if r.cfg.TrajectoryInterval > 0 {
		r.scheduleTrajectory()
	}
	if r.cfg.ExchangeInterval > 0 && len(r.order) > 1 {
		r.scheduleExchange()
	}
	r.log.Info(context.Background(), "run started",
		logging.Int("agents", len(r.order)),
		logging.String("strategy", r.cfg.Strategy),
		logging.String("mode", r.cfg.Mode.String()),
	)
}

// Halt stops every agent and the periodic tasks.
func (r *Runner) Halt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		r.agents[id].Stop()
	}
	r.kernel.Cancel(r.trajectoryEvent)
	r.kernel.Cancel(r.exchangeEvent)
	r.started = false
}

// RunFor advances simulated time by d and returns the number of events
// executed.
func (r *Runner) RunFor(d time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.kernel.Advance(d)
}

// AdvanceTo advances simulated time to t.
func (r *Runner) AdvanceTo(t time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.kernel.AdvanceTo(t)
}

// RunClock drives the run from a time controller until duration elapsed or
// ctx is done. The controller must start at the run start time.
func (r *Runner) RunClock(ctx context.Context, tc *timectrl.TimeController, duration time.Duration) <-chan struct{} {
	tc.AddListener(func(t time.Time) { r.AdvanceTo(t) })
	return tc.RunContext(ctx, duration)
}

// Now returns the current simulated time.
func (r *Runner) Now() time.Time { return r.kernel.Now() }

// Elapsed returns the simulated seconds since the start.
func (r *Runner) Elapsed() float64 { return r.kernel.Elapsed() }

// Exchanges returns the number of completed visit exchange rounds.
func (r *Runner) Exchanges() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exchanges
}

// Do runs fn with exclusive access to the agents.
func (r *Runner) Do(fn func(agents map[string]*flight.Machine)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.agents)
}

// AgentIDs returns the agent ids in creation order.
func (r *Runner) AgentIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Snapshot returns the current state of an agent.
func (r *Runner) Snapshot(id string) (model.AgentState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.agents[id]
	if !ok {
		return model.AgentState{}, fmt.Errorf("%w: %q", ErrUnknownAgent, id)
	}
	return snapshot(m, r.kernel.Now()), nil
}

// Stats returns the graph statistics of an agent.
func (r *Runner) Stats(id string) (graph.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.agents[id]
	if !ok {
		return graph.Stats{}, fmt.Errorf("%w: %q", ErrUnknownAgent, id)
	}
	return m.Graph().Stats(), nil
}

// SetMode switches the mission of an agent.
func (r *Runner) SetMode(id string, mode flight.Mode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAgent, id)
	}
	m.SetMode(mode)
	r.publish(m)
	return nil
}

// SetMonitoringDestination moves the monitoring station of an agent.
func (r *Runner) SetMonitoringDestination(id string, p geom.Point) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAgent, id)
	}
	m.SetMonitoringDestination(p)
	return nil
}

// MarshalVisits encodes the visit ledger of an agent for a peer.
func (r *Runner) MarshalVisits(id string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, id)
	}
	return m.Graph().MarshalVisitCounts(id)
}

// MergeVisits folds a payload produced by MarshalVisits into the ledger of
// agent id and returns the number of edges raised.
func (r *Runner) MergeVisits(id string, payload []byte) (int, error) {
	_, counts, err := graph.UnmarshalVisitCounts(payload)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.agents[id]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownAgent, id)
	}
	return m.Graph().MergeVisitCounts(counts), nil
}

// Results summarises every agent in creation order.
func (r *Runner) Results(cellWidth, cellHeight float64) []report.AgentResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]report.AgentResult, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, report.Summarize(r.agents[id], cellWidth, cellHeight))
	}
	return out
}

// Result summarises a single agent.
func (r *Runner) Result(id string, cellWidth, cellHeight float64) (report.AgentResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.agents[id]
	if !ok {
		return report.AgentResult{}, fmt.Errorf("%w: %q", ErrUnknownAgent, id)
	}
	return report.Summarize(m, cellWidth, cellHeight), nil
}

// onEvent runs inside kernel handlers with r.mu held.
func (r *Runner) onEvent(ev flight.Event) {
	if m, ok := r.agents[ev.Agent]; ok {
		r.publish(m)
	}
	for _, l := range r.listeners {
		l(ev)
	}
}

func (r *Runner) publish(m *flight.Machine) {
	if err := r.fleet.Update(snapshot(m, r.kernel.Now())); err != nil {
		r.log.Warn(context.Background(), "publish agent state failed", logging.Err(err))
	}
}

func (r *Runner) scheduleTrajectory() {
	r.trajectoryEvent = r.kernel.After(r.cfg.TrajectoryInterval, func() {
		for _, id := range r.order {
			m := r.agents[id]
			m.RecordTrajectory()
			r.publish(m)
		}
		r.scheduleTrajectory()
	})
}

// scheduleExchange broadcasts every agent's visit ledger to all the
// others. Merging keeps the larger count per edge, so the order of
// delivery does not matter.
func (r *Runner) scheduleExchange() {
	r.exchangeEvent = r.kernel.After(r.cfg.ExchangeInterval, func() {
		for _, from := range r.order {
			payload, err := r.agents[from].Graph().MarshalVisitCounts(from)
			if err != nil {
				r.log.Warn(context.Background(), "encode visit counts failed",
					logging.String("agent", from), logging.Err(err))
				continue
			}
			_, counts, err := graph.UnmarshalVisitCounts(payload)
			if err != nil {
				r.log.Warn(context.Background(), "decode visit counts failed",
					logging.String("agent", from), logging.Err(err))
				continue
			}
			for _, to := range r.order {
				if to == from {
					continue
				}
				if raised := r.agents[to].Graph().MergeVisitCounts(counts); raised > 0 {
					r.log.Debug(context.Background(), "merged peer visits",
						logging.String("from", from),
						logging.String("to", to),
						logging.Int("edges_raised", raised),
					)
				}
			}
		}
		r.exchanges++
		r.scheduleExchange()
	})
}

func snapshot(m *flight.Machine, now time.Time) model.AgentState {
	t := m.Now()
	pos, vel := m.Position(), m.Velocity()
	b := m.Battery()
	return model.AgentState{
		ID:          m.ID(),
		State:       m.State().String(),
		Mode:        m.Mode().String(),
		Node:        m.CurrentNode(),
		Position:    model.Position{X: pos.X, Y: pos.Y, Z: pos.Z},
		Velocity:    model.Position{X: vel.X, Y: vel.Y, Z: vel.Z},
		Energy:      b.Remaining(t),
		EnergyRatio: b.Ratio(t),
		Current:     b.Current(),
		LowEnergy:   m.LowEnergy(),
		Recharges:   m.Recharges(),
		SimTime:     t,
		UpdatedAt:   now,
	}
}
