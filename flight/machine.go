// Package flight implements the patrol state machine of a single UAV. The
// machine sequences ascend, observe, descend and cruise phases over a patrol
// graph, charges every phase to its battery, diverts to base when the
// remaining energy no longer covers the next leg and swaps the battery
// before resuming.
//
// A Machine is driven entirely by callbacks on a Scheduler and is not safe
// for concurrent use. At most one transition is pending at any time.
package flight

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/brunoga/deep"

	"github.com/signalsfoundry/patrol-simulator/energy"
	"github.com/signalsfoundry/patrol-simulator/geom"
	"github.com/signalsfoundry/patrol-simulator/graph"
	"github.com/signalsfoundry/patrol-simulator/internal/logging"
)

// arrivalTolerance is the planar distance below which the agent counts as
// being on a waypoint.
const arrivalTolerance = 1e-6

// legCheckpoints splits every cruise into this many equal parts. The
// camera window is sampled at each inner boundary.
const legCheckpoints = 4

// Scheduler is the subset of the event kernel a Machine needs.
type Scheduler interface {
	Schedule(at time.Time, f func()) (id string)
	Cancel(id string)
	Now() time.Time
}

// TrafficSource counts the vehicles other than agent inside a window.
type TrafficSource interface {
	CountInWindow(agent string, window geom.Region) int
}

// leg is a straight-line motion from one point to another.
type leg struct {
	from, to   geom.Vec3
	start, dur float64
}

// Machine is the flight state machine of one agent.
type Machine struct {
	id        string
	g         *graph.Graph
	battery   *energy.Model
	sched     Scheduler
	cfg       Config
	epoch     time.Time
	log       logging.Logger
	traffic   TrafficSource
	listeners []Listener

	state     State
	mode      Mode
	started   bool
	running   bool
	homing    bool
	lowEnergy bool
	recharges int

	leg      leg
	curNode  int // -1 while off the graph
	nextNode int

	// Node-to-node leg in progress. It survives interruptions so the edge
	// is marked once the agent reaches legTarget.
	legOrigin int
	legTarget int

	pending    string
	deferred   func()
	deferredAt float64

	rangeLimit   float64
	trajectory   []Sample
	observations []Observation
}

// Option configures a Machine.
type Option func(*Machine)

// WithID sets the agent id used in logs, events and results.
func WithID(id string) Option {
	return func(m *Machine) { m.id = id }
}

// WithLogger sets the machine logger.
func WithLogger(l logging.Logger) Option {
	return func(m *Machine) { m.log = l }
}

// WithTraffic sets the source sampled while observing and along cruise
// legs.
func WithTraffic(t TrafficSource) Option {
	return func(m *Machine) { m.traffic = t }
}

// WithListener registers a listener for machine events.
func WithListener(l Listener) Option {
	return func(m *Machine) { m.listeners = append(m.listeners, l) }
}

// WithEpoch sets the time that maps to zero simulated seconds. It defaults
// to the scheduler's time at construction.
func WithEpoch(t time.Time) Option {
	return func(m *Machine) { m.epoch = t }
}

// New arms a machine at the base of g. It fails with ErrNotArmed when any
// collaborator is missing.
func New(g *graph.Graph, battery *energy.Model, s Scheduler, cfg Config, opts ...Option) (*Machine, error) {
	if g == nil || g.Len() == 0 {
		return nil, fmt.Errorf("%w: no graph base", ErrNotArmed)
	}
	if battery == nil {
		return nil, fmt.Errorf("%w: no battery", ErrNotArmed)
	}
	if s == nil {
		return nil, fmt.Errorf("%w: no scheduler", ErrNotArmed)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Machine{
		id:      "uav",
		g:       g,
		battery: battery,
		sched:   s,
		cfg:     cfg,
		epoch:   s.Now(),
		state:   Idle,
		mode:    Patrol,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logging.Noop()
	}
	m.log = m.log.With(logging.String("agent", m.id))

	base := g.Base()
	m.curNode = base.Index()
	m.nextNode = base.Index()
	m.legOrigin, m.legTarget = -1, -1
	pos := geom.At(base.Pos, 0)
	m.leg = leg{from: pos, to: pos}

	m.rangeLimit = battery.FlyTime() * cfg.CruiseSpeed / 2 / float64(cfg.RoundTrips)
	m.arm(battery)
	return m, nil
}

func (m *Machine) arm(b *energy.Model) {
	b.SetLowBatteryThreshold(m.rangeLimit, m.cfg.ObserveAltitude, m.cfg.AscendSpeed, m.cfg.DescendSpeed, m.cfg.CruiseSpeed)
	b.ArmDepletion()
}

// ID returns the agent id.
func (m *Machine) ID() string { return m.id }

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Mode returns the current mission mode.
func (m *Machine) Mode() Mode { return m.mode }

// Running reports whether the machine is flying its mission.
func (m *Machine) Running() bool { return m.running }

// LowEnergy reports whether low-energy mode is active.
func (m *Machine) LowEnergy() bool { return m.lowEnergy }

// Recharges returns the number of battery swaps performed.
func (m *Machine) Recharges() int { return m.recharges }

// Battery returns the battery currently installed.
func (m *Machine) Battery() *energy.Model { return m.battery }

// Graph returns the patrol graph.
func (m *Machine) Graph() *graph.Graph { return m.g }

// Config returns the flight configuration.
func (m *Machine) Config() Config { return m.cfg }

// HasPending reports whether a transition is scheduled.
func (m *Machine) HasPending() bool { return m.pending != "" }

// CurrentNode returns the id of the last waypoint reached, or "" while
// the agent is off the graph.
func (m *Machine) CurrentNode() string {
	if m.curNode < 0 {
		return ""
	}
	return m.g.Node(m.curNode).ID
}

// Target returns the end point of the current leg.
func (m *Machine) Target() geom.Vec3 { return m.leg.to }

// Now returns the simulated seconds since the epoch.
func (m *Machine) Now() float64 { return m.now() }

func (m *Machine) now() float64 {
	return m.sched.Now().Sub(m.epoch).Seconds()
}

func (m *Machine) at(sec float64) time.Time {
	return m.epoch.Add(time.Duration(sec * float64(time.Second)))
}

// Position interpolates the position along the current leg.
func (m *Machine) Position() geom.Vec3 {
	l := m.leg
	if l.dur <= 0 {
		return l.to
	}
	return geom.Lerp(l.from, l.to, (m.now()-l.start)/l.dur)
}

// Velocity returns the velocity along the current leg, zero when
// stationary.
func (m *Machine) Velocity() geom.Vec3 {
	l := m.leg
	now := m.now()
	if l.dur <= 0 || now < l.start || now >= l.start+l.dur {
		return geom.Vec3{}
	}
	return l.to.Sub(l.from).Scale(1 / l.dur)
}

// Start arms the mission and records the first trajectory sample.
func (m *Machine) Start() {
	if m.started {
		return
	}
	m.started = true
	m.RecordTrajectory()
	m.log.Info(context.Background(), "agent started",
		logging.String("base", m.g.Base().ID),
		logging.Float("range_m", m.rangeLimit),
		logging.Float("low_ratio", m.battery.LowRatio()),
	)
}

// Go launches or resumes the mission.
func (m *Machine) Go() {
	if !m.started {
		m.Start()
	}
	if m.running || m.state == Halted {
		return
	}
	m.running = true

	switch {
	case m.state == Idle:
		m.climbTo(m.cfg.ObserveAltitude, m.route)
	case m.state == AtBase:
		m.dock()
	case m.homing:
		m.returnToBase()
	default:
		m.redirect()
	}
}

// Stop freezes the agent in place and cancels its pending transition.
func (m *Machine) Stop() {
	if !m.running {
		return
	}
	m.cancelPending()
	m.freeze(m.Position())
	m.battery.SetPhase(m.now(), energy.Idle, 0)
	m.running = false
	m.log.Info(context.Background(), "agent stopped", logging.String("state", m.state.String()))
}

// SetMode switches the mission. An airborne agent abandons its current
// leg at the interpolated position and replans; an agent returning to or
// waiting at base applies the mode once it takes off again.
func (m *Machine) SetMode(mode Mode) {
	if m.mode == mode {
		return
	}
	m.log.Info(context.Background(), "mode changed",
		logging.String("from", m.mode.String()),
		logging.String("to", mode.String()),
	)
	m.mode = mode
	if !m.running || m.homing || !m.state.Airborne() {
		return
	}
	m.redirect()
}

// SetMonitoringDestination moves the monitoring station. An agent already
// monitoring flies to the new point.
func (m *Machine) SetMonitoringDestination(p geom.Point) {
	m.cfg.MonitorDestination = p
	if m.running && m.mode == Monitor && !m.homing && m.state.Airborne() {
		m.redirect()
	}
}

// EncodeVisitCounts serialises the shared visit ledger for peers.
func (m *Machine) EncodeVisitCounts() string { return m.g.EncodeVisitCounts() }

// MergeMobilityData folds a peer ledger produced by EncodeVisitCounts into
// the local graph.
func (m *Machine) MergeMobilityData(data string) error {
	raised, err := m.g.MergeEncoded(data)
	if err != nil {
		return fmt.Errorf("MergeMobilityData: %w", err)
	}
	if raised > 0 {
		m.log.Debug(context.Background(), "merged peer visit counts", logging.Int("edges_raised", raised))
	}
	return nil
}

// Results renders the per-agent summary line.
func (m *Machine) Results() string {
	return fmt.Sprintf("result of %s:%snumber of recharges:%d", m.id, m.g.Stats(), m.recharges)
}

// Trajectory returns a copy of the recorded samples.
func (m *Machine) Trajectory() []Sample { return deep.MustCopy(m.trajectory) }

// Observations returns a copy of the traffic samples.
func (m *Machine) Observations() []Observation { return deep.MustCopy(m.observations) }

// ---- transitions ----

func (m *Machine) transition(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.log.Debug(context.Background(), "state transition",
		logging.String("from", from.String()),
		logging.String("to", to.String()),
	)
	m.emit(Event{Kind: EventTransition, From: from, To: to})
}

func (m *Machine) emit(ev Event) {
	if len(m.listeners) == 0 {
		return
	}
	now := m.now()
	ev.Agent = m.id
	ev.Time = now
	ev.Energy = m.battery.Remaining(now)
	for _, l := range m.listeners {
		l(ev)
	}
}

func (m *Machine) freeze(p geom.Vec3) {
	m.leg = leg{from: p, to: p, start: m.now()}
}

// setLeg starts a straight leg from the current position and sets the
// matching battery draw. It returns the leg duration.
func (m *Machine) setLeg(to geom.Vec3, speed float64, phase energy.Phase) float64 {
	now := m.now()
	from := m.Position()
	dur := 0.0
	if speed > 0 {
		dur = from.DistanceTo(to) / speed
	}
	m.leg = leg{from: from, to: to, start: now, dur: dur}
	m.battery.SetPhase(now, phase, speed)
	return dur
}

func (m *Machine) cancelPending() {
	if m.pending != "" {
		m.sched.Cancel(m.pending)
		m.pending = ""
	}
	m.deferred = nil
}

// schedule replaces the pending transition with next after delay seconds.
// When the battery would cross its low threshold or run empty first, the
// energy event is scheduled instead and next is deferred behind it.
func (m *Machine) schedule(delay float64, next func()) {
	m.cancelPending()
	now := m.now()
	if delay < 0 || math.IsNaN(delay) {
		delay = 0
	}

	if m.state.Airborne() {
		tl := m.battery.TimeUntilLow(now)
		te := m.battery.TimeUntilEmpty(now)
		switch {
		case tl < delay && tl <= te:
			m.deferred, m.deferredAt = next, now+delay
			m.pending = m.sched.Schedule(m.at(now+tl), m.fire(m.onLowEnergy))
			return
		case te < delay:
			m.deferred, m.deferredAt = next, now+delay
			m.pending = m.sched.Schedule(m.at(now+te), m.fire(m.onDepleted))
			return
		}
	}
	m.pending = m.sched.Schedule(m.at(now+delay), m.fire(next))
}

func (m *Machine) fire(fn func()) func() {
	return func() {
		m.pending = ""
		fn()
	}
}

// climbTo changes altitude in place, then calls next.
func (m *Machine) climbTo(alt float64, next func()) {
	pos := m.Position()
	if math.Abs(pos.Z-alt) < arrivalTolerance {
		next()
		return
	}
	state, speed, phase := Ascending, m.cfg.AscendSpeed, energy.Ascend
	if alt < pos.Z {
		state, speed, phase = Descending, m.cfg.DescendSpeed, energy.Descend
	}
	m.transition(state)
	target := pos
	target.Z = alt
	dur := m.setLeg(target, speed, phase)
	m.schedule(dur, func() {
		m.freeze(target)
		next()
	})
}

// route puts the agent on station for its mode: a graph node in patrol
// mode, the monitoring destination in monitor mode. Off the graph in patrol
// mode it heads for the target of an interrupted leg, else for the nearest
// node.
func (m *Machine) route() {
	pos := m.Position()
	switch m.mode {
	case Monitor:
		if geom.Distance(pos.XY(), m.cfg.MonitorDestination) > arrivalTolerance {
			m.curNode = -1
			m.flyTo(m.cfg.MonitorDestination, -1)
			return
		}
	default:
		if m.curNode < 0 || geom.Distance(pos.XY(), m.g.Node(m.curNode).Pos) > arrivalTolerance {
			target := m.legTarget
			if target < 0 {
				target = m.g.FindNearest(pos.X, pos.Y).Index()
			}
			m.curNode = -1
			m.flyTo(m.g.Node(target).Pos, target)
			return
		}
	}
	m.climbTo(m.cfg.ObserveAltitude, m.observe)
}

// redirect abandons the current leg and replans from the interpolated
// position.
func (m *Machine) redirect() {
	m.cancelPending()
	pos := m.Position()
	m.freeze(pos)
	if pos.Z <= 0 {
		m.climbTo(m.cfg.ObserveAltitude, m.route)
		return
	}
	m.route()
}

func (m *Machine) observe() {
	m.transition(Observing)
	now := m.now()
	pos := m.Position()
	m.freeze(pos)
	m.battery.SetPhase(now, energy.Hover, 0)
	m.sampleTraffic(pos, false)

	if m.mode == Monitor {
		if m.mustReturn(pos.XY()) {
			return
		}
		m.schedule(m.cfg.MonitorPeriod.Seconds(), m.observe)
		return
	}
	m.schedule(m.cfg.PauseDuration.Seconds(), m.resume)
}

func (m *Machine) resume() {
	if m.curNode < 0 {
		m.route()
		return
	}
	next := m.g.SelectNext(m.curNode)
	target := m.g.Node(next).Pos
	if m.mustReturn(target) {
		return
	}
	m.nextNode = next
	m.climbTo(m.cfg.FlyAltitude, func() { m.cruise(target, next) })
}

// flyTo takes off if needed and cruises to target at the current altitude.
func (m *Machine) flyTo(target geom.Point, node int) {
	if m.Position().Z <= 0 {
		m.climbTo(m.cfg.FlyAltitude, func() { m.flyTo(target, node) })
		return
	}
	if m.mustReturn(target) {
		return
	}
	m.cruise(target, node)
}

func (m *Machine) cruise(target geom.Point, node int) {
	if m.curNode >= 0 && node >= 0 {
		m.legOrigin, m.legTarget = m.curNode, node
	} else if node >= 0 && node != m.legTarget {
		m.legOrigin, m.legTarget = -1, -1
	}
	m.transition(Cruising)
	dur := m.setLeg(geom.At(target, m.Position().Z), m.cfg.CruiseSpeed, energy.Move)
	if dur <= 0 {
		m.schedule(0, func() { m.arrive(node) })
		return
	}
	m.checkpoint(1, node)
}

// checkpoint schedules the k-th boundary of the current leg. Inner
// boundaries sample traffic, the last one completes the leg.
func (m *Machine) checkpoint(k, node int) {
	l := m.leg
	at := l.start + l.dur*float64(k)/legCheckpoints
	if k >= legCheckpoints {
		m.schedule(l.start+l.dur-m.now(), func() { m.arrive(node) })
		return
	}
	m.schedule(at-m.now(), func() {
		m.sampleTraffic(m.Position(), true)
		m.checkpoint(k+1, node)
	})
}

// arrive completes a cruise leg. Reaching a graph node from another node
// marks the traversed edge, including a leg that was interrupted and
// resumed towards the same node.
func (m *Machine) arrive(node int) {
	m.freeze(m.leg.to)
	if node >= 0 {
		from := m.curNode
		if from < 0 && node == m.legTarget {
			from = m.legOrigin
		}
		if from >= 0 && from != node {
			a, b := m.g.Node(from).ID, m.g.Node(node).ID
			m.g.MarkEdge(a, b, m.now())
			m.emit(Event{Kind: EventEdgeVisited, Edge: graph.Edge(a, b)})
		}
		m.curNode = node
		m.legOrigin, m.legTarget = -1, -1
	}
	m.route()
}

// hold is the hover time of one observation in the current mode.
func (m *Machine) hold() float64 {
	if m.mode == Monitor {
		return m.cfg.MonitorPeriod.Seconds()
	}
	return m.cfg.PauseDuration.Seconds()
}

// altitudeCycle is the energy of one climb and descent between the
// observation and flight altitudes.
func (m *Machine) altitudeCycle() float64 {
	cycle := math.Abs(m.cfg.ObserveAltitude - m.cfg.FlyAltitude)
	return m.battery.Cost(energy.Ascend, cycle, m.cfg.AscendSpeed) +
		m.battery.Cost(energy.Descend, cycle, m.cfg.DescendSpeed)
}

// mustReturn diverts to base when the energy left cannot cover flying to
// target and from there to base. It reports whether it diverted.
func (m *Machine) mustReturn(target geom.Point) bool {
	now := m.now()
	pos := m.Position().XY()
	base := m.g.Base().Pos
	trip := geom.Distance(pos, target) + geom.Distance(target, base)
	if !m.battery.IsLowWithMargin(trip, m.cfg.ObserveAltitude, m.cfg.CruiseSpeed, m.cfg.DescendSpeed, m.hold(), m.altitudeCycle(), now) {
		return false
	}
	m.lowEnergy = true
	m.log.Info(context.Background(), "energy insufficient for next leg",
		logging.Float("trip_m", trip),
		logging.Float("remaining_j", m.battery.Remaining(now)),
	)
	m.returnToBase()
	return true
}

func (m *Machine) onLowEnergy() {
	next, at := m.deferred, m.deferredAt
	m.deferred = nil
	m.battery.DisarmLow()
	m.lowEnergy = true
	m.log.Info(context.Background(), "low energy mode activated",
		logging.Float("remaining_j", m.battery.Remaining(m.now())),
	)
	m.emit(Event{Kind: EventLowEnergy})

	if !m.homing && m.mustReturn(m.leg.to.XY()) {
		return
	}
	if next != nil {
		m.schedule(at-m.now(), next)
	}
}

func (m *Machine) onDepleted() {
	m.deferred = nil
	m.battery.DisarmDepletion()
	m.halt()
}

// halt is the terminal state for an agent that ran out of energy in the
// air.
func (m *Machine) halt() {
	m.cancelPending()
	now := m.now()
	pos := m.Position()
	m.freeze(pos)
	m.transition(Halted)
	m.battery.SetPhase(now, energy.Idle, 0)
	m.running = false
	m.homing = false
	m.log.Error(context.Background(), "energy depleted in flight",
		logging.Float("x", pos.X),
		logging.Float("y", pos.Y),
		logging.Float("z", pos.Z),
	)
	m.emit(Event{Kind: EventHalted})
}

func (m *Machine) returnToBase() {
	m.homing = true
	m.transition(ReturningToBase)
	pos := m.Position()
	m.log.Info(context.Background(), "returning to base",
		logging.Float("x", pos.X),
		logging.Float("y", pos.Y),
	)
	dur := m.setLeg(geom.At(m.g.Base().Pos, pos.Z), m.cfg.CruiseSpeed, energy.Move)
	m.schedule(dur, m.baseReached)
}

func (m *Machine) baseReached() {
	m.freeze(m.leg.to)
	m.curNode = m.g.Base().Index()
	m.legOrigin, m.legTarget = -1, -1
	m.climbTo(0, m.dock)
}

func (m *Machine) dock() {
	m.freeze(m.Position())
	m.transition(AtBase)
	m.battery.SetPhase(m.now(), energy.Idle, 0)
	m.schedule(m.cfg.RechargeDuration.Seconds(), m.swapBattery)
}

func (m *Machine) swapBattery() {
	now := m.now()
	m.battery = m.battery.CloneForSwap(now)
	m.arm(m.battery)
	m.recharges++
	m.lowEnergy = false
	m.homing = false
	m.log.Info(context.Background(), "battery swapped", logging.Int("recharges", m.recharges))
	m.emit(Event{Kind: EventRecharged, Count: m.recharges})
	m.climbTo(m.cfg.ObserveAltitude, m.route)
}
