package flight

import (
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/patrol-simulator/geom"
	"github.com/signalsfoundry/patrol-simulator/graph"
)

// State is the named state of a Machine.
type State int

const (
	Idle State = iota
	Ascending
	Cruising
	Observing
	Descending
	ReturningToBase
	AtBase
	Halted
)

var stateNames = [...]string{
	Idle:            "idle",
	Ascending:       "ascending",
	Cruising:        "cruising",
	Observing:       "observing",
	Descending:      "descending",
	ReturningToBase: "returning_to_base",
	AtBase:          "at_base",
	Halted:          "halted",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Airborne reports whether the state draws flight power.
func (s State) Airborne() bool {
	switch s {
	case Ascending, Cruising, Observing, Descending, ReturningToBase:
		return true
	}
	return false
}

// Mode is the mission of a Machine.
type Mode int

const (
	// Patrol walks the graph using the node strategies.
	Patrol Mode = iota
	// Monitor holds station over the monitoring destination.
	Monitor
)

func (m Mode) String() string {
	switch m {
	case Patrol:
		return "patrol"
	case Monitor:
		return "monitor"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode maps "patrol" or "monitor" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "patrol", "patrolling":
		return Patrol, nil
	case "monitor", "monitoring":
		return Monitor, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, s)
	}
}

var (
	// ErrNotArmed is returned when a machine lacks a graph, battery or
	// scheduler and cannot start.
	ErrNotArmed = errors.New("flight machine not armed")
	// ErrInvalidConfig is returned for non-physical configuration.
	ErrInvalidConfig = errors.New("invalid flight config")
)

// Config holds the per-agent flight parameters.
type Config struct {
	PauseDuration    time.Duration
	RechargeDuration time.Duration
	MonitorPeriod    time.Duration

	// Observation window size in metres, centred on the agent.
	CameraWidth  float64
	CameraHeight float64

	FlyAltitude     float64
	ObserveAltitude float64

	AscendSpeed  float64
	DescendSpeed float64
	CruiseSpeed  float64

	MonitorDestination geom.Point

	// RoundTrips divides the half-battery range used for the low-energy
	// threshold.
	RoundTrips int
}

// DefaultConfig returns the stock patrol parameters.
func DefaultConfig() Config {
	return Config{
		PauseDuration:      2 * time.Second,
		RechargeDuration:   5 * time.Second,
		MonitorPeriod:      2 * time.Second,
		CameraWidth:        20,
		CameraHeight:       40,
		FlyAltitude:        30,
		ObserveAltitude:    40,
		AscendSpeed:        3,
		DescendSpeed:       3,
		CruiseSpeed:        10,
		MonitorDestination: geom.Point{489.95, 551.41},
		RoundTrips:         1,
	}
}

// Validate rejects configurations that would stall or divide by zero.
func (c Config) Validate() error {
	switch {
	case c.PauseDuration <= 0:
		return fmt.Errorf("%w: pause duration must be positive", ErrInvalidConfig)
	case c.MonitorPeriod <= 0:
		return fmt.Errorf("%w: monitor period must be positive", ErrInvalidConfig)
	case c.RechargeDuration < 0:
		return fmt.Errorf("%w: negative recharge duration", ErrInvalidConfig)
	case c.AscendSpeed <= 0 || c.DescendSpeed <= 0 || c.CruiseSpeed <= 0:
		return fmt.Errorf("%w: speeds must be positive", ErrInvalidConfig)
	case c.FlyAltitude <= 0 || c.ObserveAltitude <= 0:
		return fmt.Errorf("%w: altitudes must be positive", ErrInvalidConfig)
	case c.RoundTrips <= 0:
		return fmt.Errorf("%w: round trips must be positive", ErrInvalidConfig)
	}
	return nil
}

// EventKind classifies notifications sent to a Listener.
type EventKind int

const (
	EventTransition EventKind = iota
	EventEdgeVisited
	EventTraffic
	EventLowEnergy
	EventRecharged
	EventHalted
)

// Event is a notification emitted by a Machine.
type Event struct {
	Kind  EventKind
	Agent string
	Time  float64 // simulated seconds

	From, To State
	Edge     graph.EdgeID
	Count    int
	Energy   float64 // joules remaining
}

// Listener receives machine events synchronously from the event handler.
type Listener func(Event)
