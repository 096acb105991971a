package flight

import (
	"github.com/signalsfoundry/patrol-simulator/geom"
)

// Sample is one recorded trajectory point.
type Sample struct {
	T   float64 // simulated seconds
	Pos geom.Vec3
}

// Observation is the traffic count seen during one observation.
type Observation struct {
	Time   float64
	Window geom.Region
	Count  int
	// InTransit marks samples taken along a cruise leg rather than while
	// hovering on station.
	InTransit bool
}

// RecordTrajectory appends the current position to the trajectory.
func (m *Machine) RecordTrajectory() {
	m.trajectory = append(m.trajectory, Sample{T: m.now(), Pos: m.Position()})
}

// sampleTraffic counts the other vehicles inside the camera footprint
// centred on pos.
func (m *Machine) sampleTraffic(pos geom.Vec3, inTransit bool) {
	window := geom.RegionAround(pos.XY(), m.cfg.CameraWidth, m.cfg.CameraHeight)
	count := 0
	if m.traffic != nil {
		count = m.traffic.CountInWindow(m.id, window)
	}
	m.observations = append(m.observations, Observation{Time: m.now(), Window: window, Count: count, InTransit: inTransit})
	m.emit(Event{Kind: EventTraffic, Count: count})
}
