package model

import "time"

// Position is a point in the local patrol frame in metres.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// AgentDefinition represents a patrol UAV registered with the fleet.
type AgentDefinition struct {
	ID   string
	Name string

	// Base is the graph node the agent takes off from and recharges at.
	Base     string
	Strategy string // "random" or "leastvisited"
	Mode     string // "patrol" or "monitor"
}

// AgentState is the last published snapshot of an agent.
type AgentState struct {
	ID       string   `json:"agent"`
	State    string   `json:"state"` // flight state name, e.g. "cruising"
	Mode     string   `json:"mode"`
	Node     string   `json:"node,omitempty"` // last waypoint reached, empty while off the graph
	Position Position `json:"position"`
	Velocity Position `json:"velocity"`

	Energy      float64 `json:"energy_j"`
	EnergyRatio float64 `json:"energy_ratio"`
	Current     float64 `json:"current_a"`
	LowEnergy   bool    `json:"low_energy"`
	Recharges   int     `json:"recharges"`

	// SimTime is the simulated seconds since the run started.
	SimTime   float64   `json:"sim_time_s"`
	UpdatedAt time.Time `json:"updated_at"`
}
