package sim

import (
	"fmt"

	"github.com/signalsfoundry/patrol-simulator/flight"
	"github.com/signalsfoundry/patrol-simulator/geom"
	"github.com/signalsfoundry/patrol-simulator/graph"
	"github.com/signalsfoundry/patrol-simulator/internal/config"
)

// ConfigFrom converts loaded settings into a run configuration.
func ConfigFrom(c *config.Config) (Config, error) {
	mode, err := flight.ParseMode(c.Mode)
	if err != nil {
		return Config{}, err
	}
	var near *geom.Point
	if len(c.BaseNear) == 2 {
		near = &geom.Point{c.BaseNear[0], c.BaseNear[1]}
	}
	return Config{
		BaseNear:           near,
		Flight:             c.FlightConfig(),
		Energy:             c.EnergyParams(),
		Strategy:           c.Strategy,
		Base:               c.Base,
		Mode:               mode,
		Seed:               c.Seed,
		TrajectoryInterval: c.Run.TrajectoryInterval,
		ExchangeInterval:   c.Run.ExchangeInterval,
	}, nil
}

// Load reads the configured graph file and returns a runner with every
// configured agent added. The run is not started.
func Load(c *config.Config, opts ...Option) (*Runner, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	desc, err := graph.LoadFile(c.Graph)
	if err != nil {
		return nil, fmt.Errorf("load graph %s: %w", c.Graph, err)
	}
	rc, err := ConfigFrom(c)
	if err != nil {
		return nil, err
	}
	r, err := NewRunner(desc, rc, opts...)
	if err != nil {
		return nil, err
	}
	for _, id := range c.AgentIDs() {
		if err := r.AddAgent(id); err != nil {
			return nil, err
		}
	}
	return r, nil
}
