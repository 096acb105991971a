// Package config loads simulator settings from defaults, an optional TOML
// file, PATROL_ environment variables and command-line flags, in increasing
// order of priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/signalsfoundry/patrol-simulator/energy"
	"github.com/signalsfoundry/patrol-simulator/flight"
	"github.com/signalsfoundry/patrol-simulator/geom"
	"github.com/signalsfoundry/patrol-simulator/internal/logging"
	"github.com/signalsfoundry/patrol-simulator/internal/observability"
)

// DefaultFile is read when no --config flag is given. A missing default
// file is not an error.
const DefaultFile = "patrol.toml"

// EnvPrefix prefixes environment overrides. Nested keys use a double
// underscore, e.g. PATROL_FLIGHT__CRUISE_SPEED=12.
const EnvPrefix = "PATROL_"

// ErrInvalid is wrapped by Validate failures.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all configuration for the simulator and control server.
type Config struct {
	Graph       string `koanf:"graph"`
	Base        string `koanf:"base"`
	Strategy    string `koanf:"strategy"`
	Mode        string `koanf:"mode"`
	Agents      int    `koanf:"agents"`
	AgentPrefix string `koanf:"agent_prefix"`
	Seed        uint64 `koanf:"seed"`

	// BaseNear is an optional [x, y] used to pick the base when Base is
	// empty and no node is tagged base.
	BaseNear []float64 `koanf:"base_near"`

	Flight  Flight  `koanf:"flight"`
	Energy  Energy  `koanf:"energy"`
	Run     Run     `koanf:"run"`
	Report  Report  `koanf:"report"`
	Control Control `koanf:"control"`
	Log     Log     `koanf:"log"`
	Tracing Tracing `koanf:"tracing"`
}

// Flight mirrors flight.Config.
type Flight struct {
	Pause           time.Duration `koanf:"pause"`
	Recharge        time.Duration `koanf:"recharge"`
	MonitorPeriod   time.Duration `koanf:"monitor_period"`
	CameraWidth     float64       `koanf:"camera_width"`
	CameraHeight    float64       `koanf:"camera_height"`
	FlyAltitude     float64       `koanf:"fly_altitude"`
	ObserveAltitude float64       `koanf:"observe_altitude"`
	AscendSpeed     float64       `koanf:"ascend_speed"`
	DescendSpeed    float64       `koanf:"descend_speed"`
	CruiseSpeed     float64       `koanf:"cruise_speed"`
	MonitorX        float64       `koanf:"monitor_x"`
	MonitorY        float64       `koanf:"monitor_y"`
	RoundTrips      int           `koanf:"round_trips"`
}

// Energy mirrors energy.Params. An empty curve selects the default one.
type Energy struct {
	Voltage      float64   `koanf:"voltage"`
	Capacity     float64   `koanf:"capacity"`
	AscendPower  float64   `koanf:"ascend_power"`
	DescendPower float64   `koanf:"descend_power"`
	HoverPower   float64   `koanf:"hover_power"`
	Order        int       `koanf:"order"`
	Speeds       []float64 `koanf:"speeds"`
	Powers       []float64 `koanf:"powers"`
}

// Run controls how simulated time advances.
type Run struct {
	// Clock is "batch", "realtime" or "accelerated".
	Clock              string        `koanf:"clock"`
	Duration           time.Duration `koanf:"duration"`
	Tick               time.Duration `koanf:"tick"`
	Speed              float64       `koanf:"speed"`
	TrajectoryInterval time.Duration `koanf:"trajectory_interval"`
	ExchangeInterval   time.Duration `koanf:"exchange_interval"`
}

// Report selects the end-of-run projections.
type Report struct {
	CellWidth  float64 `koanf:"cell_width"`
	CellHeight float64 `koanf:"cell_height"`
	JSON       bool    `koanf:"json"`
}

// Control configures the gRPC control server.
type Control struct {
	Listen        string `koanf:"listen"`
	MetricsListen string `koanf:"metrics_listen"`
}

// Log mirrors logging.Config.
type Log struct {
	Level      string `koanf:"level"`
	Format     string `koanf:"format"`
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days"`
	Compress   bool   `koanf:"compress"`
}

// Tracing mirrors observability.TracingConfig.
type Tracing struct {
	Enabled     bool    `koanf:"enabled"`
	Exporter    string  `koanf:"exporter"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	SampleRatio float64 `koanf:"sample_ratio"`
}

func defaults() map[string]interface{} {
	fc := flight.DefaultConfig()
	ep := energy.DefaultParams()
	return map[string]interface{}{
		"graph":        "",
		"base":         "",
		"strategy":     "random",
		"mode":         "patrol",
		"agents":       1,
		"agent_prefix": "uav-",
		"seed":         uint64(1),
		"flight": map[string]interface{}{
			"pause":            fc.PauseDuration,
			"recharge":         fc.RechargeDuration,
			"monitor_period":   fc.MonitorPeriod,
			"camera_width":     fc.CameraWidth,
			"camera_height":    fc.CameraHeight,
			"fly_altitude":     fc.FlyAltitude,
			"observe_altitude": fc.ObserveAltitude,
			"ascend_speed":     fc.AscendSpeed,
			"descend_speed":    fc.DescendSpeed,
			"cruise_speed":     fc.CruiseSpeed,
			"monitor_x":        fc.MonitorDestination.X(),
			"monitor_y":        fc.MonitorDestination.Y(),
			"round_trips":      fc.RoundTrips,
		},
		"energy": map[string]interface{}{
			"voltage":       ep.Voltage,
			"capacity":      ep.Capacity,
			"ascend_power":  ep.AscendPower,
			"descend_power": ep.DescendPower,
			"hover_power":   ep.HoverPower,
			"order":         ep.Order,
		},
		"run": map[string]interface{}{
			"clock":               "batch",
			"duration":            time.Hour,
			"tick":                100 * time.Millisecond,
			"speed":               1.0,
			"trajectory_interval": time.Second,
			"exchange_interval":   10 * time.Second,
		},
		"report": map[string]interface{}{
			"cell_width":  20.0,
			"cell_height": 20.0,
			"json":        false,
		},
		"control": map[string]interface{}{
			"listen":         ":50061",
			"metrics_listen": ":9090",
		},
		"log": map[string]interface{}{
			"level":        "info",
			"format":       "text",
			"file":         "",
			"max_size_mb":  50,
			"max_backups":  3,
			"max_age_days": 0,
			"compress":     false,
		},
		"tracing": map[string]interface{}{
			"enabled":      false,
			"exporter":     "stdout",
			"endpoint":     "",
			"service_name": "patrol-control",
			"sample_ratio": 1.0,
		},
	}
}

// Load loads configuration from defaults, config file, environment variables, and flags.
// Priority: Flags > Env > Config File > Defaults
//
// The file is taken from a "config" flag when f defines one, otherwise
// DefaultFile is tried.
func Load(f *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(makeMapProvider(defaults()), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	path, explicit := DefaultFile, false
	if f != nil {
		if p, err := f.GetString("config"); err == nil && p != "" {
			path, explicit = p, f.Changed("config")
		}
	}
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// 3. Environment variables
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags
	if f != nil {
		if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the fields the simulator cannot default.
func (c *Config) Validate() error {
	if c.Graph == "" {
		return fmt.Errorf("%w: graph file is required", ErrInvalid)
	}
	if c.Agents < 1 {
		return fmt.Errorf("%w: agents must be at least 1", ErrInvalid)
	}
	if n := len(c.BaseNear); n != 0 && n != 2 {
		return fmt.Errorf("%w: base_near needs exactly two coordinates", ErrInvalid)
	}
	if _, err := flight.ParseMode(c.Mode); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch c.Run.Clock {
	case "batch", "realtime", "accelerated":
	default:
		return fmt.Errorf("%w: unknown run clock %q", ErrInvalid, c.Run.Clock)
	}
	if c.Run.Clock != "batch" && c.Run.Tick <= 0 {
		return fmt.Errorf("%w: tick must be positive", ErrInvalid)
	}
	if c.Run.Speed < 0 {
		return fmt.Errorf("%w: speed must not be negative", ErrInvalid)
	}
	if err := c.FlightConfig().Validate(); err != nil {
		return err
	}
	if _, err := energy.New(c.EnergyParams()); err != nil {
		return err
	}
	return nil
}

// AgentIDs returns the ids of the configured agents.
func (c *Config) AgentIDs() []string {
	ids := make([]string, c.Agents)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s%d", c.AgentPrefix, i+1)
	}
	return ids
}

// FlightConfig converts the flight section.
func (c *Config) FlightConfig() flight.Config {
	return flight.Config{
		PauseDuration:      c.Flight.Pause,
		RechargeDuration:   c.Flight.Recharge,
		MonitorPeriod:      c.Flight.MonitorPeriod,
		CameraWidth:        c.Flight.CameraWidth,
		CameraHeight:       c.Flight.CameraHeight,
		FlyAltitude:        c.Flight.FlyAltitude,
		ObserveAltitude:    c.Flight.ObserveAltitude,
		AscendSpeed:        c.Flight.AscendSpeed,
		DescendSpeed:       c.Flight.DescendSpeed,
		CruiseSpeed:        c.Flight.CruiseSpeed,
		MonitorDestination: geom.Point{c.Flight.MonitorX, c.Flight.MonitorY},
		RoundTrips:         c.Flight.RoundTrips,
	}
}

// EnergyParams converts the energy section.
func (c *Config) EnergyParams() energy.Params {
	p := energy.DefaultParams()
	p.Voltage = c.Energy.Voltage
	p.Capacity = c.Energy.Capacity
	p.AscendPower = c.Energy.AscendPower
	p.DescendPower = c.Energy.DescendPower
	p.HoverPower = c.Energy.HoverPower
	p.Order = c.Energy.Order
	if len(c.Energy.Speeds) > 0 || len(c.Energy.Powers) > 0 {
		p.Curve = energy.PowerCurve{Speeds: c.Energy.Speeds, Powers: c.Energy.Powers}
	}
	return p
}

// LoggingConfig converts the log section.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}

// TracingConfig converts the tracing section.
func (c *Config) TracingConfig() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Tracing.Enabled,
		ServiceName: c.Tracing.ServiceName,
		Exporter:    c.Tracing.Exporter,
		Endpoint:    c.Tracing.Endpoint,
		SampleRatio: c.Tracing.SampleRatio,
		NeverSample: c.Tracing.SampleRatio <= 0,
	}
}

// Helper to use map as a provider
type mapProvider struct {
	m map[string]interface{}
}

func makeMapProvider(m map[string]interface{}) *mapProvider {
	return &mapProvider{m: m}
}

func (p *mapProvider) Read() (map[string]interface{}, error) {
	return p.m, nil
}

func (p *mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}
