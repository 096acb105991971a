package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agents != 1 || cfg.Strategy != "random" || cfg.Run.Clock != "batch" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.Flight.Pause != 2*time.Second || cfg.Flight.CruiseSpeed != 10 {
		t.Fatalf("flight defaults = %+v", cfg.Flight)
	}
	if got := cfg.EnergyParams(); got.Capacity != 18000 || len(got.Curve.Speeds) != 12 {
		t.Fatalf("energy params = %+v", got)
	}
	if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Validate without graph = %v, want ErrInvalid", err)
	}
}

func TestLoadPriority(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patrol.toml")
	toml := `
graph = "city.xml"
agents = 2
strategy = "leastvisited"

[flight]
cruise_speed = 12.0
pause = "3s"

[run]
clock = "realtime"
`
	if err := os.WriteFile(path, []byte(toml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PATROL_RUN__CLOCK", "accelerated")
	t.Setenv("PATROL_AGENTS", "3")

	f := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f.String("config", DefaultFile, "")
	f.Int("agents", 1, "")
	f.String("mode", "patrol", "")
	if err := f.Parse([]string{"--config", path, "--agents", "4"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(f)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Graph != "city.xml" || cfg.Strategy != "leastvisited" {
		t.Fatalf("file values lost: %+v", cfg)
	}
	if cfg.Flight.CruiseSpeed != 12 || cfg.Flight.Pause != 3*time.Second {
		t.Fatalf("flight = %+v", cfg.Flight)
	}
	if cfg.Flight.AscendSpeed != 3 {
		t.Fatalf("unset flight key lost its default: %+v", cfg.Flight)
	}
	if cfg.Run.Clock != "accelerated" {
		t.Fatalf("env did not override file: clock = %q", cfg.Run.Clock)
	}
	if cfg.Agents != 4 {
		t.Fatalf("flag did not override env: agents = %d", cfg.Agents)
	}
	if cfg.Mode != "patrol" {
		t.Fatalf("unchanged flag overrode default: mode = %q", cfg.Mode)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if ids := cfg.AgentIDs(); len(ids) != 4 || ids[0] != "uav-1" || ids[3] != "uav-4" {
		t.Fatalf("AgentIDs = %v", ids)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	f := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f.String("config", DefaultFile, "")
	if err := f.Parse([]string{"--config", filepath.Join(t.TempDir(), "nope.toml")}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if _, err := Load(f); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())
	base, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	base.Graph = "g.json"

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero agents", func(c *Config) { c.Agents = 0 }},
		{"bad mode", func(c *Config) { c.Mode = "loiter" }},
		{"bad clock", func(c *Config) { c.Run.Clock = "warp" }},
		{"zero tick", func(c *Config) { c.Run.Clock = "realtime"; c.Run.Tick = 0 }},
		{"zero cruise", func(c *Config) { c.Flight.CruiseSpeed = 0 }},
		{"zero voltage", func(c *Config) { c.Energy.Voltage = 0 }},
		{"short base_near", func(c *Config) { c.BaseNear = []float64{1} }},
		{"negative speed", func(c *Config) { c.Run.Speed = -2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatalf("Validate accepted %s", tt.name)
			}
		})
	}
}
