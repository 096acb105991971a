package main

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/patrol-simulator/internal/logging"
	"github.com/signalsfoundry/patrol-simulator/internal/observability"
	"github.com/signalsfoundry/patrol-simulator/internal/sim"
)

func TestRunSimLoopAdvancesAndPublishesStats(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.Duration = 2 * time.Minute

	patrol, err := observability.NewPatrolCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewPatrolCollector: %v", err)
	}
	runner, err := sim.Load(cfg, sim.WithListener(patrol.ObserveEvent))
	if err != nil {
		t.Fatalf("sim.Load: %v", err)
	}
	runner.Begin()

	select {
	case <-runSimLoop(context.Background(), cfg, runner, patrol, logging.Noop()):
	case <-time.After(5 * time.Second):
		t.Fatalf("simulation loop did not finish")
	}

	if got := runner.Elapsed(); got != 120 {
		t.Fatalf("Elapsed = %v, want 120", got)
	}
	if got := testutil.ToFloat64(patrol.Coverage.WithLabelValues("uav-1")); got <= 0 {
		t.Fatalf("coverage gauge = %v, want > 0", got)
	}
	if got := testutil.ToFloat64(patrol.EdgeVisits.WithLabelValues("uav-2")); got == 0 {
		t.Fatalf("no edge visits recorded for uav-2")
	}
}
