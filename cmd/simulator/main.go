package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/iancoleman/orderedmap"
	"github.com/spf13/pflag"

	"github.com/signalsfoundry/patrol-simulator/internal/config"
	"github.com/signalsfoundry/patrol-simulator/internal/logging"
	"github.com/signalsfoundry/patrol-simulator/internal/sim"
	"github.com/signalsfoundry/patrol-simulator/report"
	"github.com/signalsfoundry/patrol-simulator/timectrl"
)

func newFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("simulator", pflag.ExitOnError)
	flags.String("config", config.DefaultFile, "path to a TOML configuration file")
	flags.String("graph", "", "patrol graph file (.json or .xml)")
	flags.String("base", "", "id of the base node; defaults to the node typed base")
	flags.Int("agents", 1, "number of agents")
	flags.String("strategy", "random", "next-hop strategy: random or leastvisited")
	flags.String("mode", "patrol", "mission: patrol or monitor")
	flags.Uint64("seed", 1, "random seed")
	flags.Duration("run.duration", 0, "simulated duration")
	flags.String("run.clock", "batch", "batch, realtime or accelerated")
	flags.Float64("run.speed", 1, "simulated seconds per wall second for the realtime clock")
	flags.Bool("report.json", false, "print results as JSON")
	return flags
}

func main() {
	flags := newFlagSet()
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logging.New(cfg.LoggingConfig())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, os.Stdout); err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		os.Exit(1)
	}
}

// run simulates the configured duration and prints one result per agent.
// Batch runs jump from event to event; the other clocks pace the kernel
// with a time controller and stop early when ctx is done.
func run(ctx context.Context, cfg *config.Config, log logging.Logger, out io.Writer) error {
	runner, err := sim.Load(cfg, sim.WithLogger(log))
	if err != nil {
		return err
	}
	runner.Begin()

	log.Info(ctx, "starting simulation",
		logging.String("run_id", runner.ID()),
		logging.String("graph", cfg.Graph),
		logging.Duration("duration", cfg.Run.Duration),
		logging.String("clock", cfg.Run.Clock),
	)
	if cfg.Run.Clock == "batch" {
		runner.RunFor(cfg.Run.Duration)
	} else {
		tc := timectrl.NewTimeController(runner.Start(), cfg.Run.Tick, timectrl.ParseMode(cfg.Run.Clock))
		tc.Speed = cfg.Run.Speed
		<-runner.RunClock(ctx, tc, cfg.Run.Duration)
	}
	log.Info(ctx, "simulation complete",
		logging.Float("elapsed_s", runner.Elapsed()),
		logging.Int("exchanges", runner.Exchanges()),
	)

	return writeResults(out, runner.Results(cfg.Report.CellWidth, cfg.Report.CellHeight), cfg.Report.JSON)
}

func writeResults(w io.Writer, results []report.AgentResult, asJSON bool) error {
	if asJSON {
		rows := make([]*orderedmap.OrderedMap, 0, len(results))
		for _, r := range results {
			rows = append(rows, r.Ordered())
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	for _, r := range results {
		if _, err := fmt.Fprintln(w, r.String()); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "on course: %d/%d (%.2f%%)\n",
			r.Course.OnCourse, r.Course.Segments, r.Course.Percent); err != nil {
			return err
		}
		if r.Coverage.Cells > 0 {
			if _, err := fmt.Fprintf(w, "grid coverage: %.2f%%, deviation: %.2f%%\n",
				r.Coverage.Percent, r.Coverage.Deviation); err != nil {
				return err
			}
		}
	}
	return nil
}
