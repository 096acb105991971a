package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/pflag"

	"github.com/signalsfoundry/patrol-simulator/internal/config"
	"github.com/signalsfoundry/patrol-simulator/internal/control"
	"github.com/signalsfoundry/patrol-simulator/internal/logging"
	"github.com/signalsfoundry/patrol-simulator/internal/observability"
	"github.com/signalsfoundry/patrol-simulator/internal/sim"
	"github.com/signalsfoundry/patrol-simulator/timectrl"
)

func main() {
	flags := pflag.NewFlagSet("control-server", pflag.ExitOnError)
	flags.String("config", config.DefaultFile, "path to a TOML configuration file")
	flags.String("graph", "", "patrol graph file (.json or .xml)")
	flags.Int("agents", 1, "number of agents")
	flags.String("strategy", "random", "next-hop strategy: random or leastvisited")
	flags.String("mode", "patrol", "initial mission: patrol or monitor")
	flags.String("control.listen", ":50061", "TCP address the control gRPC server listens on")
	flags.String("control.metrics_listen", ":9090", "HTTP address for /metrics and agent state; empty disables")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logging.New(cfg.LoggingConfig())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", cfg.Control.Listen)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.Control.Listen), logging.Err(err))
		os.Exit(1)
	}
	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "control server failed", logging.Err(err))
		os.Exit(1)
	}
}

// run serves the control API on lis and drives the simulation from a
// time controller until ctx is done.
func run(ctx context.Context, cfg *config.Config, log logging.Logger, lis net.Listener) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.TracingConfig(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	metrics, err := observability.NewCollectors()
	if err != nil {
		return err
	}

	runner, err := sim.Load(cfg,
		sim.WithLogger(log),
		sim.WithStart(time.Now().UTC()),
		sim.WithKernelMetrics(metrics.Scheduler),
		sim.WithFleetMetrics(metrics.Control),
		sim.WithListener(metrics.Patrol.ObserveEvent),
	)
	if err != nil {
		return err
	}
	runner.Begin()

	server := control.NewGRPCServer(log, metrics.Control)
	control.RegisterServer(server, control.NewService(runner, log, cfg.Report.CellWidth, cfg.Report.CellHeight))

	httpSrv := serveHTTP(cfg.Control.MetricsListen, newHTTPHandler(metrics.Handler(), runner, cfg.Report.CellWidth, cfg.Report.CellHeight), log)

	log.Info(ctx, "starting control gRPC server",
		logging.String("addr", lis.Addr().String()),
		logging.String("run_id", runner.ID()),
	)
	go func() {
		if err := server.Serve(lis); err != nil {
			log.Error(ctx, "gRPC server exited", logging.Err(err))
		}
	}()

	simCtx, cancelSim := context.WithCancel(ctx)
	defer cancelSim()
	simDone := runSimLoop(simCtx, cfg, runner, metrics.Patrol, log)

	<-ctx.Done()

	log.Info(context.Background(), "shutting down control server")
	cancelSim()
	<-simDone
	server.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if httpSrv != nil {
		_ = httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// runSimLoop advances the runner on the configured clock and refreshes the
// per-agent graph metrics on every tick. Batch runs are served in
// accelerated mode.
func runSimLoop(ctx context.Context, cfg *config.Config, runner *sim.Runner, patrol *observability.PatrolCollector, log logging.Logger) <-chan struct{} {
	mode := timectrl.ParseMode(cfg.Run.Clock)
	if cfg.Run.Clock == "batch" {
		mode = timectrl.Accelerated
	}
	tc := timectrl.NewTimeController(runner.Start(), cfg.Run.Tick, mode)
	tc.Speed = cfg.Run.Speed

	done := runner.RunClock(ctx, tc, cfg.Run.Duration)
	tc.AddListener(func(time.Time) {
		for _, id := range runner.AgentIDs() {
			if st, err := runner.Stats(id); err == nil {
				patrol.SetStats(id, st)
			}
		}
	})

	out := make(chan struct{})
	go func() {
		defer close(out)
		<-done
		log.Info(context.Background(), "simulation clock stopped",
			logging.Float("elapsed_s", runner.Elapsed()),
			logging.String("clock", mode.String()),
		)
	}()
	return out
}

func newHTTPHandler(metrics http.Handler, runner *sim.Runner, cellWidth, cellHeight float64) http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", metrics).Methods(http.MethodGet)
	r.HandleFunc("/agents", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, runner.Fleet().List())
	}).Methods(http.MethodGet)
	r.HandleFunc("/agents/{id}", func(w http.ResponseWriter, req *http.Request) {
		st, err := runner.Snapshot(mux.Vars(req)["id"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}).Methods(http.MethodGet)
	r.HandleFunc("/agents/{id}/stats", func(w http.ResponseWriter, req *http.Request) {
		res, err := runner.Result(mux.Vars(req)["id"], cellWidth, cellHeight)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res.Ordered())
	}).Methods(http.MethodGet)
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, sim.ErrUnknownAgent) {
		code = http.StatusNotFound
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func serveHTTP(addr string, handler http.Handler, log logging.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
