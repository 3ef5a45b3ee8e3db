package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pthm-cable/pbd/config"
	"github.com/pthm-cable/pbd/game"
	"github.com/pthm-cable/pbd/scenario"
	"github.com/pthm-cable/pbd/solver"
	"github.com/pthm-cable/pbd/stream"
	"github.com/pthm-cable/pbd/telemetry"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	logStats := flag.Bool("log-stats", false, "Output stats via slog")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs, config and final snapshot")
	streamAddr := flag.String("stream-addr", "", "Websocket stream address (empty = use config)")
	seed := flag.Int64("seed", 0, "RNG seed (0 = time-based)")
	maxTicks := flag.Int64("max-ticks", 0, "Stop after N ticks (0 = until interrupted)")
	realtime := flag.Bool("realtime", false, "Step the solver at dt intervals instead of as fast as possible")

	flag.Parse()

	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()
	if *streamAddr != "" {
		cfg.Stream.Addr = *streamAddr
	}

	rngSeed := *seed
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	om, err := telemetry.NewOutputManager(*outputDir)
	if err != nil {
		logger.Error("failed to create output", "error", err)
		os.Exit(1)
	}
	if err := om.WriteConfig(cfg); err != nil {
		logger.Error("failed to write config", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := scenario.Options{
		Seed:     rngSeed,
		MaxTicks: *maxTicks,
		Logger:   logger,
		Solver: solver.Options{
			Logger:   logger,
			Output:   om,
			LogStats: *logStats,
		},
	}
	if *realtime {
		opts.SimInterval = time.Duration(cfg.Solver.DT * float64(time.Second))
	}

	if cfg.Stream.Addr != "" {
		srv := stream.New(logger)
		interval := time.Duration(cfg.Stream.IntervalMS * float64(time.Millisecond))
		opts.UpdateInterval = interval
		opts.OnUpdate = func(g *game.Game) error {
			if err := srv.Publish(g.Frame()); err != nil {
				logger.Warn("failed to publish frame", "error", err)
			}
			return nil
		}
		go func() {
			if err := srv.ListenAndServe(ctx, cfg.Stream.Addr); err != nil {
				logger.Error("stream server failed", "error", err)
			}
		}()
	}

	logger.Info("starting simulation",
		"seed", rngSeed,
		"max_ticks", *maxTicks,
		"cluster_size", cfg.Scenario.ClusterSize,
		"stream", cfg.Stream.Addr,
	)

	res, err := scenario.Run(ctx, cfg, opts)
	if err != nil {
		logger.Error("simulation failed", "error", err)
	}
	if res != nil {
		logger.Info("simulation finished", "ticks", res.Ticks, "blast_tick", res.BlastTick)
		if path, err := om.WriteSnapshot(res.Snapshot); err != nil {
			logger.Error("failed to write snapshot", "error", err)
		} else if path != "" {
			logger.Info("snapshot written", "path", path)
		}
	}
	if err := om.Close(); err != nil {
		logger.Error("failed to close output", "error", err)
	}
	if err != nil {
		os.Exit(1)
	}
}
