package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/pthm-cable/pbd/config"
	"github.com/pthm-cable/pbd/game"
	"github.com/pthm-cable/pbd/proxy"
	"github.com/pthm-cable/pbd/solver"
	"github.com/pthm-cable/pbd/telemetry"
)

// closeTimeout bounds the wait for the solver to release the pile.
const closeTimeout = 5 * time.Second

// Options configures Run.
type Options struct {
	Seed           int64
	MaxTicks       int64
	SimInterval    time.Duration
	UpdateInterval time.Duration
	Logger         *slog.Logger
	Solver         solver.Options

	// OnUpdate runs on the consumer goroutine after the blast check.
	OnUpdate func(g *game.Game) error
}

// Result summarizes a finished run.
type Result struct {
	Ticks     int64 // Solver ticks stepped
	BlastTick int64 // Consumer tick at which the blast was queued, -1 if never
	Snapshot  *telemetry.Snapshot
}

// Run builds the scene on a fresh solver and runs it until MaxTicks or ctx
// is done. The blast is queued once the consumer has seen FieldTick.
func Run(ctx context.Context, cfg *config.Config, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Solver.Logger == nil {
		opts.Solver.Logger = logger
	}

	s := solver.New(cfg, opts.Solver)
	AddGround(s.Evolution(), cfg.Scenario.Ground)
	g := game.New(s, logger)

	rng := rand.New(rand.NewSource(opts.Seed))
	pile, err := g.AddCollection(ctx, Pile("pile", cfg.Scenario, rng), proxy.Options{
		CollisionFraction:      cfg.Proxy.CollisionFraction,
		FieldParallelThreshold: cfg.Fields.ParallelThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("adding pile: %w", err)
	}

	res := &Result{BlastTick: -1}
	fieldTick := int64(cfg.Scenario.FieldTick)
	err = g.Run(ctx, game.RunOptions{
		SimInterval:    opts.SimInterval,
		UpdateInterval: opts.UpdateInterval,
		MaxTicks:       opts.MaxTicks,
		OnUpdate: func(g *game.Game) error {
			if fieldTick > 0 && res.BlastTick < 0 && g.Tick() >= fieldTick {
				g.ApplyField(pile, Blast(cfg.Scenario))
				res.BlastTick = g.Tick()
				logger.Info("blast queued", "tick", g.Tick(), "strength", cfg.Scenario.FieldStrength)
			}
			if opts.OnUpdate != nil {
				return opts.OnUpdate(g)
			}
			return nil
		},
	})
	res.Ticks = s.Tick()
	res.Snapshot = g.Snapshot(opts.Seed)

	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if cerr := g.Close(closeCtx); cerr != nil && err == nil {
		err = fmt.Errorf("closing game: %w", cerr)
	}
	return res, err
}
