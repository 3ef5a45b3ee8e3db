package game

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
)

// RunOptions configures Run.
type RunOptions struct {
	SimInterval    time.Duration // Solver tick interval; 0 = as fast as possible
	UpdateInterval time.Duration // Consumer update interval
	MaxTicks       int64         // Solver ticks before Run returns; 0 = until ctx is done

	// OnUpdate runs on the consumer goroutine after every Update. A non-nil
	// error stops both loops.
	OnUpdate func(g *Game) error
}

// Run steps the solver on one goroutine and updates the game on another
// until MaxTicks solver ticks have run or ctx is done. Cancellation of ctx
// is a clean stop. After the solver exits the game runs one last update so
// the final results reach the world.
func (g *Game) Run(ctx context.Context, opts RunOptions) error {
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = 16 * time.Millisecond
	}
	eg, egCtx := errgroup.WithContext(ctx)
	simDone := make(chan struct{})

	eg.Go(func() error {
		defer close(simDone)
		return g.solver.Run(egCtx, opts.SimInterval, opts.MaxTicks)
	})
	eg.Go(func() error {
		ticker := time.NewTicker(opts.UpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-egCtx.Done():
				return nil
			case <-simDone:
				return g.step(opts)
			case <-ticker.C:
				if err := g.step(opts); err != nil {
					return err
				}
			}
		}
	})

	err := eg.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (g *Game) step(opts RunOptions) error {
	if err := g.Update(); err != nil {
		return err
	}
	if opts.OnUpdate != nil {
		return opts.OnUpdate(g)
	}
	return nil
}
