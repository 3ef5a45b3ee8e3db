package main

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/jinzhu/copier"
	"golang.org/x/sync/errgroup"

	"github.com/pthm-cable/pbd/config"
	"github.com/pthm-cable/pbd/scenario"
	"github.com/pthm-cable/pbd/solver"
	"github.com/pthm-cable/pbd/telemetry"
)

// Fitness component weights.
const (
	weightSettle      = 1.0  // Per simulated second until the pile settles
	weightSpeed       = 2.0  // Per m/s of final p90 speed
	weightPenetration = 50.0 // Per meter of summed ground penetration
)

// FitnessEvaluator runs headless scenario runs and computes fitness.
type FitnessEvaluator struct {
	params      *ParamVector
	maxTicks    int64
	seeds       []int64
	baseConfig  *config.Config
	settleSpeed float64 // p90 speed below which the pile counts as settled

	mu          sync.Mutex
	lastMetrics runMetrics // averaged over seeds of the most recent Evaluate call
}

// NewFitnessEvaluator creates a new evaluator.
func NewFitnessEvaluator(params *ParamVector, maxTicks int64, seeds []int64, baseCfg *config.Config, settleSpeed float64) *FitnessEvaluator {
	return &FitnessEvaluator{
		params:      params,
		maxTicks:    maxTicks,
		seeds:       seeds,
		baseConfig:  baseCfg,
		settleSpeed: settleSpeed,
	}
}

// runMetrics holds the measured outcome of one run.
type runMetrics struct {
	SettleSec   float64 // Simulated seconds from the blast until p90 speed fell below settleSpeed
	FinalP90    float64 // p90 particle speed of the last stats window
	Penetration float64 // Summed depth of fragment centers below their rest height
}

// LastMetrics returns the averaged metrics of the most recent evaluation.
func (fe *FitnessEvaluator) LastMetrics() runMetrics {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastMetrics
}

// Evaluate computes fitness for a parameter vector (lower = better).
// Seeds run concurrently; a failed run scores +Inf.
func (fe *FitnessEvaluator) Evaluate(x []float64) float64 {
	cfg, err := fe.copyConfig()
	if err != nil {
		return math.Inf(1)
	}
	fe.params.ApplyToConfig(cfg, x)

	results := make([]runMetrics, len(fe.seeds))
	var eg errgroup.Group
	for i, seed := range fe.seeds {
		eg.Go(func() error {
			// Solvers keep a pointer to their config.
			runCfg, err := clone(cfg)
			if err != nil {
				return err
			}
			m, err := fe.runSimulation(runCfg, seed)
			if err != nil {
				return err
			}
			results[i] = m
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return math.Inf(1)
	}

	var total float64
	var avg runMetrics
	for _, m := range results {
		total += computeFitness(m)
		avg.SettleSec += m.SettleSec
		avg.FinalP90 += m.FinalP90
		avg.Penetration += m.Penetration
	}
	n := float64(len(results))
	avg.SettleSec /= n
	avg.FinalP90 /= n
	avg.Penetration /= n

	fe.mu.Lock()
	fe.lastMetrics = avg
	fe.mu.Unlock()
	return total / n
}

// runSimulation executes a single headless scenario run.
func (fe *FitnessEvaluator) runSimulation(cfg *config.Config, seed int64) (runMetrics, error) {
	var windows []telemetry.StepStats
	res, err := scenario.Run(context.Background(), cfg, scenario.Options{
		Seed:     seed,
		MaxTicks: fe.maxTicks,
		Logger:   quietLogger,
		Solver: solver.Options{
			Logger: quietLogger,
			StatsCallback: func(s telemetry.StepStats) {
				windows = append(windows, s)
			},
		},
	})
	if err != nil {
		return runMetrics{}, fmt.Errorf("seed %d: %w", seed, err)
	}

	dt := cfg.Solver.DT
	m := runMetrics{SettleSec: float64(fe.maxTicks) * dt}
	start := max(res.BlastTick, 0)
	for _, w := range windows {
		if w.WindowEndTick <= start {
			continue
		}
		if w.SpeedP90 < fe.settleSpeed {
			m.SettleSec = float64(w.WindowEndTick-start) * dt
			break
		}
	}
	if len(windows) > 0 {
		m.FinalP90 = windows[len(windows)-1].SpeedP90
	}
	m.Penetration = penetration(res.Snapshot, cfg.Scenario.FragmentSize)
	return m, nil
}

// penetration sums how far fragment centers sit below half a fragment above
// the ground.
func penetration(s *telemetry.Snapshot, fragmentSize float64) float64 {
	var depth float64
	for _, c := range s.Collections {
		for _, b := range c.Bodies {
			if b.Level == 0 || b.Disabled {
				continue
			}
			depth += math.Max(0, 0.5*fragmentSize-b.Position[2])
		}
	}
	return depth
}

// copyConfig creates a deep copy of the base config.
func (fe *FitnessEvaluator) copyConfig() (*config.Config, error) {
	return clone(fe.baseConfig)
}

func clone(src *config.Config) (*config.Config, error) {
	dst := &config.Config{}
	if err := copier.CopyWithOption(dst, src, copier.Option{DeepCopy: true}); err != nil {
		return nil, fmt.Errorf("copying config: %w", err)
	}
	return dst, nil
}

// computeFitness calculates the scalar fitness (lower = better).
// Formula: settle + 2×finalP90 + 50×penetration
func computeFitness(m runMetrics) float64 {
	return weightSettle*m.SettleSec + weightSpeed*m.FinalP90 + weightPenetration*m.Penetration
}
