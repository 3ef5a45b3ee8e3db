package solver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/pthm-cable/pbd/config"
	"github.com/pthm-cable/pbd/field"
	"github.com/pthm-cable/pbd/parallel"
	"github.com/pthm-cable/pbd/particles"
	"github.com/pthm-cable/pbd/proxy"
	"github.com/pthm-cable/pbd/telemetry"
)

// ErrStopped is returned by Register after the solver loop has exited.
var ErrStopped = errors.New("solver stopped")

// registerQueue bounds proxies waiting for the next tick.
const registerQueue = 64

// Options configures optional solver outputs.
type Options struct {
	Logger *slog.Logger
	// Output receives perf and step CSV rows; nil disables file output.
	Output *telemetry.OutputManager
	// StatsCallback is invoked on the simulation goroutine for each flushed
	// stats window.
	StatsCallback func(telemetry.StepStats)
	// LogStats logs each flushed window.
	LogStats bool
}

// Solver runs the simulation goroutine: it drains registered proxies,
// exchanges their game state, evaluates fields and advances the evolution.
type Solver struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	pool      *parallel.Pool
	evolution *Evolution

	register chan *proxy.Proxy
	commands chan *field.Command
	stopped  chan struct{}
	stopOnce sync.Once
	proxies  []*proxy.Proxy

	fields       *field.System
	source       *field.ParticleSource
	fieldResults field.Results

	perf      *telemetry.PerfCollector
	collector *telemetry.Collector
	speeds    []float64

	tick int64
}

// New creates a solver. A worker pool is started unless cfg.Solver.Workers
// is negative.
func New(cfg *config.Config, opts Options) *Solver {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	var pool *parallel.Pool
	if cfg.Solver.Workers >= 0 {
		pool = parallel.NewPool(cfg.Solver.Workers)
	}
	e := NewEvolution(cfg.Solver, cfg.Groups, pool)
	s := &Solver{
		cfg:       cfg,
		opts:      opts,
		logger:    opts.Logger,
		pool:      pool,
		evolution: e,
		register:  make(chan *proxy.Proxy, registerQueue),
		commands:  make(chan *field.Command, registerQueue),
		stopped:   make(chan struct{}),
		fields:    field.NewSystem(pool, cfg.Fields.ParallelThreshold, opts.Logger),
		source:    field.NewParticleSource(e.Particles(), e.View()),
		perf:      telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow),
		collector: telemetry.NewCollector(cfg.Telemetry.StatsWindow),
	}
	e.SetPerf(s.perf)
	return s
}

// Evolution returns the solver's evolution. Touch it only from the
// simulation goroutine.
func (s *Solver) Evolution() *Evolution { return s.evolution }

// Tick returns the number of completed steps.
func (s *Solver) Tick() int64 { return s.tick }

// Proxies returns the attached proxies.
func (s *Solver) Proxies() []*proxy.Proxy { return s.proxies }

// Perf returns the perf collector.
func (s *Solver) Perf() *telemetry.PerfCollector { return s.perf }

// Register initializes p on the calling goroutine and queues it for the
// simulation goroutine, which builds its particles at the start of the next
// tick. It blocks while the queue is full.
func (s *Solver) Register(ctx context.Context, p *proxy.Proxy) error {
	select {
	case <-s.stopped:
		return ErrStopped
	default:
	}
	if err := p.Initialize(); err != nil {
		return err
	}
	select {
	case s.register <- p:
		return nil
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddFieldCommand queues a command against the raw particle buffer. Commands
// with a zero creation time are stamped with the solver time when drained.
// Safe from any goroutine.
func (s *Solver) AddFieldCommand(ctx context.Context, c *field.Command) error {
	if c == nil {
		return nil
	}
	select {
	case <-s.stopped:
		return ErrStopped
	default:
	}
	select {
	case s.commands <- c:
		return nil
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Step advances the simulation by one tick of dt.
func (s *Solver) Step(dt float64) {
	e := s.evolution
	s.perf.StartTick()

	s.perf.StartPhase(telemetry.PhaseGameState)
	s.attachPending()
	s.proxies = slices.DeleteFunc(s.proxies, func(p *proxy.Proxy) bool {
		if p.Destroying() {
			p.Detach()
			return true
		}
		return false
	})
	for _, p := range s.proxies {
		p.ApplyGameState(dt)
	}

	s.perf.StartPhase(telemetry.PhaseFields)
	s.drainCommands()
	s.source.Sync()
	for _, p := range s.proxies {
		p.FieldParameterUpdate()
	}
	if s.fields.NumTransient()+s.fields.NumPersistent() > 0 {
		s.applyFields(e.Time())
	}
	for _, p := range s.proxies {
		p.FieldForcesUpdate()
	}

	e.AdvanceOneTimeStep(dt)
	st := e.Collisions().Stats()
	s.collector.RecordStep(st.Contacts, st.CCDHits)

	s.perf.StartPhase(telemetry.PhaseResults)
	for _, p := range s.proxies {
		p.BufferPhysicsResults(s.tick, dt)
	}
	s.perf.EndTick()

	s.tick++
	s.flushTelemetry()
}

// applyFields evaluates the particle-level commands: parameters first, then
// forces into the accumulators. Each pass applies only its own results.
func (s *Solver) applyFields(now float64) {
	res := &s.fieldResults
	res.ResetForces(0)
	s.fields.ParameterUpdate(s.source, now, res)
	field.ApplyToParticles(s.source, res)

	s.fields.ForcesUpdate(s.source, now, res)
	res.ResetParameters()
	field.ApplyToParticles(s.source, res)
}

// attachPending builds the bodies of every queued proxy.
func (s *Solver) attachPending() {
	for {
		select {
		case p := <-s.register:
			if err := p.InitializeBodies(s.evolution); err != nil {
				s.logger.Warn("proxy not attached", "proxy", p.Name(), "error", err)
				continue
			}
			s.proxies = append(s.proxies, p)
		default:
			return
		}
	}
}

func (s *Solver) drainCommands() {
	for {
		select {
		case c := <-s.commands:
			if c.Created == 0 {
				c.Created = s.evolution.Time()
			}
			s.fields.AddCommand(c)
			s.collector.RecordCommands(1)
		default:
			return
		}
	}
}

// flushTelemetry emits a stats window when one is complete.
func (s *Solver) flushTelemetry() {
	if !s.collector.ShouldFlush(s.tick) {
		return
	}
	e := s.evolution
	p := e.Particles()
	view := e.View()

	s.speeds = s.speeds[:0]
	view.SequentialFor(func(b *particles.Buffer, i int) {
		s.speeds = append(s.speeds, b.V[i].Len())
	})
	g := telemetry.Gauges{
		Particles:       p.Len(),
		ActiveParticles: view.NumActive(),
		ActiveRanges:    view.NumRanges(),
		Proxies:         len(s.proxies),
	}
	stats := s.collector.Flush(s.tick, e.Time(), g, s.speeds)
	perfStats := s.perf.Stats()

	if s.opts.StatsCallback != nil {
		s.opts.StatsCallback(stats)
	}
	if s.opts.LogStats {
		stats.LogStats(s.logger)
		perfStats.LogStats(s.logger)
	}
	if s.opts.Output != nil {
		if err := s.opts.Output.WriteSteps(stats); err != nil {
			s.logger.Error("failed to write steps", "error", err)
		}
		if err := s.opts.Output.WritePerf(perfStats, stats.WindowEndTick); err != nil {
			s.logger.Error("failed to write perf", "error", err)
		}
	}
}

// Run steps the solver every interval until ctx is done or maxTicks steps
// have run (0 = unbounded). An interval of zero steps as fast as possible.
// On exit every attached proxy is detached, releasing any goroutine blocked
// in SyncBeforeDestroy.
func (s *Solver) Run(ctx context.Context, interval time.Duration, maxTicks int64) error {
	defer s.shutdown()

	dt := s.cfg.Solver.DT
	if dt <= 0 {
		return fmt.Errorf("solver: invalid dt %v", dt)
	}
	var ticker *time.Ticker
	if interval > 0 {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}
	for maxTicks <= 0 || s.tick < maxTicks {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		s.Step(dt)
	}
	return nil
}

func (s *Solver) shutdown() {
	s.stopOnce.Do(s.stop)
}

func (s *Solver) stop() {
	close(s.stopped)
	s.attachPending()
	for _, p := range s.proxies {
		p.Detach()
	}
	s.proxies = nil
	if s.pool != nil {
		s.pool.Stop()
	}
	s.logger.Info("solver stopped", "ticks", s.tick, "time", s.evolution.Time())
}
