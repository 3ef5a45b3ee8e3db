// Package proxy moves a cluster collection between a consumer goroutine and
// the simulation goroutine.
//
// The consumer owns the logical collection. It buffers game state (kinematic
// targets, enable flags, field commands) and pulls result snapshots. The
// simulation owns a deep copy, the working collection, along with the
// particle handles built from it. The two sides exchange values only through
// triple buffers.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/pthm-cable/pbd/activeview"
	"github.com/pthm-cable/pbd/cluster"
	"github.com/pthm-cable/pbd/field"
	"github.com/pthm-cable/pbd/interchange"
	"github.com/pthm-cable/pbd/parallel"
	"github.com/pthm-cable/pbd/particles"
)

var (
	// ErrDestroyed is returned by operations on a proxy after SyncBeforeDestroy.
	ErrDestroyed = errors.New("proxy destroyed")
	// ErrNotInitialized is returned when bodies are built before Initialize.
	ErrNotInitialized = errors.New("proxy not initialized")
	// ErrAlreadyInitialized is returned when bodies are built twice.
	ErrAlreadyInitialized = errors.New("proxy bodies already initialized")
)

// Simulation is the part of a solver a proxy builds its particles in. All
// methods are called on the simulation goroutine.
type Simulation interface {
	Particles() *particles.Buffer
	View() *activeview.View[*particles.Buffer]
	// AddParticles appends count particles as one range and returns its offset.
	AddParticles(count int, active bool) int
	// RemoveParticles drops every particle from offset on. It reports false
	// when offset is not a range boundary.
	RemoveParticles(offset int) bool
	// AllocateGroup returns a fresh solver group with default parameters.
	AllocateGroup() int32
	Pool() *parallel.Pool
	Time() float64
}

// Options configures a proxy.
type Options struct {
	// CollisionFraction is the share of each leaf's sample points simulated
	// as collision particles; every leaf keeps at least one.
	CollisionFraction float64
	// FieldParallelThreshold is the handle count above which field commands
	// evaluate on the simulation's pool.
	FieldParallelThreshold int
	Logger                 *slog.Logger
}

// Proxy is one collection registered with a solver.
type Proxy struct {
	name     string
	logger   *slog.Logger
	opts     Options
	fraction atomic.Uint64 // float64 bits

	// Consumer side.
	logical *cluster.Collection
	pendMu  sync.Mutex // Serializes consumer goroutines; never taken by the simulation
	pending *GameState
	current *Results

	gameState *interchange.Triple[GameState]
	physics   *interchange.Triple[Results]

	// Lifecycle, shared by both sides.
	lifeMu    sync.Mutex
	attached  bool
	destroyed atomic.Bool
	detached  chan struct{}

	// Simulation side.
	sim          Simulation
	working      *cluster.Collection
	handles      []handle
	firstOffset  int
	numParticles int
	fields       *field.System
	fieldResults field.Results
	source       handleSource
	leafScratch  []int
}

// New creates a proxy over a consumer-owned collection.
func New(c *cluster.Collection, opts Options) *Proxy {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CollisionFraction <= 0 || opts.CollisionFraction > 1 {
		opts.CollisionFraction = 1
	}
	p := &Proxy{
		name:      c.Name,
		logger:    opts.Logger.With("proxy", c.Name),
		opts:      opts,
		logical:   c,
		pending:   newGameState(),
		gameState: interchange.NewTriple(newGameState, mergeGameState),
		physics:   interchange.NewTriple(newResults, nil),
		detached:  make(chan struct{}),
	}
	p.fraction.Store(math.Float64bits(opts.CollisionFraction))
	p.source.p = p
	return p
}

// Name returns the collection name.
func (p *Proxy) Name() string { return p.name }

// Collection returns the consumer-side collection. Transforms and states are
// refreshed by PullFromPhysicsState.
func (p *Proxy) Collection() *cluster.Collection { return p.logical }

// SetCollisionParticlesPerObjectFraction sets the share of sample points
// simulated per leaf. It takes effect when bodies are built; later calls are
// ignored with a warning.
func (p *Proxy) SetCollisionParticlesPerObjectFraction(f float64) {
	if f <= 0 || f > 1 || math.IsNaN(f) {
		p.logger.Warn("collision fraction out of range", "fraction", f)
		return
	}
	p.lifeMu.Lock()
	built := p.attached
	p.lifeMu.Unlock()
	if built {
		p.logger.Warn("collision fraction changed after bodies were built", "fraction", f)
		return
	}
	p.fraction.Store(math.Float64bits(f))
}

// CollisionFraction returns the current sample fraction.
func (p *Proxy) CollisionFraction() float64 {
	return math.Float64frombits(p.fraction.Load())
}

// SetKinematicTarget moves transform i to t at the next buffered game state.
func (p *Proxy) SetKinematicTarget(i int, t cluster.Transform) {
	p.pendMu.Lock()
	p.pending.Targets[i] = t
	p.pendMu.Unlock()
}

// SetEnabled enables or disables transform i and its descendants at the next
// buffered game state.
func (p *Proxy) SetEnabled(i int, enabled bool) {
	p.pendMu.Lock()
	p.pending.Enabled[i] = enabled
	p.pendMu.Unlock()
}

// BufferCommand queues a field command for the next buffered game state. The
// proxy owns c from here on.
func (p *Proxy) BufferCommand(c *field.Command) {
	if c == nil {
		return
	}
	p.pendMu.Lock()
	p.pending.Ops = append(p.pending.Ops, CommandOp{Command: c})
	p.pendMu.Unlock()
}

// BufferRemoveCommand drops a previously buffered persistent command at the
// next buffered game state.
func (p *Proxy) BufferRemoveCommand(c *field.Command) {
	if c == nil {
		return
	}
	p.pendMu.Lock()
	p.pending.Ops = append(p.pending.Ops, CommandOp{Command: c, Remove: true})
	p.pendMu.Unlock()
}

// BufferGameState hands the changes made since the previous call to the
// simulation. It never waits for the simulation goroutine.
func (p *Proxy) BufferGameState() error {
	if p.destroyed.Load() {
		return ErrDestroyed
	}
	p.pendMu.Lock()
	defer p.pendMu.Unlock()
	if p.pending.empty() {
		return nil
	}
	slot := p.gameState.Acquire()
	slot.copyFrom(p.pending)
	p.pending.reset()
	p.gameState.Publish(slot)
	return nil
}

// PullFromPhysicsState applies the newest result snapshot, if one arrived
// since the previous pull, to the logical collection. Disabled transforms
// keep their last consumer-side values. It reports whether a new snapshot was
// applied; no new snapshot is a normal outcome. timestamp is the oldest step
// the caller is waiting for. A new snapshot older than that is still applied,
// and callers compare Results().Timestamp when they need to tell the two
// apart.
func (p *Proxy) PullFromPhysicsState(timestamp int64) bool {
	p.pendMu.Lock()
	defer p.pendMu.Unlock()
	r, fresh := p.physics.Latest()
	if !fresh {
		return false
	}
	c := p.logical
	for i, tr := range r.Transforms {
		if i >= c.Len() || tr.Disabled {
			continue
		}
		c.Transforms[i] = tr.Transform
		c.State[i] = tr.State
	}
	p.current = r
	if r.Timestamp < timestamp {
		p.logger.Debug("pulled snapshot older than requested", "timestamp", r.Timestamp, "requested", timestamp)
	}
	return true
}

// Results returns the snapshot applied by the last successful pull, or nil.
// It stays valid until the next pull.
func (p *Proxy) Results() *Results {
	p.pendMu.Lock()
	defer p.pendMu.Unlock()
	return p.current
}

// Initialize deep-copies the logical collection into the working collection.
// Call it on the consumer goroutine, before the proxy is handed to the
// simulation.
func (p *Proxy) Initialize() error {
	if p.destroyed.Load() {
		return ErrDestroyed
	}
	if err := p.logical.Validate(); err != nil {
		return fmt.Errorf("proxy %q: %w", p.name, err)
	}
	p.pendMu.Lock()
	working, err := p.logical.Clone()
	p.pendMu.Unlock()
	if err != nil {
		return err
	}
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()
	if p.attached {
		return fmt.Errorf("proxy %q: %w", p.name, ErrAlreadyInitialized)
	}
	p.working = working
	return nil
}

// SyncBeforeDestroy marks the proxy destroyed and waits until the simulation
// goroutine has released its particles. Afterwards no simulation write can
// touch the proxy. A second call returns ErrDestroyed.
func (p *Proxy) SyncBeforeDestroy(ctx context.Context) error {
	p.lifeMu.Lock()
	if !p.destroyed.CompareAndSwap(false, true) {
		p.lifeMu.Unlock()
		return ErrDestroyed
	}
	attached := p.attached
	p.lifeMu.Unlock()
	if !attached {
		return nil
	}
	select {
	case <-p.detached:
		p.logger.Info("proxy destroyed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("proxy %q: waiting for simulation: %w", p.name, ctx.Err())
	}
}

// Destroying reports whether SyncBeforeDestroy has been called. The solver
// polls it and calls Detach.
func (p *Proxy) Destroying() bool { return p.destroyed.Load() }

// Detach releases the proxy's particles and unblocks SyncBeforeDestroy. It
// runs on the simulation goroutine; later calls are no-ops.
func (p *Proxy) Detach() {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()
	if !p.attached || p.sim == nil {
		return
	}
	view := p.sim.View()
	buf := p.sim.Particles()
	if p.firstOffset+p.numParticles == buf.Len() && p.sim.RemoveParticles(p.firstOffset) {
		p.logger.Debug("released particle tail", "offset", p.firstOffset, "count", p.numParticles)
	} else {
		for i := range p.handles {
			h := &p.handles[i]
			if !h.leaf {
				continue
			}
			view.ActivateRange(h.offset, false)
			for k := h.offset; k < h.offset+h.count; k++ {
				buf.CollisionGroup[k] = -1
			}
		}
	}
	p.sim = nil
	p.handles = nil
	close(p.detached)
}
