// Package game is the consumer side of the simulation: an ECS world holding
// one entity per proxied transform, updated from the results the solver
// publishes.
package game

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/pbd/cluster"
	"github.com/pthm-cable/pbd/components"
	"github.com/pthm-cable/pbd/field"
	"github.com/pthm-cable/pbd/proxy"
	"github.com/pthm-cable/pbd/solver"
	"github.com/pthm-cable/pbd/stream"
	"github.com/pthm-cable/pbd/telemetry"
)

// Game owns the consumer-side world. Its methods run on one consumer
// goroutine; the solver runs on another.
type Game struct {
	world  *ecs.World
	solver *solver.Solver
	logger *slog.Logger

	bodyMapper *ecs.Map5[
		components.Body,
		components.Transform,
		components.Velocity,
		components.KinematicTarget,
		components.Status,
	]
	bodyFilter *ecs.Filter5[
		components.Body,
		components.Transform,
		components.Velocity,
		components.KinematicTarget,
		components.Status,
	]
	bodyMap      *ecs.Map1[components.Body]
	transformMap *ecs.Map1[components.Transform]
	velMap       *ecs.Map1[components.Velocity]
	targetMap    *ecs.Map1[components.KinematicTarget]
	statusMap    *ecs.Map1[components.Status]

	proxies  []*proxy.Proxy // nil once removed
	entities [][]ecs.Entity // Per proxy, indexed by transform
	lastTick []int64        // Newest result timestamp pulled per proxy

	updates int64
	tick    int64 // Newest result timestamp pulled from any proxy
	simTime float64
}

// New creates a game driving s. A nil logger uses slog.Default().
func New(s *solver.Solver, logger *slog.Logger) *Game {
	if logger == nil {
		logger = slog.Default()
	}
	world := ecs.NewWorld()
	return &Game{
		world:  world,
		solver: s,
		logger: logger,
		bodyMapper: ecs.NewMap5[
			components.Body,
			components.Transform,
			components.Velocity,
			components.KinematicTarget,
			components.Status,
		](world),
		bodyFilter: ecs.NewFilter5[
			components.Body,
			components.Transform,
			components.Velocity,
			components.KinematicTarget,
			components.Status,
		](world),
		bodyMap:      ecs.NewMap1[components.Body](world),
		transformMap: ecs.NewMap1[components.Transform](world),
		velMap:       ecs.NewMap1[components.Velocity](world),
		targetMap:    ecs.NewMap1[components.KinematicTarget](world),
		statusMap:    ecs.NewMap1[components.Status](world),
		tick:         -1,
	}
}

// World returns the ECS world.
func (g *Game) World() *ecs.World { return g.world }

// Proxy returns the proxy of collection i, or nil once removed.
func (g *Game) Proxy(i int) *proxy.Proxy { return g.proxies[i] }

// Entities returns the entities of collection i, indexed by transform.
func (g *Game) Entities(i int) []ecs.Entity { return g.entities[i] }

// Updates returns the number of completed Update calls.
func (g *Game) Updates() int64 { return g.updates }

// Tick returns the newest solver tick whose results reached the world, or -1.
func (g *Game) Tick() int64 { return g.tick }

// Time returns the simulated time of the newest results.
func (g *Game) Time() float64 { return g.simTime }

// AddCollection registers c with the solver and creates an entity per
// transform. The game's proxy owns c from here on and it must only be read
// through the world. It returns the collection index.
func (g *Game) AddCollection(ctx context.Context, c *cluster.Collection, opts proxy.Options) (int, error) {
	if opts.Logger == nil {
		opts.Logger = g.logger
	}
	p := proxy.New(c, opts)
	if err := g.solver.Register(ctx, p); err != nil {
		return -1, fmt.Errorf("registering %q: %w", c.Name, err)
	}

	idx := len(g.proxies)
	entities := make([]ecs.Entity, c.Len())
	for i := range entities {
		t := c.Transforms[i]
		body := components.Body{
			Proxy:     idx,
			Transform: i,
			Parent:    c.Parent[i],
			Level:     c.HierarchyLevel(i),
			Leaf:      c.IsLeaf(i),
			Mass:      c.TotalMass(i),
		}
		pose := components.Transform{Position: t.Translation, Rotation: t.Rotation}
		status := components.Status{State: c.State[i], Tick: -1}
		entities[i] = g.bodyMapper.NewEntity(&body, &pose, &components.Velocity{}, &components.KinematicTarget{}, &status)
	}
	g.proxies = append(g.proxies, p)
	g.entities = append(g.entities, entities)
	g.lastTick = append(g.lastTick, -1)
	g.logger.Info("collection added", "name", c.Name, "transforms", c.Len())
	return idx, nil
}

// RemoveCollection destroys collection i: it waits until the solver has
// released its particles, then removes its entities.
func (g *Game) RemoveCollection(ctx context.Context, i int) error {
	p := g.proxies[i]
	if p == nil {
		return proxy.ErrDestroyed
	}
	if err := p.SyncBeforeDestroy(ctx); err != nil {
		return err
	}
	for _, e := range g.entities[i] {
		if g.world.Alive(e) {
			g.world.RemoveEntity(e)
		}
	}
	g.proxies[i] = nil
	g.entities[i] = nil
	return nil
}

// SetKinematicTarget asks for entity e to be placed at t at the next update.
// It only affects bodies the simulation treats as kinematic.
func (g *Game) SetKinematicTarget(e ecs.Entity, t components.Transform) {
	target := g.targetMap.Get(e)
	if target == nil {
		return
	}
	target.Transform = t
	target.Pending = true
}

// SetEnabled enables or disables entity e and its descendants.
func (g *Game) SetEnabled(e ecs.Entity, enabled bool) {
	body := g.bodyMap.Get(e)
	if body == nil || g.proxies[body.Proxy] == nil {
		return
	}
	g.proxies[body.Proxy].SetEnabled(body.Transform, enabled)
}

// ApplyField queues a field command for collection i. The command is
// evaluated against the collection's transforms.
func (g *Game) ApplyField(i int, c *field.Command) {
	if p := g.proxies[i]; p != nil {
		p.BufferCommand(c)
	}
}

// Update pushes pending kinematic targets, buffers each proxy's game state
// and pulls the newest physics results into the world.
func (g *Game) Update() error {
	query := g.bodyFilter.Query()
	for query.Next() {
		body, _, _, target, _ := query.Get()
		if !target.Pending {
			continue
		}
		if p := g.proxies[body.Proxy]; p != nil {
			p.SetKinematicTarget(body.Transform, cluster.Transform{
				Translation: target.Transform.Position,
				Rotation:    target.Transform.Rotation,
			})
		}
		target.Pending = false
	}

	for i, p := range g.proxies {
		if p == nil {
			continue
		}
		if err := p.BufferGameState(); err != nil {
			return fmt.Errorf("collection %q: %w", p.Name(), err)
		}
		g.pull(i, p)
	}
	g.updates++
	return nil
}

// pull copies a results snapshot newer than the last one into the world.
func (g *Game) pull(i int, p *proxy.Proxy) {
	p.PullFromPhysicsState(g.lastTick[i] + 1)
	r := p.Results()
	if r == nil || r.Timestamp <= g.lastTick[i] {
		return
	}
	g.lastTick[i] = r.Timestamp
	g.simTime = max(g.simTime, r.Time)
	g.tick = max(g.tick, r.Timestamp)

	for k, e := range g.entities[i] {
		if k >= len(r.Transforms) {
			break
		}
		tr := r.Transforms[k]
		status := g.statusMap.Get(e)
		status.State = tr.State
		status.Disabled = tr.Disabled
		status.Tick = r.Timestamp
		if tr.Disabled {
			continue
		}
		pose := g.transformMap.Get(e)
		pose.Position = tr.Transform.Translation
		pose.Rotation = tr.Transform.Rotation
		vel := g.velMap.Get(e)
		vel.Linear = tr.LinearVelocity
		vel.Angular = tr.AngularVelocity
	}
}

// Close destroys every remaining collection.
func (g *Game) Close(ctx context.Context) error {
	for i, p := range g.proxies {
		if p == nil {
			continue
		}
		if err := g.RemoveCollection(ctx, i); err != nil {
			return err
		}
	}
	return nil
}

// Frame builds a stream frame of every body in the world.
func (g *Game) Frame() *stream.Frame {
	f := &stream.Frame{Time: g.simTime}
	query := g.bodyFilter.Query()
	for query.Next() {
		body, pose, _, _, status := query.Get()
		p := g.proxies[body.Proxy]
		if p == nil {
			continue
		}
		f.Tick = max(f.Tick, status.Tick)
		f.Bodies = append(f.Bodies, stream.Body{
			Collection: p.Name(),
			Index:      body.Transform,
			Position:   vec3(pose.Position),
			Rotation:   quat(pose.Rotation),
			State:      status.State.String(),
			Disabled:   status.Disabled,
		})
	}
	return f
}

// Snapshot captures the world for telemetry output.
func (g *Game) Snapshot(seed int64) *telemetry.Snapshot {
	s := &telemetry.Snapshot{
		Version: telemetry.SnapshotVersion,
		Seed:    seed,
		Time:    g.simTime,
	}
	for i, p := range g.proxies {
		if p == nil {
			continue
		}
		cs := telemetry.CollectionState{Name: p.Name()}
		for _, e := range g.entities[i] {
			body := g.bodyMap.Get(e)
			pose := g.transformMap.Get(e)
			vel := g.velMap.Get(e)
			status := g.statusMap.Get(e)
			s.Tick = max(s.Tick, status.Tick)
			cs.Bodies = append(cs.Bodies, telemetry.BodyState{
				Index:           body.Transform,
				Parent:          body.Parent,
				Level:           body.Level,
				Position:        vec3(pose.Position),
				Rotation:        quat(pose.Rotation),
				Velocity:        vec3(vel.Linear),
				AngularVelocity: vec3(vel.Angular),
				State:           status.State.String(),
				Disabled:        status.Disabled,
			})
		}
		s.Collections = append(s.Collections, cs)
	}
	return s
}

func vec3(v mgl64.Vec3) [3]float64 { return [3]float64{v[0], v[1], v[2]} }

func quat(q mgl64.Quat) [4]float64 { return [4]float64{q.W, q.V[0], q.V[1], q.V[2]} }
