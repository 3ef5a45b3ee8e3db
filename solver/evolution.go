// Package solver advances particle buffers one PBD step at a time and drives
// the proxies registered with it.
package solver

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/pthm-cable/pbd/activeview"
	"github.com/pthm-cable/pbd/cluster"
	"github.com/pthm-cable/pbd/collision"
	"github.com/pthm-cable/pbd/config"
	"github.com/pthm-cable/pbd/damping"
	"github.com/pthm-cable/pbd/geometry"
	"github.com/pthm-cable/pbd/parallel"
	"github.com/pthm-cable/pbd/particles"
	"github.com/pthm-cable/pbd/telemetry"
)

// Evolution owns the simulated particles, the collision objects and the
// group tables, and advances them through one step:
//
//	integrate -> damp -> predict -> collide (x iterations) -> CCD
//	-> velocity update -> deferred friction -> commit
//
// The particle buffer and its view always cover the same indices.
type Evolution struct {
	pool *parallel.Pool

	particles  *particles.Buffer
	view       *activeview.View[*particles.Buffer]
	objects    *particles.Buffer
	objectView *activeview.View[*particles.Buffer]

	thickness []float64
	friction  []float64
	damping   []float64
	defaults  config.GroupsConfig
	nextGroup int32

	gravity    mgl64.Vec3
	iterations int
	minBatch   int

	collisions *collision.Constraint
	damper     *damping.PerGroup

	time float64
	perf *telemetry.PerfCollector
}

// NewEvolution creates an evolution from solver and group configuration.
// pool may be nil for single-threaded stepping.
func NewEvolution(cfg config.SolverConfig, groups config.GroupsConfig, pool *parallel.Pool) *Evolution {
	e := &Evolution{
		pool:       pool,
		particles:  particles.NewBuffer(particles.KindDynamic),
		objects:    particles.NewBuffer(particles.KindKinematic),
		defaults:   groups,
		gravity:    mgl64.Vec3(cfg.Gravity),
		iterations: max(1, cfg.Iterations),
		minBatch:   max(1, cfg.MinParallelBatch),
	}
	e.view = activeview.New(e.particles, pool)
	e.objectView = activeview.New(e.objects, nil)

	n := max(1, groups.Count)
	e.thickness = make([]float64, n)
	e.friction = make([]float64, n)
	e.damping = make([]float64, n)
	for g := range e.thickness {
		e.thickness[g] = groups.Thickness
		e.friction[g] = groups.Friction
		e.damping[g] = groups.Damping
	}

	model := collision.FrictionDeferred
	if cfg.FastFriction {
		model = collision.FrictionFast
	}
	e.collisions = collision.New(e.objects, e.objectView, e.thickness, e.friction, collision.Options{
		Friction:       model,
		Vectorized:     cfg.Vectorized,
		CCD:            cfg.CCD,
		RecordContacts: cfg.RecordContacts,
	})
	e.damper = damping.NewPerGroup(e.damping)
	return e
}

// Particles returns the simulated particle buffer.
func (e *Evolution) Particles() *particles.Buffer { return e.particles }

// View returns the active-range view over the simulated particles.
func (e *Evolution) View() *activeview.View[*particles.Buffer] { return e.view }

// Objects returns the collision-object buffer.
func (e *Evolution) Objects() *particles.Buffer { return e.objects }

// ObjectView returns the view over the collision objects.
func (e *Evolution) ObjectView() *activeview.View[*particles.Buffer] { return e.objectView }

// Collisions returns the collision constraint.
func (e *Evolution) Collisions() *collision.Constraint { return e.collisions }

// Damper returns the per-group damper.
func (e *Evolution) Damper() *damping.PerGroup { return e.damper }

// Pool returns the worker pool, or nil.
func (e *Evolution) Pool() *parallel.Pool { return e.pool }

// Time returns the simulated time.
func (e *Evolution) Time() float64 { return e.time }

// SetPerf attaches a perf collector whose phases the step reports.
func (e *Evolution) SetPerf(p *telemetry.PerfCollector) { e.perf = p }

// AddParticles appends count dynamic particles as one range.
func (e *Evolution) AddParticles(count int, active bool) int {
	e.particles.Add(count)
	return e.view.AddRange(count, active)
}

// RemoveParticles drops every particle from offset on. offset must be a range
// boundary.
func (e *Evolution) RemoveParticles(offset int) bool {
	if offset < 0 || offset > e.particles.Len() {
		return false
	}
	if offset < e.particles.Len() && e.view.RangeStart(offset) != offset {
		return false
	}
	e.view.Reset(offset)
	e.particles.Truncate(offset)
	return true
}

// AllocateGroup returns an unused group with the default thickness, friction
// and damping. The tables grow past the configured count when needed.
func (e *Evolution) AllocateGroup() int32 {
	g := e.nextGroup
	e.nextGroup++
	if int(g) >= len(e.thickness) {
		e.thickness = append(e.thickness, e.defaults.Thickness)
		e.friction = append(e.friction, e.defaults.Friction)
		e.damping = append(e.damping, e.defaults.Damping)
		e.collisions.SetGroupParams(e.thickness, e.friction)
		e.damper.SetCoefficients(e.damping)
	}
	return g
}

// SetGroup overrides the parameters of group g. It is a no-op for unknown
// groups.
func (e *Evolution) SetGroup(g int32, thickness, friction, damping float64) {
	if g < 0 || int(g) >= len(e.thickness) {
		return
	}
	e.thickness[g] = thickness
	e.friction[g] = friction
	e.damping[g] = damping
}

// AddCollisionObject adds a kinematic collision object with shape at t. The
// object collides with particles of group, or every particle for
// collision.AnyGroup.
func (e *Evolution) AddCollisionObject(shape geometry.Implicit, t cluster.Transform, group int32) int {
	j := e.objects.Add(1)
	e.objectView.AddRange(1, true)
	e.objects.X[j] = t.Translation
	e.objects.P[j] = t.Translation
	e.objects.R[j] = t.Rotation
	e.objects.Geometry[j] = shape
	e.objects.Group[j] = group
	return j
}

// SetObjectVelocity sets the linear and angular velocity of object j.
func (e *Evolution) SetObjectVelocity(j int, v, w mgl64.Vec3) {
	e.objects.V[j] = v
	e.objects.W[j] = w
}

// EnableObject toggles collision object j.
func (e *Evolution) EnableObject(j int, enabled bool) {
	e.objectView.ActivateRange(j, enabled)
}

// AdvanceOneTimeStep advances every active particle by dt.
func (e *Evolution) AdvanceOneTimeStep(dt float64) {
	if dt <= 0 {
		return
	}
	p := e.particles

	e.perf.StartPhase(telemetry.PhaseIntegrate)
	e.view.ParallelRangeFor(func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if p.InvM[i] == 0 {
				continue
			}
			a := e.gravity.Add(p.F[i].Mul(p.InvM[i]))
			p.V[i] = p.V[i].Add(a.Mul(dt))
		}
	}, e.minBatch)

	e.perf.StartPhase(telemetry.PhaseDamping)
	e.damper.UpdatePositionBasedState(e.view)
	e.damper.ApplyAll(e.view, e.minBatch)

	e.perf.StartPhase(telemetry.PhaseCollision)
	e.view.ParallelRangeFor(func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if p.InvM[i] == 0 {
				p.P[i] = p.X[i]
				continue
			}
			p.P[i] = p.X[i].Add(p.V[i].Mul(dt))
		}
	}, e.minBatch)
	e.predictObjects(dt)

	c := e.collisions
	c.ResetStats()
	c.Prepare()
	if c.Options().Friction == collision.FrictionDeferred {
		c.Resize(p.Len())
	}
	for it := 0; it < e.iterations; it++ {
		c.Solve(e.view, dt, e.minBatch)
	}
	c.SolveCCD(e.view, dt, e.minBatch)

	e.perf.StartPhase(telemetry.PhaseFriction)
	inv := 1 / dt
	e.view.ParallelRangeFor(func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if p.InvM[i] != 0 {
				p.V[i] = p.P[i].Sub(p.X[i]).Mul(inv)
			}
		}
	}, e.minBatch)
	c.SolveFriction(e.view, dt, e.minBatch)
	e.view.ParallelRangeFor(func(lo, hi int) {
		copy(p.X[lo:hi], p.P[lo:hi])
	}, e.minBatch)
	e.commitObjects(dt)

	p.ClearForces()
	e.time += dt
}

// predictObjects moves collision objects to their end-of-step pose in P.
func (e *Evolution) predictObjects(dt float64) {
	o := e.objects
	for j := 0; j < o.Len(); j++ {
		o.P[j] = o.X[j].Add(o.V[j].Mul(dt))
	}
}

// commitObjects accepts the predicted object positions and integrates their
// rotations.
func (e *Evolution) commitObjects(dt float64) {
	o := e.objects
	for j := 0; j < o.Len(); j++ {
		o.X[j] = o.P[j]
		if w := o.W[j]; w != (mgl64.Vec3{}) {
			spin := mgl64.Quat{V: w}.Mul(o.R[j]).Scale(0.5 * dt)
			o.R[j] = o.R[j].Add(spin).Normalize()
		}
	}
}
