// Package collision resolves penetration between simulated particles and
// collision-object particles carrying implicit geometry.
package collision

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/pthm-cable/pbd/activeview"
	"github.com/pthm-cable/pbd/geometry"
	"github.com/pthm-cable/pbd/particles"
)

// AnyGroup on a collision object makes it affect particles of every group.
const AnyGroup int32 = particles.NoGroup

// frictionEpsilon is the tangential displacement below which friction is skipped.
const frictionEpsilon = 1e-8

// FrictionModel selects how tangential motion is resolved at a contact.
type FrictionModel uint8

const (
	// FrictionFast clamps the tangential displacement directly on the
	// predicted position while resolving penetration.
	FrictionFast FrictionModel = iota
	// FrictionDeferred records a per-particle velocity constraint that
	// ApplyFriction resolves after the velocity update.
	FrictionDeferred
)

func (m FrictionModel) String() string {
	if m == FrictionDeferred {
		return "deferred"
	}
	return "fast"
}

// Options configures a Constraint. They are fixed for its lifetime.
type Options struct {
	Friction       FrictionModel
	Vectorized     bool // Use the lane path in Solve (fast friction only)
	CCD            bool
	RecordContacts bool // Keep CCD contacts for Contacts()
}

// Contact is a CCD hit recorded for external consumers.
type Contact struct {
	Particle    int
	Object      int
	Position    mgl64.Vec3
	Normal      mgl64.Vec3
	Penetration float64
}

// Stats counts resolved contacts since the last ResetStats.
type Stats struct {
	Contacts int64
	CCDHits  int64
}

// velocityConstraint is a deferred friction slot.
type velocityConstraint struct {
	Velocity    mgl64.Vec3 // Surface velocity at the contact point
	Normal      mgl64.Vec3
	Penetration float64
	Friction    float64
	Set         bool
}

// Constraint applies per-particle collision against a buffer of collision
// objects. Group arrays are indexed by the simulated particle's group and are
// read-only while a step runs.
type Constraint struct {
	objects    *particles.Buffer
	objectView *activeview.View[*particles.Buffer]
	thickness  []float64
	friction   []float64
	opts       Options

	active []int // Active object indices, refreshed by Prepare

	deferred []velocityConstraint

	contactsMu sync.Mutex
	contacts   []Contact

	nContacts atomic.Int64
	nCCDHits  atomic.Int64

	scratch sync.Pool
}

// New creates a constraint against objects. A nil view treats every object as
// active. thickness and friction are shared with the caller, which may update
// them between steps.
func New(objects *particles.Buffer, view *activeview.View[*particles.Buffer], thickness, friction []float64, opts Options) *Constraint {
	c := &Constraint{
		objects:    objects,
		objectView: view,
		thickness:  thickness,
		friction:   friction,
		opts:       opts,
	}
	c.scratch.New = func() any { return newScratch(laneWidth) }
	c.Prepare()
	return c
}

// SetGroupParams replaces the group-indexed thickness and friction arrays.
// Call it between steps only.
func (c *Constraint) SetGroupParams(thickness, friction []float64) {
	c.thickness = thickness
	c.friction = friction
}

// Options returns the constraint's configuration.
func (c *Constraint) Options() Options { return c.opts }

// Prepare refreshes the active collision-object list. Call it once per step,
// before any Apply, whenever objects or their activation may have changed.
func (c *Constraint) Prepare() {
	c.active = c.active[:0]
	if c.objects == nil {
		return
	}
	if c.objectView == nil {
		for j := 0; j < c.objects.Len(); j++ {
			c.active = append(c.active, j)
		}
		return
	}
	c.objectView.SequentialFor(func(_ *particles.Buffer, j int) {
		c.active = append(c.active, j)
	})
}

// Resize sizes the deferred friction arena for n particles and clears it.
func (c *Constraint) Resize(n int) {
	if cap(c.deferred) < n {
		c.deferred = make([]velocityConstraint, n)
		return
	}
	c.deferred = c.deferred[:n]
	c.Reset()
}

// Reset clears every deferred friction slot.
func (c *Constraint) Reset() {
	for i := range c.deferred {
		c.deferred[i] = velocityConstraint{}
	}
}

// Stats returns the contact counters.
func (c *Constraint) Stats() Stats {
	return Stats{Contacts: c.nContacts.Load(), CCDHits: c.nCCDHits.Load()}
}

// ResetStats zeroes the contact counters.
func (c *Constraint) ResetStats() {
	c.nContacts.Store(0)
	c.nCCDHits.Store(0)
}

// Contacts returns and clears the recorded CCD contacts.
func (c *Constraint) Contacts() []Contact {
	c.contactsMu.Lock()
	defer c.contactsMu.Unlock()
	out := c.contacts
	c.contacts = nil
	return out
}

// groupParams returns thickness and friction for a particle group; unknown
// groups get zero thickness and no friction.
func (c *Constraint) groupParams(g int32) (float64, float64) {
	var th, mu float64
	if g >= 0 && int(g) < len(c.thickness) {
		th = c.thickness[g]
	}
	if g >= 0 && int(g) < len(c.friction) {
		mu = c.friction[g]
	}
	return th, mu
}

// affects reports whether object j collides with particles of group g.
func (c *Constraint) affects(j int, g int32) bool {
	og := c.objects.Group[j]
	return og == AnyGroup || og == g
}

// simulated reports whether particle i takes part in collision.
func simulated(p *particles.Buffer, i int) bool {
	return p.InvM[i] != 0 && p.CollisionGroup[i] >= 0
}

// Apply resolves collisions for particle i of p at its predicted position.
func (c *Constraint) Apply(p *particles.Buffer, dt float64, i int) {
	if !simulated(p, i) {
		return
	}
	g := p.Group[i]
	th, mu := c.groupParams(g)

	var n int64
	for _, j := range c.active {
		geom := c.objects.Geometry[j]
		if geom == nil || !c.affects(j, g) {
			continue
		}
		q := c.objects.Rotation(j)
		center := c.objects.P[j]
		local := q.Conjugate().Rotate(p.P[i].Sub(center))

		phi, normal := geom.PhiWithNormal(local)
		if !geometry.Finite(phi) || !geometry.ValidNormal(normal) {
			continue
		}
		pen := th - phi
		if pen <= 0 {
			continue
		}
		c.respond(p, dt, i, j, q.Rotate(normal).Normalize(), pen, mu)
		n++
	}
	if n > 0 {
		c.nContacts.Add(n)
	}
}

// respond pushes particle i out along the world normal n by pen and applies
// the configured friction model against object j.
func (c *Constraint) respond(p *particles.Buffer, dt float64, i, j int, n mgl64.Vec3, pen, mu float64) {
	p.P[i] = p.P[i].Add(n.Mul(pen))
	surface := c.surfaceVelocity(j, p.P[i])

	if c.opts.Friction == FrictionDeferred {
		if i < len(c.deferred) {
			c.deferred[i] = velocityConstraint{
				Velocity:    surface,
				Normal:      n,
				Penetration: pen,
				Friction:    mu,
				Set:         true,
			}
		}
		return
	}

	disp := p.P[i].Sub(p.X[i]).Sub(surface.Mul(dt))
	tangent := disp.Sub(n.Mul(disp.Dot(n)))
	mag := tangent.Len()
	if mag <= frictionEpsilon {
		return
	}
	corr := math.Min(pen*mu, mag)
	p.P[i] = p.P[i].Sub(tangent.Mul(corr / mag))
}

// surfaceVelocity is the rigid velocity of object j at world point x.
func (c *Constraint) surfaceVelocity(j int, x mgl64.Vec3) mgl64.Vec3 {
	v := c.objects.V[j]
	w := c.objects.AngularVelocity(j)
	if w == (mgl64.Vec3{}) {
		return v
	}
	return v.Add(w.Cross(x.Sub(c.objects.P[j])))
}

// ApplyCCD ray-casts particle i from its start position to its predicted
// position against every object and resolves the first hit per object. A
// particle already inside the thickened shell is pushed out to its thickness.
func (c *Constraint) ApplyCCD(p *particles.Buffer, dt float64, i int) {
	if !simulated(p, i) {
		return
	}
	g := p.Group[i]
	th, mu := c.groupParams(g)

	for _, j := range c.active {
		geom := c.objects.Geometry[j]
		if geom == nil || !c.affects(j, g) {
			continue
		}
		q := c.objects.Rotation(j)
		inv := q.Conjugate()
		center := c.objects.P[j]

		start := inv.Rotate(p.X[i].Sub(center))
		end := inv.Rotate(p.P[i].Sub(center))
		delta := end.Sub(start)
		length := delta.Len()
		if length <= frictionEpsilon || !geometry.Finite(length) {
			continue
		}
		hit, ok := geom.Raycast(start, delta.Mul(1/length), length, th)
		if !ok || !geometry.ValidNormal(hit.Normal) {
			continue
		}

		n := q.Rotate(hit.Normal).Normalize()
		hitWorld := center.Add(q.Rotate(hit.Position))
		pen := hitWorld.Sub(p.P[i]).Dot(n)
		if hit.Time <= 0 {
			// Started inside the shell: resolve the end point against the surface.
			phi, normal := geom.PhiWithNormal(end)
			if !geometry.Finite(phi) || !geometry.ValidNormal(normal) {
				continue
			}
			n = q.Rotate(normal).Normalize()
			hitWorld = p.P[i]
			pen = th - phi
		}
		if pen <= 0 {
			continue
		}
		c.respond(p, dt, i, j, n, pen, mu)
		c.nCCDHits.Add(1)

		if c.opts.RecordContacts {
			c.contactsMu.Lock()
			c.contacts = append(c.contacts, Contact{
				Particle:    i,
				Object:      j,
				Position:    hitWorld,
				Normal:      n,
				Penetration: pen,
			})
			c.contactsMu.Unlock()
		}
	}
}

// ApplyFriction resolves the deferred friction slot of particle i against its
// velocity. The approaching normal velocity relative to the surface is removed
// and the tangential velocity is reduced by the Coulomb bound mu*pen/dt.
func (c *Constraint) ApplyFriction(p *particles.Buffer, dt float64, i int) {
	if i >= len(c.deferred) || !c.deferred[i].Set || dt <= 0 {
		return
	}
	s := c.deferred[i]
	rel := p.V[i].Sub(s.Velocity)
	vn := rel.Dot(s.Normal)
	vt := rel.Sub(s.Normal.Mul(vn))
	if vn < 0 {
		vn = 0
	}

	mag := vt.Len()
	if mag > frictionEpsilon {
		scale := math.Max(0, 1-s.Friction*s.Penetration/dt/mag)
		vt = vt.Mul(scale)
	}
	p.V[i] = s.Velocity.Add(s.Normal.Mul(vn)).Add(vt)
}

// Solve runs one collision iteration over every active particle of view.
func (c *Constraint) Solve(view *activeview.View[*particles.Buffer], dt float64, minBatch int) {
	p := view.Items()
	if c.opts.Vectorized && c.opts.Friction == FrictionFast {
		view.ParallelRangeFor(func(lo, hi int) {
			c.ApplyRange(p, dt, lo, hi)
		}, minBatch)
		return
	}
	if c.sequentialDeferred() {
		view.SequentialFor(func(p *particles.Buffer, i int) {
			c.Apply(p, dt, i)
		})
		return
	}
	view.ParallelFor(func(p *particles.Buffer, i int) {
		c.Apply(p, dt, i)
	}, minBatch)
}

// sequentialDeferred reports whether the deferred passes run on the caller
// only. Recorded CCD contacts must come out in particle order.
func (c *Constraint) sequentialDeferred() bool {
	return c.opts.Friction == FrictionDeferred && c.opts.CCD && c.opts.RecordContacts
}

// SolveCCD runs the swept test over view when CCD is enabled.
func (c *Constraint) SolveCCD(view *activeview.View[*particles.Buffer], dt float64, minBatch int) {
	if !c.opts.CCD {
		return
	}
	if c.sequentialDeferred() {
		view.SequentialFor(func(p *particles.Buffer, i int) {
			c.ApplyCCD(p, dt, i)
		})
		return
	}
	view.ParallelFor(func(p *particles.Buffer, i int) {
		c.ApplyCCD(p, dt, i)
	}, minBatch)
}

// SolveFriction runs the deferred friction pass over view. It is a no-op for
// the fast model.
func (c *Constraint) SolveFriction(view *activeview.View[*particles.Buffer], dt float64, minBatch int) {
	if c.opts.Friction != FrictionDeferred {
		return
	}
	if c.sequentialDeferred() {
		view.SequentialFor(func(p *particles.Buffer, i int) {
			c.ApplyFriction(p, dt, i)
		})
		return
	}
	view.ParallelFor(func(p *particles.Buffer, i int) {
		c.ApplyFriction(p, dt, i)
	}, minBatch)
}
