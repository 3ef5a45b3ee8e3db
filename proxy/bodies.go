package proxy

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/pthm-cable/pbd/cluster"
	"github.com/pthm-cable/pbd/damping"
	"github.com/pthm-cable/pbd/field"
	"github.com/pthm-cable/pbd/particles"
)

// handle is the simulation-side body of one transform. A leaf owns one
// active range of collision particles; a cluster owns none and aggregates
// the particles of its descendant leaves.
type handle struct {
	parent   int
	children []int
	level    int
	leaf     bool

	offset  int          // First particle of the range, leaves only
	count   int          // Particles in the range, leaves only
	samples []mgl64.Vec3 // Transform-local point of each particle, leaves only
	mass    float64      // Mass of one particle, leaves only
	group   int32
	indices []int // Particles of the handle and every descendant

	comLocal  mgl64.Vec3 // Center of mass in the transform frame
	transform cluster.Transform
	motion    damping.Motion

	state            particles.ObjectState
	disabled         bool
	sleepThreshold   float64
	disableThreshold float64
}

// InitializeBodies builds particle handles from the working collection: one
// range of sampled particles per leaf and a particle-less handle per cluster.
// It runs on the simulation goroutine after Initialize.
func (p *Proxy) InitializeBodies(sim Simulation) error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()
	if p.destroyed.Load() {
		return ErrDestroyed
	}
	if p.working == nil {
		return fmt.Errorf("proxy %q: %w", p.name, ErrNotInitialized)
	}
	if p.attached {
		return fmt.Errorf("proxy %q: %w", p.name, ErrAlreadyInitialized)
	}

	c := p.working
	p.sim = sim
	p.handles = make([]handle, c.Len())
	p.firstOffset = sim.Particles().Len()
	fraction := p.CollisionFraction()

	for i := range p.handles {
		h := &p.handles[i]
		h.parent = c.Parent[i]
		h.children = c.Children[i]
		h.level = c.HierarchyLevel(i)
		h.leaf = c.IsLeaf(i)
		h.transform = c.Transforms[i]
		h.state = c.State[i]
		if !h.state.Valid() || h.state == particles.StateUninitialized {
			h.state = particles.StateDynamic
		}
		if h.leaf {
			p.buildLeaf(h, c.Samples[i], c.Mass[i], c.CollisionGroup[i], fraction)
		}
	}
	for i := range p.handles {
		h := &p.handles[i]
		if h.leaf {
			continue
		}
		p.leafScratch = c.Leaves(p.leafScratch[:0], i)
		var com mgl64.Vec3
		var mass float64
		for _, l := range p.leafScratch {
			lh := &p.handles[l]
			h.indices = append(h.indices, lh.indices...)
			m := c.Mass[l]
			com = com.Add(lh.motion.Xcm.Mul(m))
			mass += m
		}
		if mass > 0 {
			h.motion.Xcm = com.Mul(1 / mass)
		} else {
			h.motion.Xcm = h.transform.Translation
		}
		h.comLocal = h.transform.Inverse().Apply(h.motion.Xcm)
	}

	p.fields = field.NewSystem(sim.Pool(), p.opts.FieldParallelThreshold, p.logger)
	p.attached = true
	p.refreshClusters(0)
	p.logger.Info("proxy bodies initialized",
		"transforms", len(p.handles),
		"particles", p.numParticles,
		"fraction", fraction,
	)
	return nil
}

// buildLeaf samples the leaf's points evenly and appends them as one range.
func (p *Proxy) buildLeaf(h *handle, samples []mgl64.Vec3, mass float64, collisionGroup int32, fraction float64) {
	if len(samples) == 0 {
		samples = []mgl64.Vec3{{}}
	}
	n := len(samples)
	count := max(1, int(math.Ceil(fraction*float64(n))))
	count = min(count, n)

	h.samples = make([]mgl64.Vec3, count)
	for k := range h.samples {
		h.samples[k] = samples[k*n/count]
		h.comLocal = h.comLocal.Add(h.samples[k])
	}
	h.comLocal = h.comLocal.Mul(1 / float64(count))
	h.mass = mass / float64(count)
	h.count = count
	h.group = p.sim.AllocateGroup()

	h.offset = p.sim.AddParticles(count, !h.disabled && h.state != particles.StateSleeping)
	buf := p.sim.Particles()
	h.indices = make([]int, count)
	for k, s := range h.samples {
		j := h.offset + k
		h.indices[k] = j
		x := h.transform.Apply(s)
		buf.X[j] = x
		buf.P[j] = x
		buf.V[j] = mgl64.Vec3{}
		buf.Group[j] = h.group
		buf.CollisionGroup[j] = collisionGroup
		if h.state == particles.StateDynamic || h.state == particles.StateSleeping {
			buf.SetMass(j, h.mass)
		} else {
			buf.SetMass(j, 0)
		}
	}
	h.motion = damping.Motion{Xcm: h.transform.Apply(h.comLocal), Mass: mass}
	p.numParticles += count
}

// ApplyGameState consumes the newest buffered game state: kinematic targets
// move their bodies, enable flags toggle ranges and commands are queued with
// the proxy's field system. dt is used to give moved bodies the velocity of
// the move.
func (p *Proxy) ApplyGameState(dt float64) {
	if p.sim == nil {
		return
	}
	now := p.sim.Time()
	p.gameState.Take(func(g *GameState) {
		for i, t := range g.Targets {
			if i >= 0 && i < len(p.handles) {
				p.placeKinematic(i, t, dt)
			}
		}
		for i, enabled := range g.Enabled {
			if i >= 0 && i < len(p.handles) {
				p.setDisabled(i, !enabled)
			}
		}
		for _, op := range g.Ops {
			c := op.Command
			if op.Remove {
				p.fields.RemovePersistentCommand(c)
				p.fields.RemoveTransientCommand(c)
				continue
			}
			if c.Created == 0 {
				c.Created = now
			}
			p.fields.AddCommand(c)
		}
	})
	p.refreshClusters(0)
}

// placeKinematic moves transform i to t. Moving a cluster carries every
// descendant leaf with it.
func (p *Proxy) placeKinematic(i int, t cluster.Transform, dt float64) {
	h := &p.handles[i]
	if h.leaf {
		p.placeLeaf(h, t, dt)
		return
	}
	delta := t.Mul(h.transform.Inverse())
	p.leafScratch = p.working.Leaves(p.leafScratch[:0], i)
	for _, l := range p.leafScratch {
		lh := &p.handles[l]
		p.placeLeaf(lh, delta.Mul(lh.transform), dt)
	}
	h.transform = t
	h.motion.Xcm = t.Apply(h.comLocal)
}

func (p *Proxy) placeLeaf(h *handle, t cluster.Transform, dt float64) {
	buf := p.sim.Particles()
	for k, s := range h.samples {
		j := h.offset + k
		x := t.Apply(s)
		if dt > 0 {
			buf.V[j] = x.Sub(buf.X[j]).Mul(1 / dt)
		}
		buf.X[j] = x
		buf.P[j] = x
	}
	xcm := t.Apply(h.comLocal)
	if dt > 0 {
		h.motion.Vcm = xcm.Sub(h.motion.Xcm).Mul(1 / dt)
	}
	h.motion.Xcm = xcm
	h.transform = t
}

// setState changes the dynamic state of transform i and its descendants.
// Dynamic and sleeping bodies keep their mass; kinematic and static bodies
// are driven externally and get zero inverse mass.
func (p *Proxy) setState(i int, st particles.ObjectState) {
	if !st.Valid() || st == particles.StateUninitialized {
		return
	}
	h := &p.handles[i]
	h.state = st
	if !h.leaf {
		for _, ch := range h.children {
			p.setState(ch, st)
		}
		return
	}
	buf := p.sim.Particles()
	for _, j := range h.indices {
		switch st {
		case particles.StateDynamic, particles.StateSleeping:
			buf.SetMass(j, h.mass)
		default:
			buf.SetMass(j, 0)
		}
		if st != particles.StateDynamic {
			buf.V[j] = mgl64.Vec3{}
		}
	}
	if st != particles.StateDynamic {
		h.motion.Vcm = mgl64.Vec3{}
		h.motion.Omega = mgl64.Vec3{}
	}
	p.sim.View().ActivateRange(h.offset, p.simulating(h))
}

// setDisabled disables or re-enables transform i and its descendants.
func (p *Proxy) setDisabled(i int, disabled bool) {
	h := &p.handles[i]
	h.disabled = disabled
	if !h.leaf {
		for _, ch := range h.children {
			p.setDisabled(ch, disabled)
		}
		return
	}
	if disabled {
		buf := p.sim.Particles()
		for _, j := range h.indices {
			buf.V[j] = mgl64.Vec3{}
		}
		h.motion.Vcm = mgl64.Vec3{}
		h.motion.Omega = mgl64.Vec3{}
	}
	p.sim.View().ActivateRange(h.offset, p.simulating(h))
}

func (p *Proxy) setThresholds(i int, sleep, disable float64, setSleep bool) {
	h := &p.handles[i]
	if setSleep {
		h.sleepThreshold = sleep
	} else {
		h.disableThreshold = disable
	}
	for _, ch := range h.children {
		p.setThresholds(ch, sleep, disable, setSleep)
	}
}

// simulating reports whether a leaf's range takes part in the step.
func (p *Proxy) simulating(h *handle) bool {
	return !h.disabled && h.state != particles.StateSleeping
}

// translate moves transform i and its descendants by delta and stops them.
func (p *Proxy) translate(i int, delta mgl64.Vec3) {
	h := &p.handles[i]
	h.transform.Translation = h.transform.Translation.Add(delta)
	h.motion.Xcm = h.motion.Xcm.Add(delta)
	h.motion.Vcm = mgl64.Vec3{}
	h.motion.Omega = mgl64.Vec3{}
	if !h.leaf {
		for _, ch := range h.children {
			p.translate(ch, delta)
		}
		return
	}
	buf := p.sim.Particles()
	for _, j := range h.indices {
		buf.X[j] = buf.X[j].Add(delta)
		buf.P[j] = buf.X[j]
		buf.V[j] = mgl64.Vec3{}
	}
}

// advance sets a handle's motion from its particles and moves its transform:
// the rotation integrates the angular velocity over dt and the translation
// keeps the center of mass where the particles put it.
func advance(h *handle, m damping.Motion, dt float64) {
	if m.Mass == 0 {
		return
	}
	q := h.transform.Rotation
	if dt > 0 {
		spin := mgl64.Quat{V: m.Omega}.Mul(q).Scale(0.5 * dt)
		q = q.Add(spin).Normalize()
	}
	h.transform = cluster.Transform{Rotation: q, Translation: m.Xcm.Sub(q.Rotate(h.comLocal))}
	h.motion = m
}

// refreshClusters recomputes cluster motion and the derived disabled flag: a
// cluster is disabled when every descendant leaf is.
func (p *Proxy) refreshClusters(dt float64) {
	buf := p.sim.Particles()
	for i := range p.handles {
		h := &p.handles[i]
		if h.leaf {
			continue
		}
		p.leafScratch = p.working.Leaves(p.leafScratch[:0], i)
		disabled := true
		for _, l := range p.leafScratch {
			if !p.handles[l].disabled {
				disabled = false
				break
			}
		}
		h.disabled = disabled
		if h.state == particles.StateDynamic && !disabled {
			advance(h, damping.ComputeMotion(buf, h.indices), dt)
		}
	}
}

// updateBodies moves dynamic leaves to where their particles went and
// applies sleep and disable thresholds.
func (p *Proxy) updateBodies(dt float64) {
	buf := p.sim.Particles()
	for i := range p.handles {
		h := &p.handles[i]
		if !h.leaf || h.disabled || h.state != particles.StateDynamic {
			continue
		}
		advance(h, damping.ComputeMotion(buf, h.indices), dt)

		speed := h.motion.Vcm.Len()
		switch {
		case h.disableThreshold > 0 && speed < h.disableThreshold:
			p.setDisabled(i, true)
		case h.sleepThreshold > 0 && speed < h.sleepThreshold:
			p.setState(i, particles.StateSleeping)
		}
	}
	p.refreshClusters(dt)
}

// BufferPhysicsResults updates every handle from the step just taken and
// publishes a fresh snapshot for the consumer. It runs at the end of each
// simulation step.
func (p *Proxy) BufferPhysicsResults(timestamp int64, dt float64) {
	if p.sim == nil {
		return
	}
	p.updateBodies(dt)

	r := p.physics.Acquire()
	r.Timestamp = timestamp
	r.Time = p.sim.Time()
	r.DT = dt
	if cap(r.Transforms) < len(p.handles) {
		r.Transforms = make([]TransformResult, len(p.handles))
	}
	r.Transforms = r.Transforms[:len(p.handles)]
	for i := range p.handles {
		h := &p.handles[i]
		r.Transforms[i] = TransformResult{
			Transform:       h.transform,
			LinearVelocity:  h.motion.Vcm,
			AngularVelocity: h.motion.Omega,
			State:           h.state,
			Disabled:        h.disabled,
			Parent:          h.parent,
			Level:           h.level,
		}
	}
	p.physics.Publish(r)
}
