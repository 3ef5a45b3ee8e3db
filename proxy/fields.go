package proxy

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/pthm-cable/pbd/cluster"
	"github.com/pthm-cable/pbd/field"
	"github.com/pthm-cable/pbd/particles"
)

// handleSource resolves field commands against a proxy's handles. Samples are
// the handles' centers of mass.
type handleSource struct {
	p *Proxy
}

func (s handleSource) NumSamples() int { return len(s.p.handles) }

func (s handleSource) SamplePosition(i int) mgl64.Vec3 { return s.p.handles[i].motion.Xcm }

// AppendRelevant selects enabled leaves for Minimal, roots for
// DisabledParents and every handle for Maximum.
func (s handleSource) AppendRelevant(dst []int, r field.Resolution) []int {
	for i := range s.p.handles {
		h := &s.p.handles[i]
		switch r {
		case field.ResolutionMinimal:
			if !h.leaf || h.disabled {
				continue
			}
		case field.ResolutionDisabledParents:
			if h.parent != cluster.None {
				continue
			}
		}
		dst = append(dst, i)
	}
	return dst
}

func (s handleSource) Passes(i int, f field.Filter) bool {
	h := &s.p.handles[i]
	switch f {
	case field.FilterActive:
		return h.state == particles.StateDynamic && !h.disabled
	case field.FilterDynamic:
		return h.state == particles.StateDynamic
	case field.FilterKinematic:
		return h.state == particles.StateKinematic
	case field.FilterStatic:
		return h.state == particles.StateStatic
	}
	return true
}

// FieldParameterUpdate evaluates the queued parameter commands against the
// handles and applies the results.
func (p *Proxy) FieldParameterUpdate() {
	if p.sim == nil || p.fields.NumTransient()+p.fields.NumPersistent() == 0 {
		return
	}
	res := &p.fieldResults
	res.ResetParameters()
	p.fields.ParameterUpdate(p.source, p.sim.Time(), res)
	p.applyParameters(res)
}

// FieldForcesUpdate evaluates the queued force commands and adds the results
// to the particles' force accumulators.
func (p *Proxy) FieldForcesUpdate() {
	if p.sim == nil || p.fields.NumTransient()+p.fields.NumPersistent() == 0 {
		return
	}
	res := &p.fieldResults
	res.ResetForces(len(p.handles))
	p.fields.ForcesUpdate(p.source, p.sim.Time(), res)
	p.applyForces(res)
}

func (p *Proxy) applyParameters(res *field.Results) {
	buf := p.sim.Particles()

	for _, r := range res.Vector(field.TargetLinearVelocity) {
		h := &p.handles[r.Index]
		for _, j := range h.indices {
			if !buf.IsKinematic(j) {
				buf.V[j] = r.Value
			}
		}
		h.motion.Vcm = r.Value
	}
	for _, r := range res.Vector(field.TargetAngularVelocity) {
		h := &p.handles[r.Index]
		for _, j := range h.indices {
			if !buf.IsKinematic(j) {
				buf.V[j] = h.motion.Vcm.Add(r.Value.Cross(buf.X[j].Sub(h.motion.Xcm)))
			}
		}
		h.motion.Omega = r.Value
	}
	for _, r := range res.Vector(field.TargetPositionTarget) {
		p.translate(r.Index, r.Value.Sub(p.handles[r.Index].motion.Xcm))
	}
	for _, r := range res.Integer(field.TargetCollisionGroup) {
		for _, j := range p.handles[r.Index].indices {
			buf.CollisionGroup[j] = r.Value
		}
	}
	for _, r := range res.Integer(field.TargetDynamicState) {
		p.setState(r.Index, particles.ObjectState(r.Value))
	}
	for _, r := range res.Integer(field.TargetKill) {
		if r.Value != 0 {
			p.setDisabled(r.Index, true)
		}
	}
	for _, r := range res.Scalar(field.TargetSleepingThreshold) {
		p.setThresholds(r.Index, r.Value, 0, true)
	}
	for _, r := range res.Scalar(field.TargetDisableThreshold) {
		p.setThresholds(r.Index, 0, r.Value, false)
	}
}

// applyForces spreads each handle's force evenly over its dynamic particles
// and turns its torque into tangential particle forces about the center of
// mass.
func (p *Proxy) applyForces(res *field.Results) {
	if !res.HasForces() {
		return
	}
	buf := p.sim.Particles()
	for i := range p.handles {
		h := &p.handles[i]
		f, tau := res.Force[i], res.Torque[i]
		if f == (mgl64.Vec3{}) && tau == (mgl64.Vec3{}) {
			continue
		}

		var n int
		var arm float64
		for _, j := range h.indices {
			if !buf.IsKinematic(j) {
				n++
				arm += buf.X[j].Sub(h.motion.Xcm).LenSqr()
			}
		}
		if n == 0 {
			continue
		}
		share := f.Mul(1 / float64(n))
		for _, j := range h.indices {
			if buf.IsKinematic(j) {
				continue
			}
			fj := share
			if arm > 0 {
				fj = fj.Add(tau.Cross(buf.X[j].Sub(h.motion.Xcm)).Mul(1 / arm))
			}
			buf.F[j] = buf.F[j].Add(fj)
		}
	}
}
