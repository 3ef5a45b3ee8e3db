package field

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/pthm-cable/pbd/activeview"
	"github.com/pthm-cable/pbd/particles"
)

// ParticleSource resolves commands directly against a flat particle buffer.
// A flat buffer has no hierarchy, so every resolution except Minimal selects
// every particle; Minimal selects the particles of active ranges.
type ParticleSource struct {
	Particles *particles.Buffer
	View      *activeview.View[*particles.Buffer]

	state    []particles.ObjectState
	restMass []float64
}

// NewParticleSource wraps a buffer and its view. Masses at this point are kept
// so that a particle made kinematic by a field can be made dynamic again.
func NewParticleSource(p *particles.Buffer, view *activeview.View[*particles.Buffer]) *ParticleSource {
	s := &ParticleSource{Particles: p, View: view}
	s.Sync()
	return s
}

// Sync extends the state tables to particles added since the last call.
func (s *ParticleSource) Sync() {
	for i := len(s.state); i < s.Particles.Len(); i++ {
		st := particles.StateDynamic
		if s.Particles.IsKinematic(i) {
			st = particles.StateKinematic
		}
		s.state = append(s.state, st)
		s.restMass = append(s.restMass, s.Particles.M[i])
	}
	if len(s.state) > s.Particles.Len() {
		s.state = s.state[:s.Particles.Len()]
		s.restMass = s.restMass[:s.Particles.Len()]
	}
}

// State returns the object state of particle i.
func (s *ParticleSource) State(i int) particles.ObjectState { return s.state[i] }

func (s *ParticleSource) NumSamples() int { return s.Particles.Len() }

func (s *ParticleSource) SamplePosition(i int) mgl64.Vec3 { return s.Particles.X[i] }

func (s *ParticleSource) AppendRelevant(dst []int, r Resolution) []int {
	if r == ResolutionMinimal && s.View != nil {
		s.View.RangeFor(func(lo, hi int) {
			for i := lo; i < hi; i++ {
				dst = append(dst, i)
			}
		})
		return dst
	}
	for i := 0; i < s.Particles.Len(); i++ {
		dst = append(dst, i)
	}
	return dst
}

func (s *ParticleSource) Passes(i int, f Filter) bool {
	st := s.state[i]
	switch f {
	case FilterActive:
		return st == particles.StateDynamic && (s.View == nil || s.View.IsActive(i))
	case FilterDynamic:
		return st == particles.StateDynamic
	case FilterKinematic:
		return st == particles.StateKinematic
	case FilterStatic:
		return st == particles.StateStatic
	}
	return true
}

// ApplyToParticles copies results into particle state: velocities, pinned
// positions, collision groups, dynamic state and kill flags from parameter
// results, and accumulated forces into F. Point particles carry no torque and
// thresholds have no per-particle meaning, so those results are ignored.
func ApplyToParticles(s *ParticleSource, res *Results) {
	p := s.Particles

	for _, r := range res.Vector(TargetLinearVelocity) {
		p.V[r.Index] = r.Value
	}
	if p.Caps().HasRotation {
		for _, r := range res.Vector(TargetAngularVelocity) {
			p.W[r.Index] = r.Value
		}
	}
	for _, r := range res.Vector(TargetPositionTarget) {
		p.X[r.Index] = r.Value
		p.P[r.Index] = r.Value
		p.V[r.Index] = mgl64.Vec3{}
	}
	for _, r := range res.Integer(TargetCollisionGroup) {
		p.CollisionGroup[r.Index] = r.Value
	}
	for _, r := range res.Integer(TargetDynamicState) {
		s.setState(r.Index, particles.ObjectState(r.Value))
	}
	for _, r := range res.Integer(TargetKill) {
		if r.Value != 0 {
			s.setState(r.Index, particles.StateStatic)
			p.CollisionGroup[r.Index] = -1
		}
	}

	if res.HasForces() {
		for i := range res.Force {
			if i < p.Len() && !p.IsKinematic(i) {
				p.F[i] = p.F[i].Add(res.Force[i])
			}
		}
	}
}

func (s *ParticleSource) setState(i int, st particles.ObjectState) {
	if !st.Valid() || st == particles.StateUninitialized || s.state[i] == st {
		return
	}
	p := s.Particles
	s.state[i] = st
	switch st {
	case particles.StateDynamic:
		p.SetMass(i, s.restMass[i])
	default:
		p.SetMass(i, 0)
		p.V[i] = mgl64.Vec3{}
	}
}
