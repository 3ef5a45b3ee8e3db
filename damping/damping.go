// Package damping pulls particle velocities toward the rigid motion of their group.
package damping

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/pthm-cable/pbd/activeview"
	"github.com/pthm-cable/pbd/geometry"
	"github.com/pthm-cable/pbd/particles"
)

// minInertiaDet is the determinant below which the inertia matrix is treated
// as singular and the angular velocity as zero.
const minInertiaDet = 1e-12

// Motion is the aggregate rigid motion of a set of dynamic particles.
type Motion struct {
	Xcm   mgl64.Vec3
	Vcm   mgl64.Vec3
	Omega mgl64.Vec3
	Mass  float64
}

// RigidVelocity is the velocity implied by the motion at world point x:
// Vcm + Omega × (x − Xcm). The operand order is the physical one; the
// reversed (x − Xcm) × Omega would flip the rotational part.
func (m Motion) RigidVelocity(x mgl64.Vec3) mgl64.Vec3 {
	return m.Vcm.Add(m.Omega.Cross(x.Sub(m.Xcm)))
}

// accumulator gathers the sums behind a Motion in two passes: the first
// for the center of mass, the second for angular momentum and inertia.
type accumulator struct {
	mass float64
	mx   mgl64.Vec3
	mv   mgl64.Vec3

	l       mgl64.Vec3
	inertia mgl64.Mat3

	motion Motion
}

func (a *accumulator) reset() { *a = accumulator{} }

func (a *accumulator) addLinear(x, v mgl64.Vec3, m float64) {
	a.mass += m
	a.mx = a.mx.Add(x.Mul(m))
	a.mv = a.mv.Add(v.Mul(m))
}

func (a *accumulator) finishLinear() {
	a.motion = Motion{Mass: a.mass}
	if a.mass == 0 {
		return
	}
	a.motion.Xcm = a.mx.Mul(1 / a.mass)
	a.motion.Vcm = a.mv.Mul(1 / a.mass)
}

func (a *accumulator) addAngular(x, v mgl64.Vec3, m float64) {
	r := x.Sub(a.motion.Xcm)
	a.l = a.l.Add(r.Cross(v.Mul(m)))
	s := skew(r)
	a.inertia = a.inertia.Add(s.Transpose().Mul3(s).Mul(m))
}

func (a *accumulator) finishAngular() {
	det := a.inertia.Det()
	if !geometry.Finite(det) || math.Abs(det) <= minInertiaDet {
		a.motion.Omega = mgl64.Vec3{}
		return
	}
	omega := a.inertia.Inv().Mul3x1(a.l)
	if !geometry.Finite(omega[0]) || !geometry.Finite(omega[1]) || !geometry.Finite(omega[2]) {
		omega = mgl64.Vec3{}
	}
	a.motion.Omega = omega
}

// skew returns the cross-product matrix of r, so skew(r)*v == r x v.
func skew(r mgl64.Vec3) mgl64.Mat3 {
	return mgl64.Mat3{
		0, r[2], -r[1],
		-r[2], 0, r[0],
		r[1], -r[0], 0,
	}
}

func dynamic(p *particles.Buffer, i int) bool {
	return p.InvM[i] != 0
}

// ComputeMotion returns the aggregate motion of the dynamic particles in indices.
func ComputeMotion(p *particles.Buffer, indices []int) Motion {
	var a accumulator
	for _, i := range indices {
		if dynamic(p, i) {
			a.addLinear(p.X[i], p.V[i], p.M[i])
		}
	}
	a.finishLinear()
	for _, i := range indices {
		if dynamic(p, i) {
			a.addAngular(p.X[i], p.V[i], p.M[i])
		}
	}
	a.finishAngular()
	return a.motion
}

// DampSet damps every dynamic particle of indices toward the set's aggregate motion.
func DampSet(p *particles.Buffer, indices []int, coefficient float64) Motion {
	m := ComputeMotion(p, indices)
	if coefficient == 0 {
		return m
	}
	for _, i := range indices {
		if dynamic(p, i) {
			p.V[i] = damp(p.V[i], m.RigidVelocity(p.X[i]), coefficient)
		}
	}
	return m
}

func damp(v, target mgl64.Vec3, coefficient float64) mgl64.Vec3 {
	return v.Add(target.Sub(v).Mul(coefficient))
}

// PerGroup damps each particle toward the motion of its group. Coefficients
// are indexed by group; particles outside [0, len) are left alone.
type PerGroup struct {
	coefficients []float64
	groups       []accumulator
}

// NewPerGroup creates a damper sharing the caller's coefficient slice.
func NewPerGroup(coefficients []float64) *PerGroup {
	return &PerGroup{coefficients: coefficients}
}

// SetCoefficients replaces the group coefficient slice between steps.
func (d *PerGroup) SetCoefficients(coefficients []float64) {
	d.coefficients = coefficients
}

// Motion returns the motion computed for group g at the last update.
func (d *PerGroup) Motion(g int32) Motion {
	if g < 0 || int(g) >= len(d.groups) {
		return Motion{}
	}
	return d.groups[g].motion
}

func (d *PerGroup) group(g int32) *accumulator {
	if g < 0 || int(g) >= len(d.groups) {
		return nil
	}
	return &d.groups[g]
}

// UpdatePositionBasedState recomputes the motion of every group from the
// active particles of view. It runs sequentially; the per-particle pass that
// follows can run in parallel.
func (d *PerGroup) UpdatePositionBasedState(view *activeview.View[*particles.Buffer]) {
	if cap(d.groups) < len(d.coefficients) {
		d.groups = make([]accumulator, len(d.coefficients))
	}
	d.groups = d.groups[:len(d.coefficients)]
	for i := range d.groups {
		d.groups[i].reset()
	}

	view.SequentialFor(func(p *particles.Buffer, i int) {
		if a := d.group(p.Group[i]); a != nil && dynamic(p, i) {
			a.addLinear(p.X[i], p.V[i], p.M[i])
		}
	})
	for i := range d.groups {
		d.groups[i].finishLinear()
	}

	view.SequentialFor(func(p *particles.Buffer, i int) {
		if a := d.group(p.Group[i]); a != nil && dynamic(p, i) {
			a.addAngular(p.X[i], p.V[i], p.M[i])
		}
	})
	for i := range d.groups {
		d.groups[i].finishAngular()
	}
}

// Apply damps particle i toward its group's motion.
func (d *PerGroup) Apply(p *particles.Buffer, i int) {
	if !dynamic(p, i) {
		return
	}
	g := p.Group[i]
	a := d.group(g)
	if a == nil {
		return
	}
	c := d.coefficients[g]
	if c == 0 {
		return
	}
	p.V[i] = damp(p.V[i], a.motion.RigidVelocity(p.X[i]), c)
}

// ApplyAll damps every active particle of view.
func (d *PerGroup) ApplyAll(view *activeview.View[*particles.Buffer], minBatch int) {
	view.ParallelFor(d.Apply, minBatch)
}
