package damping

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/pthm-cable/pbd/activeview"
	"github.com/pthm-cable/pbd/parallel"
	"github.com/pthm-cable/pbd/particles"
)

func vecNear(a, b mgl64.Vec3, tol float64) bool {
	return math.Abs(a[0]-b[0]) <= tol && math.Abs(a[1]-b[1]) <= tol && math.Abs(a[2]-b[2]) <= tol
}

// unitSquare returns four unit-mass particles at the corners of a unit square
// in group 0, the first moving along +X.
func unitSquare() (*particles.Buffer, *activeview.View[*particles.Buffer]) {
	p := particles.NewBuffer(particles.KindDynamic)
	p.Add(4)
	p.X[0] = mgl64.Vec3{0, 0, 0}
	p.X[1] = mgl64.Vec3{1, 0, 0}
	p.X[2] = mgl64.Vec3{1, 1, 0}
	p.X[3] = mgl64.Vec3{0, 1, 0}
	p.V[0] = mgl64.Vec3{1, 0, 0}
	for i := range p.Group {
		p.Group[i] = 0
	}
	view := activeview.New(p, nil)
	view.AddRange(4, true)
	return p, view
}

func TestZeroCoefficientLeavesVelocities(t *testing.T) {
	p, view := unitSquare()
	before := append([]mgl64.Vec3(nil), p.V...)

	d := NewPerGroup([]float64{0})
	d.UpdatePositionBasedState(view)
	d.ApplyAll(view, 1)

	for i := range before {
		if p.V[i] != before[i] {
			t.Errorf("particle %d velocity changed: %v -> %v", i, before[i], p.V[i])
		}
	}
}

func TestSingleParticleGetsCenterOfMassVelocity(t *testing.T) {
	p := particles.NewBuffer(particles.KindDynamic)
	p.Add(1)
	p.Group[0] = 0
	p.X[0] = mgl64.Vec3{3, -2, 1}
	p.V[0] = mgl64.Vec3{0.5, 1.5, -2}
	p.SetMass(0, 2.5)
	view := activeview.New(p, nil)
	view.AddRange(1, true)

	d := NewPerGroup([]float64{1})
	d.UpdatePositionBasedState(view)
	m := d.Motion(0)
	if m.Omega != (mgl64.Vec3{}) {
		t.Errorf("singular inertia should give zero omega, got %v", m.Omega)
	}
	d.ApplyAll(view, 1)

	if !vecNear(p.V[0], m.Vcm, 1e-12) {
		t.Errorf("velocity = %v, want Vcm %v", p.V[0], m.Vcm)
	}
}

func TestUnitSquareMotion(t *testing.T) {
	p, view := unitSquare()
	d := NewPerGroup([]float64{1})
	d.UpdatePositionBasedState(view)

	m := d.Motion(0)
	if !vecNear(m.Xcm, mgl64.Vec3{0.5, 0.5, 0}, 1e-12) {
		t.Errorf("Xcm = %v", m.Xcm)
	}
	if !vecNear(m.Vcm, mgl64.Vec3{0.25, 0, 0}, 1e-12) {
		t.Errorf("Vcm = %v, want (0.25, 0, 0)", m.Vcm)
	}
	if !vecNear(m.Omega, mgl64.Vec3{0, 0, 0.25}, 1e-12) {
		t.Errorf("Omega = %v, want (0, 0, 0.25)", m.Omega)
	}

	d.ApplyAll(view, 1)

	want := []mgl64.Vec3{
		{0.375, -0.125, 0},
		{0.375, 0.125, 0},
		{0.125, 0.125, 0},
		{0.125, -0.125, 0},
	}
	for i := range want {
		if !vecNear(p.V[i], want[i], 1e-12) {
			t.Errorf("particle %d velocity = %v, want %v", i, p.V[i], want[i])
		}
	}
}

func TestDampingConservesMomentum(t *testing.T) {
	tests := []struct {
		name        string
		coefficient float64
	}{
		{"light", 0.1},
		{"half", 0.5},
		{"full", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, view := unitSquare()
			p.V[2] = mgl64.Vec3{0, 0, 2}
			p.SetMass(3, 4)

			var before mgl64.Vec3
			for i := range p.V {
				before = before.Add(p.V[i].Mul(p.M[i]))
			}

			d := NewPerGroup([]float64{tc.coefficient})
			d.UpdatePositionBasedState(view)
			d.ApplyAll(view, 1)

			var after mgl64.Vec3
			for i := range p.V {
				after = after.Add(p.V[i].Mul(p.M[i]))
			}
			if !vecNear(before, after, 1e-9) {
				t.Errorf("momentum %v -> %v", before, after)
			}
		})
	}
}

func TestKinematicSkipped(t *testing.T) {
	p, view := unitSquare()
	p.SetMass(1, 0)
	p.V[1] = mgl64.Vec3{5, 5, 5}

	d := NewPerGroup([]float64{1})
	d.UpdatePositionBasedState(view)
	d.ApplyAll(view, 1)

	if p.V[1] != (mgl64.Vec3{5, 5, 5}) {
		t.Errorf("kinematic velocity changed to %v", p.V[1])
	}
	// Three unit masses, one moving at 1
	if !vecNear(d.Motion(0).Vcm, mgl64.Vec3{1.0 / 3, 0, 0}, 1e-12) {
		t.Errorf("Vcm = %v, kinematic particle should not contribute", d.Motion(0).Vcm)
	}
}

func TestGroupsIndependent(t *testing.T) {
	p := particles.NewBuffer(particles.KindDynamic)
	p.Add(4)
	p.Group[0], p.Group[1] = 0, 0
	p.Group[2], p.Group[3] = 1, particles.NoGroup
	p.X[1] = mgl64.Vec3{1, 0, 0}
	p.V[0] = mgl64.Vec3{2, 0, 0}
	p.V[2] = mgl64.Vec3{0, 7, 0}
	p.V[3] = mgl64.Vec3{0, 0, 9}

	pool := parallel.NewPool(2)
	defer pool.Stop()
	view := activeview.New(p, pool)
	view.AddRange(4, true)

	d := NewPerGroup([]float64{1, 1})
	d.UpdatePositionBasedState(view)
	d.ApplyAll(view, 1)

	for i := 0; i < 2; i++ {
		if !vecNear(p.V[i], mgl64.Vec3{1, 0, 0}, 1e-12) {
			t.Errorf("group 0 particle %d = %v, want (1, 0, 0)", i, p.V[i])
		}
	}
	if p.V[2] != (mgl64.Vec3{0, 7, 0}) {
		t.Errorf("single-particle group changed to %v", p.V[2])
	}
	if p.V[3] != (mgl64.Vec3{0, 0, 9}) {
		t.Errorf("ungrouped particle changed to %v", p.V[3])
	}
}

func TestDampSetMatchesPerGroup(t *testing.T) {
	p, view := unitSquare()
	q, _ := unitSquare()

	d := NewPerGroup([]float64{0.7})
	d.UpdatePositionBasedState(view)
	d.ApplyAll(view, 1)

	m := DampSet(q, []int{0, 1, 2, 3}, 0.7)
	if !vecNear(m.Omega, mgl64.Vec3{0, 0, 0.25}, 1e-12) {
		t.Errorf("DampSet omega = %v", m.Omega)
	}
	for i := range p.V {
		if !vecNear(p.V[i], q.V[i], 1e-12) {
			t.Errorf("particle %d: per-group %v, set %v", i, p.V[i], q.V[i])
		}
	}
}

func TestCoincidentParticlesZeroOmega(t *testing.T) {
	p := particles.NewBuffer(particles.KindDynamic)
	p.Add(3)
	for i := range p.X {
		p.X[i] = mgl64.Vec3{1, 1, 1}
		p.V[i] = mgl64.Vec3{float64(i), 0, 0}
	}
	m := ComputeMotion(p, []int{0, 1, 2})
	if m.Omega != (mgl64.Vec3{}) {
		t.Errorf("Omega = %v, want zero", m.Omega)
	}
	if !vecNear(m.Vcm, mgl64.Vec3{1, 0, 0}, 1e-12) {
		t.Errorf("Vcm = %v", m.Vcm)
	}
}

func TestRigidVelocityOperandOrder(t *testing.T) {
	m := Motion{Xcm: mgl64.Vec3{1, 1, 0}, Vcm: mgl64.Vec3{0, 0, 0.5}, Omega: mgl64.Vec3{0, 0, 2}}
	tests := []struct {
		name string
		x    mgl64.Vec3
		want mgl64.Vec3
	}{
		{"center", mgl64.Vec3{1, 1, 0}, mgl64.Vec3{0, 0, 0.5}},
		{"+x arm", mgl64.Vec3{2, 1, 0}, mgl64.Vec3{0, 2, 0.5}},
		{"+y arm", mgl64.Vec3{1, 2, 0}, mgl64.Vec3{-2, 0, 0.5}},
		{"on axis", mgl64.Vec3{1, 1, 3}, mgl64.Vec3{0, 0, 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.RigidVelocity(tt.x); !vecNear(got, tt.want, 1e-12) {
				t.Errorf("RigidVelocity(%v) = %v, want %v", tt.x, got, tt.want)
			}
		})
	}
}
