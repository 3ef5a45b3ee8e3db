package field

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/pthm-cable/pbd/activeview"
	"github.com/pthm-cable/pbd/parallel"
	"github.com/pthm-cable/pbd/particles"
)

// lineSource returns n particles along X with ranges [0,4) active, [4,7)
// inactive and the rest active.
func lineSource(t *testing.T, n int, pool *parallel.Pool) *ParticleSource {
	t.Helper()
	p := particles.NewBuffer(particles.KindDynamic)
	p.Add(n)
	for i := range p.X {
		p.X[i] = mgl64.Vec3{float64(i), 0, 0}
	}
	view := activeview.New(p, pool)
	view.AddRange(4, true)
	view.AddRange(3, false)
	view.AddRange(n-7, true)
	return NewParticleSource(p, view)
}

func TestMinimalSubsetOfMaximum(t *testing.T) {
	src := lineSource(t, 12, nil)
	src.Particles.SetMass(1, 0)
	src = NewParticleSource(src.Particles, src.View)
	sys := NewSystem(nil, 0, nil)

	for _, f := range []Filter{FilterAll, FilterActive, FilterDynamic, FilterKinematic} {
		t.Run(f.String(), func(t *testing.T) {
			cmd := NewVectorCommand(TargetLinearVelocity, UniformVector{1, mgl64.Vec3{1, 0, 0}}).WithFilter(f)
			minimal := sys.Resolve(src, cmd.WithResolution(ResolutionMinimal))
			maximal := sys.Resolve(src, cmd.WithResolution(ResolutionMaximum))

			in := make(map[int]bool, len(maximal))
			for _, i := range maximal {
				in[i] = true
			}
			for _, i := range minimal {
				if !in[i] {
					t.Errorf("minimal index %d not in maximum set %v", i, maximal)
				}
			}
		})
	}

	all := sys.Resolve(src, NewVectorCommand(TargetLinearVelocity, UniformVector{}).WithResolution(ResolutionMaximum))
	if len(all) != 12 {
		t.Errorf("maximum resolved %d particles, want 12", len(all))
	}
	active := sys.Resolve(src, NewVectorCommand(TargetLinearVelocity, UniformVector{}))
	if len(active) != 9 {
		t.Errorf("minimal resolved %d particles, want 9", len(active))
	}
}

func TestFilters(t *testing.T) {
	src := lineSource(t, 10, nil)
	src.Particles.SetMass(0, 0)
	src = NewParticleSource(src.Particles, src.View)
	sys := NewSystem(nil, 0, nil)

	tests := []struct {
		filter Filter
		want   int
	}{
		{FilterAll, 10},
		{FilterActive, 6},    // Active ranges minus kinematic 0
		{FilterDynamic, 9},   // Inactive ranges still dynamic
		{FilterKinematic, 1}, // Particle 0
		{FilterStatic, 0},
	}
	for _, tc := range tests {
		t.Run(tc.filter.String(), func(t *testing.T) {
			cmd := NewVectorCommand(TargetLinearVelocity, UniformVector{}).
				WithResolution(ResolutionMaximum).
				WithFilter(tc.filter)
			if got := len(sys.Resolve(src, cmd)); got != tc.want {
				t.Errorf("resolved %d, want %d", got, tc.want)
			}
		})
	}
}

func TestTransientConsumed(t *testing.T) {
	src := lineSource(t, 8, nil)
	sys := NewSystem(nil, 0, nil)
	var res Results

	sys.AddTransientCommand(NewVectorCommand(TargetLinearVelocity, UniformVector{2, mgl64.Vec3{0, 0, 1}}))
	sys.AddTransientCommand(NewVectorCommand(TargetLinearForce, UniformVector{1, mgl64.Vec3{1, 0, 0}}))

	sys.ParameterUpdate(src, 0, &res)
	if got := len(res.Vector(TargetLinearVelocity)); got != 5 {
		t.Fatalf("velocity results = %d, want 5", got)
	}
	if sys.NumTransient() != 1 {
		t.Fatalf("transient queue = %d, want the force command left", sys.NumTransient())
	}

	sys.ForcesUpdate(src, 0, &res)
	if sys.NumTransient() != 0 {
		t.Errorf("transient queue = %d after forces update", sys.NumTransient())
	}

	sys.ParameterUpdate(src, 0, &res)
	if got := len(res.Vector(TargetLinearVelocity)); got != 0 {
		t.Errorf("consumed command produced %d results", got)
	}
}

func TestPersistentKeptUntilRemoved(t *testing.T) {
	src := lineSource(t, 8, nil)
	sys := NewSystem(nil, 0, nil)
	var res Results

	cmd := NewScalarCommand(TargetSleepingThreshold, UniformScalar{0.3})
	sys.AddPersistentCommand(cmd)

	for step := 0; step < 3; step++ {
		sys.ParameterUpdate(src, float64(step), &res)
		if got := len(res.Scalar(TargetSleepingThreshold)); got != 5 {
			t.Fatalf("step %d: %d results, want 5", step, got)
		}
	}

	sys.RemoveTransientCommand(cmd)
	if sys.NumPersistent() != 1 {
		t.Fatal("removing from the wrong queue should be a no-op")
	}
	sys.RemovePersistentCommand(cmd)
	sys.RemovePersistentCommand(cmd)
	sys.ParameterUpdate(src, 3, &res)
	if got := len(res.Scalar(TargetSleepingThreshold)); got != 0 {
		t.Errorf("removed command produced %d results", got)
	}
}

func TestNilEvaluatorDropped(t *testing.T) {
	src := lineSource(t, 8, nil)
	sys := NewSystem(nil, 0, nil)
	var res Results

	sys.AddTransientCommand(&Command{Target: TargetLinearVelocity})
	sys.AddPersistentCommand(&Command{Target: TargetKill, Vector: UniformVector{}})
	sys.AddPersistentCommand(&Command{Target: TargetLinearForce})
	sys.AddTransientCommand(nil)

	sys.ParameterUpdate(src, 0, &res)
	sys.ForcesUpdate(src, 0, &res)

	if sys.NumTransient() != 0 || sys.NumPersistent() != 0 {
		t.Errorf("queues = %d/%d, want empty", sys.NumTransient(), sys.NumPersistent())
	}
	if len(res.Vector(TargetLinearVelocity)) != 0 || len(res.Integer(TargetKill)) != 0 {
		t.Error("dropped commands wrote results")
	}
	if res.HasForces() {
		t.Error("dropped force command touched accumulators")
	}
}

func TestForcesAdditive(t *testing.T) {
	src := lineSource(t, 8, nil)
	sys := NewSystem(nil, 0, nil)
	var res Results

	sys.AddPersistentCommand(NewVectorCommand(TargetLinearForce, UniformVector{1, mgl64.Vec3{1, 0, 0}}))
	sys.AddPersistentCommand(NewVectorCommand(TargetLinearForce, UniformVector{2, mgl64.Vec3{0, 1, 0}}))
	sys.AddPersistentCommand(NewVectorCommand(TargetAngularTorque, UniformVector{3, mgl64.Vec3{0, 0, 1}}))

	for step := 0; step < 2; step++ {
		sys.ForcesUpdate(src, 0, &res)
		if !res.HasForces() {
			t.Fatal("expected forces")
		}
		for i := 0; i < 8; i++ {
			want := mgl64.Vec3{1, 2, 0}
			if i >= 4 && i < 7 {
				want = mgl64.Vec3{}
			}
			if res.Force[i] != want {
				t.Errorf("step %d force[%d] = %v, want %v", step, i, res.Force[i], want)
			}
		}
		if res.Torque[0] != (mgl64.Vec3{0, 0, 3}) {
			t.Errorf("torque[0] = %v", res.Torque[0])
		}
	}
}

func TestEvaluationTimeSinceCreation(t *testing.T) {
	src := lineSource(t, 8, nil)
	sys := NewSystem(nil, 0, nil)
	var res Results

	elapsed := ScalarFunc(func(_ Sample, t float64) float64 { return t })
	sys.AddTransientCommand(NewScalarCommand(TargetDisableThreshold, elapsed).At(1.5))
	sys.ParameterUpdate(src, 4, &res)

	for _, r := range res.Scalar(TargetDisableThreshold) {
		if math.Abs(r.Value-2.5) > 1e-12 {
			t.Fatalf("elapsed = %v, want 2.5", r.Value)
		}
	}
}

func TestParallelEvaluationMatchesSerial(t *testing.T) {
	pool := parallel.NewPool(4)
	defer pool.Stop()

	src := lineSource(t, 5000, pool)
	node := ScaledVector{
		Scalar: RadialFalloff{Magnitude: 2, Position: mgl64.Vec3{100, 0, 0}, Radius: 3000, Falloff: FalloffLinear},
		Vector: RadialVector{Magnitude: 1, Position: mgl64.Vec3{-1, 0, 0}},
	}

	serial := NewSystem(nil, 0, nil)
	par := NewSystem(pool, 64, nil)
	var rs, rp Results

	serial.AddTransientCommand(NewVectorCommand(TargetLinearVelocity, node))
	par.AddTransientCommand(NewVectorCommand(TargetLinearVelocity, node))
	serial.ParameterUpdate(src, 0, &rs)
	par.ParameterUpdate(src, 0, &rp)

	a, b := rs.Vector(TargetLinearVelocity), rp.Vector(TargetLinearVelocity)
	if len(a) != len(b) || len(a) == 0 {
		t.Fatalf("result counts %d vs %d", len(a), len(b))
	}
	for k := range a {
		if a[k] != b[k] {
			t.Fatalf("result %d: serial %v parallel %v", k, a[k], b[k])
		}
	}
}

func TestApplyToParticles(t *testing.T) {
	src := lineSource(t, 8, nil)
	p := src.Particles
	p.SetMass(2, 3)
	src = NewParticleSource(p, src.View)

	sys := NewSystem(nil, 0, nil)
	var res Results

	sys.AddTransientCommand(NewVectorCommand(TargetLinearVelocity, UniformVector{1, mgl64.Vec3{0, 1, 0}}))
	sys.AddTransientCommand(NewIntegerCommand(TargetDynamicState, RadialIntMask{
		Position: mgl64.Vec3{2, 0, 0},
		Radius:   0.5,
		Inside:   int32(particles.StateKinematic),
		Outside:  int32(particles.StateDynamic),
	}))
	sys.AddTransientCommand(NewIntegerCommand(TargetCollisionGroup, UniformInteger{-1}).WithResolution(ResolutionMaximum))
	sys.AddTransientCommand(NewVectorCommand(TargetLinearForce, UniformVector{5, mgl64.Vec3{0, 0, -1}}))

	sys.ParameterUpdate(src, 0, &res)
	sys.ForcesUpdate(src, 0, &res)
	ApplyToParticles(src, &res)

	if p.V[0] != (mgl64.Vec3{0, 1, 0}) {
		t.Errorf("velocity = %v", p.V[0])
	}
	if !p.IsKinematic(2) || p.V[2] != (mgl64.Vec3{}) {
		t.Errorf("particle 2 should be kinematic at rest, invM=%v v=%v", p.InvM[2], p.V[2])
	}
	if src.State(2) != particles.StateKinematic {
		t.Errorf("state = %v", src.State(2))
	}
	if p.CollisionGroup[5] != -1 {
		t.Errorf("collision group = %d", p.CollisionGroup[5])
	}
	if p.F[0] != (mgl64.Vec3{0, 0, -5}) {
		t.Errorf("force = %v", p.F[0])
	}
	if p.F[2] != (mgl64.Vec3{}) {
		t.Errorf("kinematic particle received force %v", p.F[2])
	}

	sys.AddTransientCommand(NewIntegerCommand(TargetDynamicState, UniformInteger{int32(particles.StateDynamic)}).
		WithResolution(ResolutionMaximum))
	sys.ParameterUpdate(src, 0, &res)
	ApplyToParticles(src, &res)
	if p.M[2] != 3 || p.IsKinematic(2) {
		t.Errorf("mass not restored: m=%v", p.M[2])
	}
}

func TestNodes(t *testing.T) {
	samples := []Sample{
		{0, mgl64.Vec3{0, 0, 0}},
		{1, mgl64.Vec3{1, 0, 0}},
		{2, mgl64.Vec3{0, 0, -0.5}},
		{3, mgl64.Vec3{3, 0, 0}},
	}
	ctx := &Context{Samples: samples}
	out := make([]float64, len(samples))

	tests := []struct {
		name string
		node ScalarNode
		want []float64
	}{
		{"radial linear", RadialFalloff{Magnitude: 4, Radius: 2, Falloff: FalloffLinear}, []float64{4, 2, 3, 0}},
		{"radial none", RadialFalloff{Magnitude: 4, Radius: 2}, []float64{4, 4, 4, 0}},
		{"plane", PlaneFalloff{Magnitude: 1, Normal: mgl64.Vec3{0, 0, 1}, Distance: 1, Falloff: FalloffLinear}, []float64{1, 1, 0.5, 1}},
		{"box", BoxFalloff{Magnitude: 2, Min: mgl64.Vec3{-2, -1, -1}, Max: mgl64.Vec3{2, 1, 1}, Falloff: FalloffLinear}, []float64{2, 1, 1, 0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.node.EvaluateScalar(ctx, out)
			for i := range out {
				if math.Abs(out[i]-tc.want[i]) > 1e-12 {
					t.Errorf("sample %d = %v, want %v", i, out[i], tc.want[i])
				}
			}
		})
	}
}

func TestNoiseRange(t *testing.T) {
	n := NewNoise(42, -1, 3, 0.7)
	n.Speed = 1
	samples := make([]Sample, 200)
	for i := range samples {
		samples[i] = Sample{Index: i, Position: mgl64.Vec3{float64(i) * 0.13, float64(i%7) * 0.5, 1}}
	}
	out := make([]float64, len(samples))
	n.EvaluateScalar(&Context{Time: 2, Samples: samples}, out)

	distinct := map[float64]bool{}
	for i, v := range out {
		if v < -1 || v > 3 {
			t.Fatalf("sample %d = %v outside [-1, 3]", i, v)
		}
		distinct[v] = true
	}
	if len(distinct) < 10 {
		t.Errorf("noise looks constant: %d distinct values", len(distinct))
	}
}

func TestVectorCombinators(t *testing.T) {
	ctx := &Context{Samples: []Sample{{0, mgl64.Vec3{2, 0, 0}}, {1, mgl64.Vec3{}}}}
	out := make([]mgl64.Vec3, 2)

	SumVector{
		UniformVector{1, mgl64.Vec3{0, 1, 0}},
		RadialVector{Magnitude: 2},
	}.EvaluateVector(ctx, out)
	if out[0] != (mgl64.Vec3{2, 1, 0}) || out[1] != (mgl64.Vec3{0, 1, 0}) {
		t.Errorf("sum = %v", out)
	}

	ScaledVector{
		Scalar: UniformScalar{0.5},
		Vector: UniformVector{4, mgl64.Vec3{1, 0, 0}},
	}.EvaluateVector(ctx, out)
	if out[0] != (mgl64.Vec3{2, 0, 0}) {
		t.Errorf("scaled = %v", out[0])
	}
}
